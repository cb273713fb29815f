// Package handler wires one client connection to one backend connection
// and drives decode, classify, forward and teardown for the pair.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	auditif "redis-proxy/interface/audit"
	"redis-proxy/interface/resp"

	"redis-proxy/audit"
	"redis-proxy/backend"
	"redis-proxy/policy"
	"redis-proxy/resp/connection"
	"redis-proxy/resp/parser"
	"redis-proxy/resp/reply"
)

const readChunkSize = 4 * 1024

// TenantFunc attributes an accepted connection to a tenant. The proxy
// treats the result as opaque; attribution is the surrounding service's
// problem.
type TenantFunc func(conn net.Conn) string

// Config tunes one proxy instance.
type Config struct {
	Backend backend.Config
	// IdleTimeout force-closes a pair whose sockets stay silent this
	// long. Zero disables it.
	IdleTimeout time.Duration
	// MaxLineLen caps RESP line scanning, see parser.DefaultMaxLineLen.
	MaxLineLen int
	// TenantFunc may be nil, leaving connections unattributed.
	TenantFunc TenantFunc
}

// ProxyHandler accepts client connections and runs one session per
// connection pair. It implements tcp.Handler.
type ProxyHandler struct {
	cfg        Config
	classifier *policy.Classifier
	emitter    *audit.Emitter
	logger     *slog.Logger
	parser     *parser.Parser

	activeSess sync.Map // *session -> struct{}
	closing    atomic.Bool
}

func MakeHandler(cfg Config, classifier *policy.Classifier, emitter *audit.Emitter, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{
		cfg:        cfg,
		classifier: classifier,
		emitter:    emitter,
		logger:     logger.With("component", "proxy"),
		parser:     parser.New(cfg.MaxLineLen),
	}
}

// session is one client/backend pair. Both relay directions share it;
// close is idempotent and tears down both sockets, so an error on either
// side promptly unblocks the other.
type session struct {
	client  *connection.Connection
	backend *backend.Conn

	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.client.Close()
		_ = s.backend.Close()
	})
}

// Handle runs one connection pair to completion.
func (h *ProxyHandler) Handle(ctx context.Context, conn net.Conn) {
	if h.closing.Load() {
		_ = conn.Close()
		return
	}
	var tenantID string
	if h.cfg.TenantFunc != nil {
		tenantID = h.cfg.TenantFunc(conn)
	}
	client := connection.NewConn(conn, tenantID)
	logger := h.logger.With(
		"conn_id", client.ID(),
		"remote_addr", client.RemoteAddr(),
		"tenant_id", tenantID)

	backendConn, err := backend.Connect(h.cfg.Backend)
	if err != nil {
		// The bare TCP close is the client's signal, same as an
		// unreachable server would produce.
		logger.Warn("backend connect failed", "error", err)
		_ = conn.Close()
		return
	}

	sess := &session{client: client, backend: backendConn}
	h.activeSess.Store(sess, struct{}{})
	logger.Info("session started", "backend_addr", backendConn.RemoteAddr())

	defer func() {
		sess.close()
		h.activeSess.Delete(sess)
		logger.Info("session closed")
	}()

	go h.relayBackend(sess, logger)
	h.relayClient(sess, logger)
}

// relayClient runs the client-to-backend direction: decode frames,
// classify commands, forward or block. It is the only goroutine mutating
// the connection state.
func (h *ProxyHandler) relayClient(sess *session, logger *slog.Logger) {
	defer sess.close()

	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		if h.cfg.IdleTimeout > 0 {
			_ = sess.client.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		}
		n, err := sess.client.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var pumpErr error
			buf, pumpErr = h.pump(sess, buf)
			if pumpErr != nil {
				logger.Warn("closing session", "error", pumpErr)
				return
			}
		}
		if err != nil {
			logReadEnd(logger, "client", err)
			return
		}
	}
}

// pump decodes and dispatches every complete frame at the front of buf and
// returns the undecoded remainder. Protocol errors and write failures are
// fatal for the pair.
func (h *ProxyHandler) pump(sess *session, buf []byte) ([]byte, error) {
	for len(buf) > 0 {
		frame, consumed, err := h.parser.Parse(buf)
		if errors.Is(err, parser.ErrIncomplete) {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		if err := h.dispatch(sess, frame, buf[:consumed]); err != nil {
			return nil, err
		}
		buf = buf[consumed:]
	}
	return buf, nil
}

// dispatch handles one decoded frame. raw holds the frame's original
// bytes; forwarding always replays those, never a re-encoding, so frame
// boundaries are the only thing the decoder decides.
func (h *ProxyHandler) dispatch(sess *session, frame resp.Reply, raw []byte) error {
	cmd, ok := frame.(*reply.MultiBulkReply)
	if !ok {
		// Not a command shape. The proxy is transparent for anything
		// it does not block, so relay it untouched.
		return sess.backend.Forward(raw)
	}
	decision := h.classifier.Classify(sess.client, cmd.Args)
	if decision.Blocked() {
		h.emitter.EmitCommand(sess.client, cmd.Args, auditif.OutcomeBlocked)
		errReply := reply.MakeErrReply("ERR " + decision.Reason)
		return sess.client.Write(errReply.ToBytes())
	}
	if err := sess.backend.Forward(raw); err != nil {
		return err
	}
	policy.UpdateState(sess.client, cmd.Args)
	h.emitter.EmitCommand(sess.client, cmd.Args, auditif.OutcomeForwarded)
	return nil
}

// relayBackend copies backend bytes to the client unmodified.
func (h *ProxyHandler) relayBackend(sess *session, logger *slog.Logger) {
	defer sess.close()

	chunk := make([]byte, readChunkSize)
	for {
		if h.cfg.IdleTimeout > 0 {
			_ = sess.backend.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		}
		n, err := sess.backend.Read(chunk)
		if n > 0 {
			if werr := sess.client.Write(chunk[:n]); werr != nil {
				logReadEnd(logger, "backend", werr)
				return
			}
		}
		if err != nil {
			logReadEnd(logger, "backend", err)
			return
		}
	}
}

// Close stops accepting work and tears down every live pair.
func (h *ProxyHandler) Close() error {
	h.logger.Info("proxy handler shutting down")
	h.closing.Store(true)
	h.activeSess.Range(func(key, value any) bool {
		key.(*session).close()
		return true
	})
	return nil
}

// ActiveSessions counts the live connection pairs.
func (h *ProxyHandler) ActiveSessions() int {
	count := 0
	h.activeSess.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

func logReadEnd(logger *slog.Logger, side string, err error) {
	if isExpectedClose(err) {
		logger.Debug("connection closed", "side", side)
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		logger.Info("idle timeout exceeded", "side", side)
		return
	}
	logger.Warn("relay ended", "side", side, "error", err)
}

// isExpectedClose matches the errors produced by normal teardown: the peer
// hanging up or the paired direction closing our own socket.
func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
