// Package backend owns the proxy's outbound side: one connection to the
// real store per proxied client, plus pooled probe clients for health
// checking.
package backend

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"redis-proxy/resp/reply"
)

// Config carries everything needed to reach the backend store. It is
// passed explicitly at construction so multiple independently configured
// proxies can live in one process.
type Config struct {
	Addr        string
	Password    string
	DialTimeout time.Duration
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("backend address is required")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return nil
}

// Conn is the outbound half of one proxied connection pair. It forwards
// client-originated bytes unmodified and exposes the backend's byte stream
// for the reverse relay.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	addr string

	closeOnce sync.Once
}

// Connect dials the backend and, when a password is configured, replays a
// framed AUTH before any client bytes, so the backend session is
// authenticated regardless of whether the client ever authenticates.
// A failed dial is fatal for the paired client connection.
func Connect(cfg Config) (*Conn, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	netConn, err := net.DialTimeout("tcp", cfg.Addr, cfg.DialTimeout)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "dialing backend %v", cfg.Addr)
	}
	c := &Conn{
		conn: netConn,
		br:   bufio.NewReader(netConn),
		addr: cfg.Addr,
	}
	if cfg.Password != "" {
		if err := c.authenticate(cfg.Password, cfg.DialTimeout); err != nil {
			_ = c.Close()
			return nil, trace.Wrap(err)
		}
	}
	return c, nil
}

func (c *Conn) authenticate(password string, timeout time.Duration) error {
	cmd := reply.MakeMultiBulkReply([][]byte{[]byte("AUTH"), []byte(password)})
	if err := c.Forward(cmd.ToBytes()); err != nil {
		return trace.Wrap(err)
	}
	// AUTH answers with a single line, +OK or an error.
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})
	line, err := c.br.ReadBytes('\n')
	if err != nil {
		return trace.ConnectionProblem(err, "reading AUTH reply from %v", c.addr)
	}
	if len(line) > 0 && line[0] == '-' {
		return trace.AccessDenied("backend rejected AUTH: %v",
			string(bytes.TrimRight(line[1:], "\r\n")))
	}
	return nil
}

// Forward sends client-originated bytes toward the backend.
func (c *Conn) Forward(b []byte) error {
	_, err := c.conn.Write(b)
	return trace.Wrap(err)
}

// Read yields backend-originated bytes for the reverse relay. It reads
// through the same buffered reader used during AUTH so no reply bytes are
// lost.
func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// SetReadDeadline bounds the next Read, used for the idle timeout.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Close shuts the backend socket. Repeated calls are no-ops.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return nil
}
