package backend

import (
	"time"

	"github.com/gravitational/trace"

	"redis-proxy/interface/resp"
	"redis-proxy/resp/parser"
	"redis-proxy/resp/reply"
)

const probeReplyTimeout = 3 * time.Second

// Probe is a minimal request/response client for health checking the
// backend. It rides on the same Conn as the data path but, unlike it,
// decodes the backend's replies.
type Probe struct {
	conn *Conn
	buf  []byte
}

// DialProbe connects and authenticates a probe client.
func DialProbe(cfg Config) (*Probe, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Probe{conn: conn}, nil
}

// Do sends one command and decodes one reply.
func (p *Probe) Do(args ...string) (resp.Reply, error) {
	cmdLine := make([][]byte, len(args))
	for i, arg := range args {
		cmdLine[i] = []byte(arg)
	}
	if err := p.conn.Forward(reply.MakeMultiBulkReply(cmdLine).ToBytes()); err != nil {
		return nil, trace.Wrap(err)
	}
	_ = p.conn.SetReadDeadline(time.Now().Add(probeReplyTimeout))
	defer p.conn.SetReadDeadline(time.Time{})

	p.buf = p.buf[:0]
	chunk := make([]byte, 4096)
	for {
		n, err := p.conn.Read(chunk)
		if err != nil {
			return nil, trace.ConnectionProblem(err, "reading probe reply from %v", p.conn.RemoteAddr())
		}
		p.buf = append(p.buf, chunk[:n]...)
		result, _, err := parser.Parse(p.buf)
		if err == nil {
			return result, nil
		}
		if err != parser.ErrIncomplete {
			return nil, trace.Wrap(err)
		}
	}
}

// Ping checks liveness with a PING round trip.
func (p *Probe) Ping() error {
	result, err := p.Do("PING")
	if err != nil {
		return trace.Wrap(err)
	}
	if status, ok := result.(*reply.StatusReply); !ok || status.Status != "PONG" {
		return trace.ConnectionProblem(nil, "unexpected PING reply %q", string(result.ToBytes()))
	}
	return nil
}

func (p *Probe) Close() error {
	return p.conn.Close()
}
