// Package connection tracks per-client protocol state for the proxy.
package connection

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"redis-proxy/interface/resp"
)

// Connection wraps one accepted client socket together with the protocol
// state observed on it. It lives exactly as long as its client/backend
// pair: created on accept, discarded on teardown.
//
// The state fields are mutated only by the goroutine driving the
// client-to-backend direction, so they carry no locks. Write is the one
// concurrent entry point and is serialized with a mutex, because both the
// backend relay and synthesized error replies target the client socket.
type Connection struct {
	conn net.Conn
	mu   sync.Mutex

	id       string
	tenantID string

	selectedDB    int
	inMulti       bool
	authenticated bool

	closeOnce sync.Once
}

// NewConn wraps an accepted socket. tenantID is the opaque attribution
// supplied by the surrounding service; the proxy never derives it.
func NewConn(conn net.Conn, tenantID string) *Connection {
	return &Connection{
		conn:     conn,
		id:       uuid.NewString(),
		tenantID: tenantID,
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) TenantID() string {
	return c.tenantID
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Read yields client-originated bytes. Only the goroutine owning the
// client-to-backend direction calls it.
func (c *Connection) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// SetReadDeadline bounds the next Read, used for the idle timeout.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Write sends bytes to the client.
func (c *Connection) Write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(b)
	return err
}

// Close shuts the client socket. Safe to call from either relay direction,
// repeated calls are no-ops.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return nil
}

func (c *Connection) GetDBIndex() int {
	return c.selectedDB
}

func (c *Connection) SelectDB(dbNum int) {
	c.selectedDB = dbNum
}

func (c *Connection) InMultiState() bool {
	return c.inMulti
}

func (c *Connection) SetMultiState(state bool) {
	c.inMulti = state
}

func (c *Connection) IsAuthenticated() bool {
	return c.authenticated
}

func (c *Connection) SetAuthenticated(auth bool) {
	c.authenticated = auth
}

var _ resp.Connection = (*Connection)(nil)
