package tcp

import (
	"context"
	"net"
)

// Handler owns the lifecycle of one accepted connection.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
	Close() error
}
