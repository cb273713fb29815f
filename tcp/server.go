// Package tcp runs the proxy's accept loop with signal-aware shutdown.
package tcp

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gravitational/trace"

	"redis-proxy/interface/tcp"
)

// Config holds the listener settings.
type Config struct {
	Address string
}

// ListenAndServeWithSignal serves until SIGHUP/SIGQUIT/SIGTERM/SIGINT.
func ListenAndServeWithSignal(cfg *Config, handler tcp.Handler, logger *slog.Logger) error {
	closeChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig.String())
		closeChan <- struct{}{}
	}()

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return trace.Wrap(err)
	}
	logger.Info("proxy listening", "address", cfg.Address)
	ListenAndServe(listener, handler, closeChan, logger)
	return nil
}

// ListenAndServe accepts connections until closeChan fires or the listener
// dies, then waits for the in-flight connections to finish.
func ListenAndServe(listener net.Listener, handler tcp.Handler, closeChan <-chan struct{}, logger *slog.Logger) {
	go func() {
		<-closeChan
		logger.Info("shutting down")
		_ = listener.Close()
		_ = handler.Close()
	}()
	defer func() {
		_ = listener.Close()
		_ = handler.Close()
	}()
	ctx := context.Background()
	var waitDone sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			break
		}
		logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr().String())
		waitDone.Add(1)
		go func() {
			defer waitDone.Done()
			handler.Handle(ctx, conn)
		}()
	}
	waitDone.Wait()
}
