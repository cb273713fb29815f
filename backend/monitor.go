package backend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	pool "github.com/jolestar/go-commons-pool/v2"
	"github.com/jonboulle/clockwork"
)

// DefaultHealthInterval is the pause between backend probes.
const DefaultHealthInterval = 15 * time.Second

// Monitor periodically pings the backend with pooled probe clients and
// keeps the last verdict. It only observes: sessions are never refused on
// its account, a dead backend already fails them at dial time.
type Monitor struct {
	pool     *pool.ObjectPool
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	healthy atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMonitor builds a monitor over its own probe pool. A nil clock means
// the wall clock, a non-positive interval the default.
func NewMonitor(ctx context.Context, cfg Config, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pool:     NewProbePool(ctx, cfg),
		clock:    clock,
		interval: interval,
		logger:   logger.With("component", "backend-monitor", "backend_addr", cfg.Addr),
		done:     make(chan struct{}),
	}
}

// Check runs one probe round trip and updates the verdict.
func (m *Monitor) Check(ctx context.Context) error {
	obj, err := m.pool.BorrowObject(ctx)
	if err != nil {
		m.setHealthy(false)
		return trace.Wrap(err)
	}
	probe := obj.(*Probe)
	if err := probe.Ping(); err != nil {
		_ = m.pool.InvalidateObject(ctx, obj)
		m.setHealthy(false)
		return trace.Wrap(err)
	}
	if err := m.pool.ReturnObject(ctx, obj); err != nil {
		return trace.Wrap(err)
	}
	m.setHealthy(true)
	return nil
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.done:
				return
			case <-ctx.Done():
				return
			case <-m.clock.After(m.interval):
			}
			if err := m.Check(ctx); err != nil {
				m.logger.Warn("backend health check failed", "error", err)
			}
		}
	}()
}

// Healthy reports the last probe verdict.
func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}

func (m *Monitor) setHealthy(up bool) {
	if m.healthy.Swap(up) != up {
		if up {
			m.logger.Info("backend is reachable")
		} else {
			m.logger.Warn("backend is unreachable")
		}
	}
}

// Close stops the loop and tears down the probe pool.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	m.pool.Close(context.Background())
}
