// Package audit turns classifier decisions into structured events and
// hands them to an external sink without ever blocking the data path.
package audit

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	auditif "redis-proxy/interface/audit"
	"redis-proxy/interface/resp"
	"redis-proxy/policy"
)

const (
	// DefaultQueueSize bounds the events waiting for the sink.
	DefaultQueueSize = 1024
	// DefaultWorkers drain the queue concurrently.
	DefaultWorkers = 1
)

// Emitter is a bounded queue between many session goroutines and a few
// sink workers. Emit never blocks: when the queue is full the event is
// dropped and counted.
type Emitter struct {
	sink    auditif.Sink
	clock   clockwork.Clock
	logger  *slog.Logger
	queue   chan auditif.Event
	workers int

	dropped atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewEmitter wires a sink behind a queue of the given capacity. Zero or
// negative capacity/workers fall back to the defaults; a nil clock means
// the wall clock.
func NewEmitter(sink auditif.Sink, capacity, workers int, clock clockwork.Clock, logger *slog.Logger) *Emitter {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sink:    sink,
		clock:   clock,
		logger:  logger.With("component", "audit"),
		queue:   make(chan auditif.Event, capacity),
		workers: workers,
		done:    make(chan struct{}),
	}
}

// Start launches the sink workers.
func (e *Emitter) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.drain()
	}
}

// EmitCommand builds and queues the event for one classified command.
func (e *Emitter) EmitCommand(conn resp.Connection, cmdLine [][]byte, outcome auditif.Outcome) {
	args := make([]string, len(cmdLine))
	for i, arg := range cmdLine {
		args[i] = string(arg)
	}
	e.Emit(auditif.Event{
		ConnID:      conn.ID(),
		TenantID:    conn.TenantID(),
		RemoteAddr:  conn.RemoteAddr(),
		Command:     policy.CommandName(cmdLine),
		CommandText: strings.Join(args, " "),
		Outcome:     outcome,
		Time:        e.clock.Now(),
	})
}

// Emit queues an event, dropping it when the queue is full or the emitter
// is already closed.
func (e *Emitter) Emit(event auditif.Event) {
	select {
	case <-e.done:
		e.dropped.Add(1)
		return
	default:
	}
	select {
	case e.queue <- event:
	default:
		e.dropped.Add(1)
	}
}

// Dropped returns how many events were lost to a full queue or a failing
// sink.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops the workers after the already-queued events are submitted.
// It never waits on the sink beyond that backlog.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

func (e *Emitter) drain() {
	defer e.wg.Done()
	for {
		select {
		case event := <-e.queue:
			e.record(event)
		case <-e.done:
			for {
				select {
				case event := <-e.queue:
					e.record(event)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) record(event auditif.Event) {
	if err := e.sink.Record(event); err != nil {
		e.dropped.Add(1)
		e.logger.Warn("audit sink rejected event",
			"conn_id", event.ConnID,
			"command", event.Command,
			"error", err)
	}
}
