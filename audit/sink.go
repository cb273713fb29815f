package audit

import (
	"log/slog"
	"sync"

	auditif "redis-proxy/interface/audit"
)

// LogSink writes audit events to a structured logger. It is the bundled
// default for deployments that point the proxy at log shipping instead of
// a dedicated audit store.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Record(event auditif.Event) error {
	s.Logger.Info("command audited",
		"conn_id", event.ConnID,
		"tenant_id", event.TenantID,
		"remote_addr", event.RemoteAddr,
		"command", event.Command,
		"command_text", event.CommandText,
		"outcome", string(event.Outcome),
		"time", event.Time)
	return nil
}

// MemorySink collects events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []auditif.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(event auditif.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []auditif.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auditif.Event, len(s.events))
	copy(out, s.events)
	return out
}

var (
	_ auditif.Sink = (*LogSink)(nil)
	_ auditif.Sink = (*MemorySink)(nil)
)
