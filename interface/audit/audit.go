package audit

import "time"

// Outcome is the proxy's verdict on one command.
type Outcome string

const (
	OutcomeForwarded Outcome = "FORWARDED"
	OutcomeBlocked   Outcome = "BLOCKED"
)

// Event is one immutable audit record. CommandText is the space-joined
// argument list, unredacted; redaction is the sink's responsibility.
type Event struct {
	ConnID      string    `json:"conn_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	RemoteAddr  string    `json:"remote_addr"`
	Command     string    `json:"command"`
	CommandText string    `json:"command_text"`
	Outcome     Outcome   `json:"outcome"`
	Time        time.Time `json:"time"`
}

// Sink durably stores audit events. The proxy only calls it, a failed
// Record loses the event and nothing else.
type Sink interface {
	Record(Event) error
}
