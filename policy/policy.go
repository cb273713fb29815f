// Package policy classifies decoded commands against the proxy's denylist
// and applies their side effects to connection state.
package policy

import (
	"strconv"
	"strings"

	"redis-proxy/interface/resp"
)

// Action is what the proxy does with a classified command.
type Action int

const (
	// Forward replays the command's original bytes to the backend.
	Forward Action = iota
	// Block drops the command and answers the client with an error frame.
	Block
)

// Decision is the classifier's verdict for one command. Computed fresh per
// command, never persisted.
type Decision struct {
	Action Action
	Reason string
}

func (d Decision) Blocked() bool {
	return d.Action == Block
}

// defaultDenylist holds the command names the proxy refuses to forward:
// data-wide destruction, server administration, introspection, scripting
// and bulk data movement.
var defaultDenylist = []string{
	"FLUSHDB",
	"FLUSHALL",
	"CONFIG",
	"SHUTDOWN",
	"SLAVEOF",
	"REPLICAOF",
	"DEBUG",
	"MONITOR",
	"LATENCY",
	"EVAL",
	"EVALSHA",
	"SCRIPT",
	"MIGRATE",
	"RESTORE",
}

// Classifier decides per command name whether to forward or block. The
// rule set is immutable after construction, so lookups need no locking.
type Classifier struct {
	denied map[string]struct{}
}

// NewClassifier builds a classifier from the given denylist, or from the
// default set when names is empty.
func NewClassifier(names []string) *Classifier {
	if len(names) == 0 {
		names = defaultDenylist
	}
	denied := make(map[string]struct{}, len(names))
	for _, name := range names {
		denied[strings.ToUpper(name)] = struct{}{}
	}
	return &Classifier{denied: denied}
}

// Classify maps a command to a decision. It only looks at the command
// name, never at arguments, and always returns a decision: same state and
// command always yield the same result.
func (c *Classifier) Classify(conn resp.Connection, cmdLine [][]byte) Decision {
	name := CommandName(cmdLine)
	if _, ok := c.denied[name]; ok {
		return Decision{Action: Block, Reason: "operation intercepted by proxy: " + name}
	}
	return Decision{Action: Forward}
}

// CommandName returns the upper-cased name of a command line, or "" for an
// empty one.
func CommandName(cmdLine [][]byte) string {
	if len(cmdLine) == 0 {
		return ""
	}
	return strings.ToUpper(string(cmdLine[0]))
}

// UpdateState applies a command's protocol side effects to the connection:
// SELECT moves the database index, MULTI/EXEC/DISCARD toggle transaction
// mode, AUTH marks the client authenticated. The AUTH flag records the
// client's intent without waiting for the backend's verdict.
func UpdateState(conn resp.Connection, cmdLine [][]byte) {
	switch CommandName(cmdLine) {
	case "SELECT":
		if len(cmdLine) < 2 {
			return
		}
		// The command is forwarded either way; the backend is the
		// authority on range limits and argument errors.
		index, err := strconv.Atoi(string(cmdLine[1]))
		if err != nil || index < 0 {
			return
		}
		conn.SelectDB(index)
	case "MULTI":
		conn.SetMultiState(true)
	case "EXEC", "DISCARD":
		conn.SetMultiState(false)
	case "AUTH":
		conn.SetAuthenticated(true)
	}
}
