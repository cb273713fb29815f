package policy_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"redis-proxy/policy"
	"redis-proxy/resp/connection"
)

func newTestConn(t *testing.T) *connection.Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return connection.NewConn(server, "tenant-1")
}

func cmdLine(args ...string) [][]byte {
	line := make([][]byte, len(args))
	for i, arg := range args {
		line[i] = []byte(arg)
	}
	return line
}

func TestDenylistCompleteness(t *testing.T) {
	denied := []string{
		"FLUSHALL", "FLUSHDB", "CONFIG", "SHUTDOWN", "DEBUG", "MONITOR",
		"EVAL", "EVALSHA", "SCRIPT", "SLAVEOF", "REPLICAOF", "MIGRATE",
		"RESTORE", "LATENCY",
	}
	classifier := policy.NewClassifier(nil)
	conn := newTestConn(t)
	for _, name := range denied {
		for _, variant := range []string{name, lower(name), mixed(name)} {
			decision := classifier.Classify(conn, cmdLine(variant))
			require.True(t, decision.Blocked(), "expected %q to be blocked", variant)
			require.Equal(t, "operation intercepted by proxy: "+name, decision.Reason)
		}
	}
}

func TestPassthroughCommands(t *testing.T) {
	classifier := policy.NewClassifier(nil)
	conn := newTestConn(t)
	for _, line := range [][][]byte{
		cmdLine("GET", "key"),
		cmdLine("SET", "key", "value"),
		cmdLine("HSET", "hash", "field", "value"),
		cmdLine("SELECT", "3"),
		cmdLine("MULTI"),
		cmdLine("AUTH", "secret"),
	} {
		decision := classifier.Classify(conn, line)
		require.False(t, decision.Blocked(), "expected %q to pass", line[0])
		require.Empty(t, decision.Reason)
	}
}

// Same state and command must always yield the same decision.
func TestClassifyDeterministic(t *testing.T) {
	classifier := policy.NewClassifier(nil)
	conn := newTestConn(t)
	for i := 0; i < 3; i++ {
		require.True(t, classifier.Classify(conn, cmdLine("FLUSHALL")).Blocked())
		require.False(t, classifier.Classify(conn, cmdLine("GET", "k")).Blocked())
	}
}

func TestDenylistOverride(t *testing.T) {
	classifier := policy.NewClassifier([]string{"get"})
	conn := newTestConn(t)
	require.True(t, classifier.Classify(conn, cmdLine("GET", "key")).Blocked())
	// The override replaces the default set entirely.
	require.False(t, classifier.Classify(conn, cmdLine("FLUSHALL")).Blocked())
}

func TestStateTrackingSequence(t *testing.T) {
	conn := newTestConn(t)
	require.Equal(t, 0, conn.GetDBIndex())
	require.False(t, conn.InMultiState())

	policy.UpdateState(conn, cmdLine("SELECT", "2"))
	require.Equal(t, 2, conn.GetDBIndex())
	require.False(t, conn.InMultiState())

	policy.UpdateState(conn, cmdLine("MULTI"))
	require.Equal(t, 2, conn.GetDBIndex())
	require.True(t, conn.InMultiState())

	policy.UpdateState(conn, cmdLine("GET", "foo"))
	require.Equal(t, 2, conn.GetDBIndex())
	require.True(t, conn.InMultiState())

	policy.UpdateState(conn, cmdLine("EXEC"))
	require.Equal(t, 2, conn.GetDBIndex())
	require.False(t, conn.InMultiState())
}

func TestDiscardClearsMulti(t *testing.T) {
	conn := newTestConn(t)
	policy.UpdateState(conn, cmdLine("MULTI"))
	require.True(t, conn.InMultiState())
	policy.UpdateState(conn, cmdLine("DISCARD"))
	require.False(t, conn.InMultiState())
}

// SELECT with an unparseable or negative index leaves the tracked state
// alone; the command is still forwarded and the backend rejects it.
func TestSelectBadArgument(t *testing.T) {
	conn := newTestConn(t)
	policy.UpdateState(conn, cmdLine("SELECT", "2"))
	for _, arg := range []string{"abc", "-1", ""} {
		policy.UpdateState(conn, cmdLine("SELECT", arg))
		require.Equal(t, 2, conn.GetDBIndex(), "SELECT %q must not change state", arg)
	}
	policy.UpdateState(conn, cmdLine("SELECT"))
	require.Equal(t, 2, conn.GetDBIndex())
}

func TestAuthMarksConnection(t *testing.T) {
	conn := newTestConn(t)
	require.False(t, conn.IsAuthenticated())
	policy.UpdateState(conn, cmdLine("auth", "hunter2"))
	require.True(t, conn.IsAuthenticated())
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func mixed(s string) string {
	b := []byte(lower(s))
	for i := 0; i < len(b); i += 2 {
		if b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}
