package parser

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"redis-proxy/resp/reply"
)

func TestParseCommandRoundTrip(t *testing.T) {
	cases := [][][]byte{
		{[]byte("PING")},
		{[]byte("SET"), []byte("key"), []byte("value")},
		{[]byte("SET"), []byte("bin"), {0x00, '\r', '\n', 0xff}},
		{[]byte("GET"), []byte("")},
	}
	for _, args := range cases {
		encoded := reply.MakeMultiBulkReply(args).ToBytes()
		result, n, err := Parse(encoded)
		require.NoError(t, err)
		require.Equal(t, len(encoded), n)
		cmd, ok := result.(*reply.MultiBulkReply)
		require.True(t, ok, "expected a command, got %T", result)
		require.Equal(t, args, cmd.Args)
	}
}

func TestParseRandomCommandRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		args := make([][]byte, 1+rng.Intn(8))
		for j := range args {
			arg := make([]byte, rng.Intn(64))
			rng.Read(arg)
			args[j] = arg
		}
		encoded := reply.MakeMultiBulkReply(args).ToBytes()
		result, n, err := Parse(encoded)
		require.NoError(t, err)
		require.Equal(t, len(encoded), n)
		require.Equal(t, args, result.(*reply.MultiBulkReply).Args)
	}
}

// Every proper prefix of a valid frame must report ErrIncomplete without
// consuming anything, so byte-at-a-time delivery decodes identically to a
// single chunk.
func TestParseIncremental(t *testing.T) {
	encoded := reply.MakeMultiBulkReply([][]byte{
		[]byte("SET"), []byte("key"), []byte("value"),
	}).ToBytes()
	for i := 0; i < len(encoded); i++ {
		result, n, err := Parse(encoded[:i])
		require.ErrorIs(t, err, ErrIncomplete, "prefix of %d bytes", i)
		require.Nil(t, result)
		require.Zero(t, n)
	}
	result, n, err := Parse(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, [][]byte{[]byte("SET"), []byte("key"), []byte("value")},
		result.(*reply.MultiBulkReply).Args)
}

func TestParseSingleLineFrames(t *testing.T) {
	result, n, err := Parse([]byte("+OK\r\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "OK", result.(*reply.StatusReply).Status)

	result, _, err = Parse([]byte("-ERR wrong\r\n"))
	require.NoError(t, err)
	require.Equal(t, "ERR wrong", result.(*reply.StandardErrReply).Status)

	result, _, err = Parse([]byte(":42\r\n"))
	require.NoError(t, err)
	require.EqualValues(t, 42, result.(*reply.IntReply).Code)

	_, _, err = Parse([]byte(":forty\r\n"))
	require.True(t, IsProtocolError(err))
}

func TestParseNullAndEmptyFrames(t *testing.T) {
	result, n, err := Parse([]byte("$-1\r\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.IsType(t, &reply.NullBulkReply{}, result)

	result, n, err = Parse([]byte("*-1\r\n"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.IsType(t, &reply.NullMultiBulkReply{}, result)

	// A zero-length bulk still consumes its empty payload and CRLF.
	result, n, err = Parse([]byte("$0\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Empty(t, result.(*reply.BulkReply).Arg)

	result, n, err = Parse([]byte("*0\r\n"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.IsType(t, &reply.EmptyMultiBulkReply{}, result)
}

func TestParseProtocolErrors(t *testing.T) {
	for _, input := range []string{
		"x\r\n",
		"$-2\r\n",
		"*-5\r\n",
		"$3\r\nabcde\n", // payload not CRLF-terminated
	} {
		_, n, err := Parse([]byte(input))
		require.True(t, IsProtocolError(err), "input %q gave %v", input, err)
		require.False(t, IsProtocolError(ErrIncomplete))
		require.Zero(t, n)
	}
}

func TestParseLineCap(t *testing.T) {
	p := New(8)
	// No terminator within the cap: malformed, not incomplete.
	_, _, err := p.Parse([]byte("+0123456789abcdef"))
	require.True(t, IsProtocolError(err))

	// Under the cap without a terminator is still just incomplete.
	_, _, err = p.Parse([]byte("+0123"))
	require.ErrorIs(t, err, ErrIncomplete)

	// Exactly at the cap with a terminator is fine.
	result, _, err := p.Parse([]byte("+01234567\r\n"))
	require.NoError(t, err)
	require.Equal(t, "01234567", result.(*reply.StatusReply).Status)
}

// An announced bulk length beyond the cap is malformed, not "need more
// data": huge and even int64-overflowing lengths must fail cleanly without
// consuming anything.
func TestParseBulkLengthCap(t *testing.T) {
	for _, input := range []string{
		"$9223372036854775807\r\n", // math.MaxInt64
		"$1000000000000\r\n",
	} {
		_, n, err := Parse([]byte(input))
		require.True(t, IsProtocolError(err), "input %q gave %v", input, err)
		require.Zero(t, n)
	}

	// Within the cap a missing payload is still just incomplete.
	p := &Parser{MaxBulkLen: 8}
	_, _, err := p.Parse([]byte("$8\r\nabc"))
	require.ErrorIs(t, err, ErrIncomplete)
	_, _, err = p.Parse([]byte("$9\r\n"))
	require.True(t, IsProtocolError(err))
}

// An announced array count is never trusted: absurd counts fail before any
// allocation happens.
func TestParseArrayCountCap(t *testing.T) {
	for _, input := range []string{
		"*9000000000000\r\n",
		"*9223372036854775807\r\n",
	} {
		_, n, err := Parse([]byte(input))
		require.True(t, IsProtocolError(err), "input %q gave %v", input, err)
		require.Zero(t, n)
	}

	p := &Parser{MaxArrayLen: 2}
	_, _, err := p.Parse([]byte("*2\r\n"))
	require.ErrorIs(t, err, ErrIncomplete)
	_, _, err = p.Parse([]byte("*3\r\n"))
	require.True(t, IsProtocolError(err))
}

func TestParseMixedArray(t *testing.T) {
	result, n, err := Parse([]byte("*2\r\n:1\r\n+OK\r\n"))
	require.NoError(t, err)
	require.Equal(t, 13, n)
	mixed, ok := result.(*reply.MultiRawReply)
	require.True(t, ok, "expected mixed array, got %T", result)
	require.Len(t, mixed.Replies, 2)
}

// A mid-array shortfall must not consume the already-decoded children.
func TestParseArrayAllOrNothing(t *testing.T) {
	full := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	_, n, err := Parse(full[:len(full)-4])
	require.ErrorIs(t, err, ErrIncomplete)
	require.Zero(t, n)
}

func TestParseLeavesTrailingBytes(t *testing.T) {
	buf := []byte("+OK\r\n:7\r\n")
	result, n, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.IsType(t, &reply.StatusReply{}, result)

	result, n, err = Parse(buf[n:])
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.EqualValues(t, 7, result.(*reply.IntReply).Code)
}
