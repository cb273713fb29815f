// Package parser decodes RESP frames from the front of a byte buffer.
//
// Decoding is all-or-nothing per top-level frame: the caller keeps an
// append-only buffer of everything read so far, and Parse either consumes
// one complete frame or consumes nothing and reports ErrIncomplete. This
// keeps frame boundaries exact, which the proxy relies on to forward the
// original bytes instead of a re-encoding.
package parser

import (
	"bytes"
	"errors"
	"strconv"

	"redis-proxy/interface/resp"
	"redis-proxy/resp/reply"
)

// DefaultMaxLineLen caps the scan for a line terminator. A peer that sends
// this many bytes without a CRLF is malformed, not slow.
const DefaultMaxLineLen = 64 * 1024

// DefaultMaxBulkLen caps one bulk string payload, matching the server's
// own proto-max-bulk-len default. Larger announced lengths are malformed,
// never "need more data".
const DefaultMaxBulkLen = 512 * 1024 * 1024

// DefaultMaxArrayLen caps the element count of one array frame.
const DefaultMaxArrayLen = 1024 * 1024

// ErrIncomplete signals that the buffer ends before one whole frame does.
// The caller should read more bytes and retry with the grown buffer.
var ErrIncomplete = errors.New("incomplete frame")

// ProtocolError marks a malformed stream. Unlike ErrIncomplete it cannot be
// resolved by more data and is fatal for the connection.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

// IsProtocolError reports whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func protocolErr(msg string) error {
	return &ProtocolError{Msg: msg}
}

// Parser decodes frames with configurable limits. The zero value uses the
// defaults above.
type Parser struct {
	MaxLineLen  int
	MaxBulkLen  int64
	MaxArrayLen int64
}

func New(maxLineLen int) *Parser {
	return &Parser{MaxLineLen: maxLineLen}
}

// Parse decodes one frame from the front of buf. On success it returns the
// frame and the number of bytes consumed. On a short buffer it returns
// ErrIncomplete and consumes nothing, including when the shortfall is in
// the middle of an array.
func (p *Parser) Parse(buf []byte) (resp.Reply, int, error) {
	result, next, err := p.parse(buf, 0)
	if err != nil {
		return nil, 0, err
	}
	return result, next, nil
}

// Parse decodes one frame using the default line cap.
func Parse(buf []byte) (resp.Reply, int, error) {
	p := Parser{}
	return p.Parse(buf)
}

func (p *Parser) maxLine() int {
	if p.MaxLineLen > 0 {
		return p.MaxLineLen
	}
	return DefaultMaxLineLen
}

func (p *Parser) maxBulk() int64 {
	if p.MaxBulkLen > 0 {
		return p.MaxBulkLen
	}
	return DefaultMaxBulkLen
}

func (p *Parser) maxArray() int64 {
	if p.MaxArrayLen > 0 {
		return p.MaxArrayLen
	}
	return DefaultMaxArrayLen
}

// parse decodes the frame starting at pos and returns the position just
// past it.
func (p *Parser) parse(buf []byte, pos int) (resp.Reply, int, error) {
	if pos >= len(buf) {
		return nil, 0, ErrIncomplete
	}
	switch buf[pos] {
	case '+':
		line, next, err := p.readLine(buf, pos+1)
		if err != nil {
			return nil, 0, err
		}
		return reply.MakeStatusReply(string(line)), next, nil
	case '-':
		line, next, err := p.readLine(buf, pos+1)
		if err != nil {
			return nil, 0, err
		}
		return reply.MakeErrReply(string(line)), next, nil
	case ':':
		line, next, err := p.readLine(buf, pos+1)
		if err != nil {
			return nil, 0, err
		}
		code, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return nil, 0, protocolErr("bad integer '" + string(line) + "'")
		}
		return reply.MakeIntReply(code), next, nil
	case '$':
		return p.parseBulk(buf, pos+1)
	case '*':
		return p.parseArray(buf, pos+1)
	default:
		return nil, 0, protocolErr("unexpected byte '" + string(buf[pos]) + "'")
	}
}

func (p *Parser) parseBulk(buf []byte, pos int) (resp.Reply, int, error) {
	length, next, err := p.readLength(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	if length == -1 {
		return reply.MakeNullBulkReply(), next, nil
	}
	if length < 0 {
		return nil, 0, protocolErr("bad bulk length " + strconv.FormatInt(length, 10))
	}
	// The cap both bounds buffering and keeps the index arithmetic below
	// safely inside int range.
	if length > p.maxBulk() {
		return nil, 0, protocolErr("bulk length " + strconv.FormatInt(length, 10) +
			" exceeds " + strconv.FormatInt(p.maxBulk(), 10))
	}
	// A zero-length bulk still carries its empty payload plus CRLF.
	end := next + int(length)
	if end+2 > len(buf) {
		return nil, 0, ErrIncomplete
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return nil, 0, protocolErr("bulk string not terminated by CRLF")
	}
	arg := make([]byte, length)
	copy(arg, buf[next:end])
	return reply.MakeBulkReply(arg), end + 2, nil
}

func (p *Parser) parseArray(buf []byte, pos int) (resp.Reply, int, error) {
	count, next, err := p.readLength(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	if count == -1 {
		return reply.MakeNullMultiBulkReply(), next, nil
	}
	if count < 0 {
		return nil, 0, protocolErr("bad array length " + strconv.FormatInt(count, 10))
	}
	if count > p.maxArray() {
		return nil, 0, protocolErr("array length " + strconv.FormatInt(count, 10) +
			" exceeds " + strconv.FormatInt(p.maxArray(), 10))
	}
	if count == 0 {
		return reply.MakeEmptyMultiBulkReply(), next, nil
	}
	// The announced count is attacker-controlled, so it is not trusted as
	// an allocation hint.
	children := make([]resp.Reply, 0, min(count, 16))
	allBulk := true
	for i := int64(0); i < count; i++ {
		var child resp.Reply
		child, next, err = p.parse(buf, next)
		if err != nil {
			// Both ErrIncomplete and protocol errors abort the whole
			// array without consuming anything.
			return nil, 0, err
		}
		if _, ok := child.(*reply.BulkReply); !ok {
			allBulk = false
		}
		children = append(children, child)
	}
	if allBulk {
		args := make([][]byte, len(children))
		for i, child := range children {
			args[i] = child.(*reply.BulkReply).Arg
		}
		return reply.MakeMultiBulkReply(args), next, nil
	}
	return reply.MakeMultiRawReply(children), next, nil
}

// readLength reads a decimal header line as used by bulk strings and arrays.
func (p *Parser) readLength(buf []byte, pos int) (int64, int, error) {
	line, next, err := p.readLine(buf, pos)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, 0, protocolErr("bad length '" + string(line) + "'")
	}
	return n, next, nil
}

// readLine returns the bytes between pos and the next CRLF, and the
// position just past the terminator. The scan is capped at MaxLineLen:
// beyond that the stream is malformed rather than incomplete.
func (p *Parser) readLine(buf []byte, pos int) ([]byte, int, error) {
	window := buf[pos:]
	limit := p.maxLine()
	if len(window) > limit+2 {
		window = window[:limit+2]
	}
	idx := bytes.Index(window, []byte(reply.CRLF))
	if idx < 0 {
		// A line of exactly limit bytes still fits in limit+2 bytes with
		// its terminator, so only beyond that is the stream malformed
		// rather than incomplete.
		if len(buf)-pos > limit+1 {
			return nil, 0, protocolErr("line exceeds " + strconv.Itoa(limit) + " bytes")
		}
		return nil, 0, ErrIncomplete
	}
	return buf[pos : pos+idx], pos + idx + 2, nil
}
