package reply

import (
	"bytes"
	"strconv"

	"redis-proxy/interface/resp"
)

// CRLF terminates every RESP line.
const CRLF = "\r\n"

var nullBulkBytes = []byte("$-1" + CRLF)

/* ---- Bulk Reply ---- */

// BulkReply carries one binary-safe string. A nil Arg encodes as the null
// bulk string, an empty Arg as a zero-length one.
type BulkReply struct {
	Arg []byte
}

func MakeBulkReply(arg []byte) *BulkReply {
	return &BulkReply{Arg: arg}
}

func (r *BulkReply) ToBytes() []byte {
	if r.Arg == nil {
		return nullBulkBytes
	}
	return []byte("$" + strconv.Itoa(len(r.Arg)) + CRLF + string(r.Arg) + CRLF)
}

/* ---- Multi Bulk Reply ---- */

// MultiBulkReply is an array whose elements are all bulk strings. Every
// client command arrives in this shape.
type MultiBulkReply struct {
	Args [][]byte
}

func MakeMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

func (r *MultiBulkReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("*" + strconv.Itoa(len(r.Args)) + CRLF)
	for _, arg := range r.Args {
		if arg == nil {
			buf.Write(nullBulkBytes)
		} else {
			buf.WriteString("$" + strconv.Itoa(len(arg)) + CRLF + string(arg) + CRLF)
		}
	}
	return buf.Bytes()
}

/* ---- Multi Raw Reply ---- */

// MultiRawReply is an array with mixed element types. It never occurs in
// well-formed commands but is a legal frame and must survive decoding.
type MultiRawReply struct {
	Replies []resp.Reply
}

func MakeMultiRawReply(replies []resp.Reply) *MultiRawReply {
	return &MultiRawReply{Replies: replies}
}

func (r *MultiRawReply) ToBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("*" + strconv.Itoa(len(r.Replies)) + CRLF)
	for _, child := range r.Replies {
		buf.Write(child.ToBytes())
	}
	return buf.Bytes()
}

/* ---- Status Reply ---- */

// StatusReply stores a simple status string
type StatusReply struct {
	Status string
}

func MakeStatusReply(status string) *StatusReply {
	return &StatusReply{Status: status}
}

func (r *StatusReply) ToBytes() []byte {
	return []byte("+" + r.Status + CRLF)
}

/* ---- Int Reply ---- */

// IntReply stores an int64 number
type IntReply struct {
	Code int64
}

func MakeIntReply(code int64) *IntReply {
	return &IntReply{Code: code}
}

func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + CRLF)
}

/* ---- Err Reply ---- */

// ErrorReply is an error that can also be sent to a client as a RESP frame.
type ErrorReply interface {
	Error() string
	ToBytes() []byte
}

// StandardErrReply represents a server error line.
type StandardErrReply struct {
	Status string
}

func MakeErrReply(status string) *StandardErrReply {
	return &StandardErrReply{Status: status}
}

func (r *StandardErrReply) ToBytes() []byte {
	return []byte("-" + r.Status + CRLF)
}

func (r *StandardErrReply) Error() string {
	return r.Status
}

// IsErrReply reports whether reply encodes an error frame.
func IsErrReply(reply resp.Reply) bool {
	return reply.ToBytes()[0] == '-'
}
