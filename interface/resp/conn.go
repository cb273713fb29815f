package resp

// Connection is the protocol-level view of one proxied client connection.
// The mutating accessors are only ever invoked from the goroutine that owns
// the client-to-backend direction, so implementations need no locking for
// the state fields.
type Connection interface {
	// Write sends bytes back to the client. Must be safe for concurrent
	// use: both the backend relay and synthesized replies write here.
	Write([]byte) error

	ID() string
	RemoteAddr() string
	TenantID() string

	GetDBIndex() int
	SelectDB(int)

	InMultiState() bool
	SetMultiState(bool)

	IsAuthenticated() bool
	SetAuthenticated(bool)
}
