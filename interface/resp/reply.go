package resp

// Reply is one decoded RESP frame. ToBytes re-encodes it. The proxy only
// sends re-encoded bytes for frames it synthesizes itself; forwarded
// traffic always replays the original bytes.
type Reply interface {
	ToBytes() []byte
}
