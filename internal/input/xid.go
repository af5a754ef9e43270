package input

// XID is a protocol resource identifier. The high bits name the owning
// client; the rest are allocated by that client or by the server on its
// behalf.
type XID uint32

// ClientID is a connected client's index. Zero is the server itself.
type ClientID uint16

const (
	// ClientOffset is the number of low bits available to a client for its
	// own resource ids.
	ClientOffset = 21
	// ResourceIDMask selects the client-local part of an XID.
	ResourceIDMask XID = 1<<ClientOffset - 1
	// ServerBit marks ids allocated by the server on a client's behalf.
	ServerBit XID = 1 << (ClientOffset - 1)
)

// Client returns the client that owns id.
func (id XID) Client() ClientID {
	return ClientID(id >> ClientOffset)
}

// ClientBits strips the client-local part of id.
func (id XID) ClientBits() XID {
	return id &^ ResourceIDMask
}

// Base returns the lowest XID owned by c.
func (c ClientID) Base() XID {
	return XID(c) << ClientOffset
}

// SameClient reports whether a and b belong to the same client.
func SameClient(a, b XID) bool {
	return a.ClientBits() == b.ClientBits()
}
