// Package metadata defines the headers the Station attaches to inbound frames
// while they travel through its watermill pipeline.
package metadata

// Reserved keys set by the Station on every inbound frame.
const (
	// KeyConnection is the handle of the websocket the frame arrived on.
	KeyConnection = "botcomet_connection"

	// KeyMessageType is the envelope type, when the frame decoded.
	KeyMessageType = "botcomet_message_type"

	// KeySrc and KeyDst mirror the envelope addressing for logging.
	KeySrc = "botcomet_src"
	KeyDst = "botcomet_dst"

	// KeyCorrelationID ties audit records to the frame that caused them.
	KeyCorrelationID = "correlation_id"
)

// Metadata represents the headers carried alongside a frame.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Connection returns the connection handle, if present.
func (m Metadata) Connection() string {
	return m[KeyConnection]
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
