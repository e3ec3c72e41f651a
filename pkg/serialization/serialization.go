package serialization

import "fmt"

const (

	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// MsgpackType represents the serialization type for MessagePack format.
	MsgpackType = "msgpack"
)

// Codec encodes cache envelopes for the persistent store. The payload stays
// in the codec's own encoding inside the decoded envelope so the caller can
// decode it into whatever type it expects.
type Codec interface {
	// Type returns the serialization type name.
	Type() string
	// EncodeEntry wraps data and its write timestamp into one stored value.
	EncodeEntry(data any, timestamp int64) ([]byte, error)
	// DecodeEntry splits a stored value into its raw payload and timestamp.
	DecodeEntry(raw []byte) (payload []byte, timestamp int64, err error)
	// Unmarshal decodes a raw payload returned by DecodeEntry into v.
	Unmarshal(payload []byte, v any) error
}

// ByType returns the codec registered under name.
func ByType(name string) (Codec, error) {
	switch name {
	case "", JSONType:
		return JSON{}, nil
	case MsgpackType:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unsupported serialization type: %s", name)
	}
}
