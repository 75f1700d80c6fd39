// Package codec defines the serialization contract for durable records and
// bus envelopes. JSON is the default; MessagePack is the compact
// alternative for high-volume queues and streams. All substrate entity
// types carry both json and msgpack struct tags so either codec round-trips
// them losslessly.
package codec

import "fmt"

// Codec encodes and decodes substrate values.
type Codec interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a value.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// Name constants for codec selection.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. An empty name selects the default (JSON).
func Get(name string) (Codec, error) {
	switch name {
	case NameMsgpack:
		return &Msgpack{}, nil
	case NameJSON, "":
		return &JSON{}, nil
	default:
		return nil, fmt.Errorf("substrate/codec: unknown codec %q", name)
	}
}

// Default returns the default codec (JSON).
func Default() Codec { return &JSON{} }
