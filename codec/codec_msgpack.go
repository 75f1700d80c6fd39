package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack encodes/decodes values as MessagePack.
type Msgpack struct{}

func (c *Msgpack) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *Msgpack) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *Msgpack) Name() string { return NameMsgpack }
