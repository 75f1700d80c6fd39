package codec_test

import (
	"testing"

	"github.com/xraph/substrate/codec"
)

type record struct {
	Name  string            `json:"name" msgpack:"name"`
	Count int64             `json:"count" msgpack:"count"`
	Tags  map[string]string `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Blob  []byte            `json:"blob,omitempty" msgpack:"blob,omitempty"`
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	in := record{
		Name:  "run-1",
		Count: 42,
		Tags:  map[string]string{"env": "test"},
		Blob:  []byte{0x00, 0xff, 0x10},
	}

	for _, name := range []string{codec.NameJSON, codec.NameMsgpack} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c, err := codec.Get(name)
			if err != nil {
				t.Fatalf("Get(%s): %v", name, err)
			}
			if c.Name() != name {
				t.Errorf("Name = %q", c.Name())
			}

			raw, err := c.Marshal(in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var out record
			if err := c.Unmarshal(raw, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if out.Name != in.Name || out.Count != in.Count || out.Tags["env"] != "test" {
				t.Errorf("round trip = %+v", out)
			}
			if string(out.Blob) != string(in.Blob) {
				t.Errorf("blob = %v", out.Blob)
			}
		})
	}
}

func TestGetUnknownCodec(t *testing.T) {
	t.Parallel()
	if _, err := codec.Get("protobuf"); err == nil {
		t.Error("Get(protobuf) succeeded")
	}
}

func TestDefaultIsJSON(t *testing.T) {
	t.Parallel()
	if name := codec.Default().Name(); name != codec.NameJSON {
		t.Errorf("default codec = %q", name)
	}
}
