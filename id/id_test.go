package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/substrate/id"
)

func TestNew_GeneratesPrefixedIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		gen    func() id.ID
		prefix id.Prefix
	}{
		{"event", id.NewEventID, id.PrefixEvent},
		{"message", id.NewMessageID, id.PrefixMessage},
		{"chunk", id.NewChunkID, id.PrefixChunk},
		{"hook", id.NewHookToken, id.PrefixHook},
		{"subscription", id.NewSubscriptionID, id.PrefixSubscription},
		{"intent", id.NewIntentID, id.PrefixIntent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			if got.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if got.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %q, want %q", got.Prefix(), tt.prefix)
			}
			if !strings.HasPrefix(got.String(), string(tt.prefix)+"_") {
				t.Errorf("String() = %q, want prefix %q", got.String(), tt.prefix)
			}
		})
	}
}

func TestNew_IDsAreUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 1000 {
		s := id.NewMessageID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestParse_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := id.NewEventID()
	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip mismatch: %q != %q", parsed.String(), orig.String())
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []string{"", "not a typeid", "UPPER_01h2xcejqtf2nbrexx3vqjhp41"}
	for _, s := range tests {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", s)
		}
	}
}

func TestParseWithPrefix_ValidatesPrefix(t *testing.T) {
	t.Parallel()

	msgID := id.NewMessageID()
	if _, err := id.ParseWithPrefix(msgID.String(), id.PrefixMessage); err != nil {
		t.Fatalf("ParseWithPrefix with matching prefix: %v", err)
	}
	if _, err := id.ParseWithPrefix(msgID.String(), id.PrefixEvent); err == nil {
		t.Error("ParseWithPrefix with mismatched prefix returned nil error")
	}
}

func TestMarshalText_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := id.NewChunkID()
	data, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var got id.ID
	if err := got.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got.String() != orig.String() {
		t.Errorf("round trip mismatch: %q != %q", got.String(), orig.String())
	}

	// Empty text unmarshals to Nil.
	var nilID id.ID
	if err := nilID.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil): %v", err)
	}
	if !nilID.IsNil() {
		t.Error("UnmarshalText(nil) did not produce Nil ID")
	}
}
