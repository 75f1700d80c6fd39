package memory_test

import (
	"context"
	"testing"

	"github.com/xraph/substrate/kv"
	"github.com/xraph/substrate/kv/memory"
)

func TestGetSetDelete(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "ns", "missing"); ok || err != nil {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "ns",
		kv.Entry{Key: "a", Value: []byte("1")},
		kv.Entry{Key: "b", Value: []byte("2")},
	); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := s.Get(ctx, "ns", "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "1" {
		t.Errorf("value = %q", got)
	}

	if err := s.Delete(ctx, "ns", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "ns", "a"); ok {
		t.Error("key survived delete")
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, "ns", "a"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	if err := s.Set(ctx, "ns1", kv.Entry{Key: "k", Value: []byte("v1")}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "ns2", "k"); ok {
		t.Error("key leaked across namespaces")
	}
}

func TestValuesAreCopied(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	value := []byte("original")
	if err := s.Set(ctx, "ns", kv.Entry{Key: "k", Value: value}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'X'

	got, _, err := s.Get(ctx, "ns", "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("stored value mutated: %q", got)
	}
	got[0] = 'Y'
	again, _, _ := s.Get(ctx, "ns", "k")
	if string(again) != "original" {
		t.Errorf("returned value aliased: %q", again)
	}
}

func TestCompareAndSwap(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	// nil old means the key must not exist yet.
	ok, err := s.CompareAndSwap(ctx, "ns", "k", nil, []byte("v1"))
	if err != nil || !ok {
		t.Fatalf("CAS create: ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSwap(ctx, "ns", "k", nil, []byte("v2"))
	if err != nil || ok {
		t.Fatalf("CAS create over existing: ok=%v err=%v", ok, err)
	}

	ok, err = s.CompareAndSwap(ctx, "ns", "k", []byte("v1"), []byte("v2"))
	if err != nil || !ok {
		t.Fatalf("CAS swap: ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSwap(ctx, "ns", "k", []byte("stale"), []byte("v3"))
	if err != nil || ok {
		t.Fatalf("CAS stale: ok=%v err=%v", ok, err)
	}

	got, _, _ := s.Get(ctx, "ns", "k")
	if string(got) != "v2" {
		t.Errorf("value = %q, want v2", got)
	}
}
