package stream_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/substrate"
	kvmem "github.com/xraph/substrate/kv/memory"
	psmem "github.com/xraph/substrate/pubsub/memory"
	"github.com/xraph/substrate/stream"
)

func newTestStreamer(t *testing.T) *stream.Streamer {
	t.Helper()
	s := stream.New(kvmem.New(), psmem.New())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

// collector gathers delivered chunks behind a mutex.
type collector struct {
	mu     sync.Mutex
	chunks []*stream.Chunk
}

func (c *collector) handle(chunk *stream.Chunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *collector) sequences() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seqs := make([]int64, len(c.chunks))
	for i, chunk := range c.chunks {
		seqs[i] = chunk.Sequence
	}
	return seqs
}

func waitForChunks(t *testing.T, c *collector, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.chunks)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks", n)
}

func TestWriteAndGetChunks(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", map[string]string{"step": "render"})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	for i := 1; i <= 3; i++ {
		chunk, err := h.Write(ctx, []byte(fmt.Sprintf("chunk-%d", i)))
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		if chunk.Sequence != int64(i) {
			t.Errorf("sequence = %d, want %d", chunk.Sequence, i)
		}
	}

	meta, ok, err := s.GetMetadata(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("GetMetadata: ok=%v err=%v", ok, err)
	}
	if !meta.IsOpen || meta.ChunkCount != 3 || meta.Metadata["step"] != "render" {
		t.Errorf("meta = %+v", meta)
	}

	chunks, err := s.GetChunks(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Sequence != int64(i+1) || string(chunk.Data) != fmt.Sprintf("chunk-%d", i+1) {
			t.Errorf("chunk %d = %+v", i, chunk)
		}
	}

	partial, err := s.GetChunks(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetChunks from 2: %v", err)
	}
	if len(partial) != 1 || partial[0].Sequence != 3 {
		t.Fatalf("partial = %+v", partial)
	}
}

func TestGetChunksUnknownStream(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)

	chunks, err := s.GetChunks(context.Background(), "nope", 0)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks from unknown stream", len(chunks))
	}
}

func TestGetChunksBeyondLastSequence(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if _, err := h.Write(ctx, []byte("only")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A stale watermark past the end of the log yields an empty slice.
	chunks, err := s.GetChunks(ctx, "s1", 5)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks past the last sequence", len(chunks))
	}

	// Subscribing from the same stale watermark replays nothing and goes
	// straight to live delivery.
	var c collector
	sub, err := s.Subscribe(ctx, "s1", c.handle, stream.SubscribeOptions{FromSequence: 5})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !sub.Active() {
		t.Fatal("subscription not active")
	}
	if len(c.sequences()) != 0 {
		t.Errorf("replayed %v past the last sequence", c.sequences())
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
}

func TestCreateStreamAlreadyOpen(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	if _, err := s.CreateStream(ctx, "s1", nil); !errors.Is(err, substrate.ErrStreamAlreadyOpen) {
		t.Errorf("err = %v, want ErrStreamAlreadyOpen", err)
	}

	// Closing releases the id for a fresh stream starting at sequence 1.
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h2, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream after close: %v", err)
	}
	chunk, err := h2.Write(ctx, []byte("fresh"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if chunk.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", chunk.Sequence)
	}
}

func TestWriteAfterClose(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.IsOpen() {
		t.Error("IsOpen after Close")
	}

	if _, err := h.Write(ctx, []byte("late")); !errors.Is(err, substrate.ErrStreamClosed) {
		t.Errorf("err = %v, want ErrStreamClosed", err)
	}

	meta, ok, err := s.GetMetadata(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("GetMetadata: ok=%v err=%v", ok, err)
	}
	if meta.IsOpen || meta.ClosedAt == nil {
		t.Errorf("meta = %+v", meta)
	}
}

func TestSubscribeReplaysThenGoesLive(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := h.Write(ctx, []byte("early")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var c collector
	sub, err := s.Subscribe(ctx, "s1", c.handle, stream.SubscribeOptions{FromSequence: 1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !sub.Active() {
		t.Fatal("subscription not active")
	}

	// Replay covers sequences 2 and 3; live delivery picks up from 4.
	waitForChunks(t, &c, 2)
	if _, err := h.Write(ctx, []byte("live")); err != nil {
		t.Fatalf("Write live: %v", err)
	}
	waitForChunks(t, &c, 3)

	seqs := c.sequences()
	want := []int64{2, 3, 4}
	for i, seq := range want {
		if seqs[i] != seq {
			t.Fatalf("sequences = %v, want %v", seqs, want)
		}
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if sub.Active() {
		t.Error("subscription active after Unsubscribe")
	}
}

func TestSubscribeNeverDeliversDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if _, err := h.Write(ctx, []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var c collector
	if _, err := s.Subscribe(ctx, "s1", c.handle, stream.SubscribeOptions{}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := h.Write(ctx, []byte("two")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitForChunks(t, &c, 2)
	time.Sleep(50 * time.Millisecond)

	seen := make(map[int64]int)
	for _, seq := range c.sequences() {
		seen[seq]++
		if seen[seq] > 1 {
			t.Fatalf("sequence %d delivered %d times", seq, seen[seq])
		}
	}
}

func TestCloseSentinelNotDelivered(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	var c collector
	if _, err := s.Subscribe(ctx, "s1", c.handle, stream.SubscribeOptions{LiveOnly: true}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := h.Write(ctx, []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitForChunks(t, &c, 1)
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if seqs := c.sequences(); len(seqs) != 1 {
		t.Errorf("handler saw %v, want exactly the one data chunk", seqs)
	}
}

func TestCursorWalksAndRestarts(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.Write(ctx, []byte("x")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	cur := s.Chunks("s1", 0)
	for want := int64(1); want <= 2; want++ {
		chunk, ok, err := cur.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("Next: ok=%v err=%v", ok, err)
		}
		if chunk.Sequence != want {
			t.Errorf("sequence = %d, want %d", chunk.Sequence, want)
		}
	}

	// Drained but the stream is still open: not done, and a later write
	// becomes visible to the same cursor.
	if _, ok, err := cur.Next(ctx); err != nil || ok {
		t.Fatalf("Next past end: ok=%v err=%v", ok, err)
	}
	if done, err := cur.Done(ctx); err != nil || done {
		t.Fatalf("Done = %v, %v on open stream", done, err)
	}

	if _, err := h.Write(ctx, []byte("late")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	chunk, ok, err := cur.Next(ctx)
	if err != nil || !ok || chunk.Sequence != 3 {
		t.Fatalf("Next after late write: %+v ok=%v err=%v", chunk, ok, err)
	}

	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if done, err := cur.Done(ctx); err != nil || !done {
		t.Fatalf("Done = %v, %v after close and drain", done, err)
	}
}

func TestDeleteStream(t *testing.T) {
	t.Parallel()
	s := newTestStreamer(t)
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if _, err := h.Write(ctx, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.DeleteStream(ctx, "s1"); err != nil {
		t.Fatalf("DeleteStream: %v", err)
	}
	if _, ok, _ := s.GetMetadata(ctx, "s1"); ok {
		t.Error("metadata survived delete")
	}
	chunks, err := s.GetChunks(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks survived delete: %d", len(chunks))
	}
	if _, err := h.Write(ctx, []byte("y")); !errors.Is(err, substrate.ErrStreamClosed) {
		t.Errorf("write after delete: %v, want ErrStreamClosed", err)
	}

	if err := s.DeleteStream(ctx, "s1"); !errors.Is(err, substrate.ErrStreamNotFound) {
		t.Errorf("second delete: %v, want ErrStreamNotFound", err)
	}
}

func TestShutdownClosesHandlesAndSubscriptions(t *testing.T) {
	t.Parallel()
	s := stream.New(kvmem.New(), psmem.New())
	ctx := context.Background()

	h, err := s.CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	var c collector
	sub, err := s.Subscribe(ctx, "s1", c.handle, stream.SubscribeOptions{LiveOnly: true})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.IsOpen() {
		t.Error("handle open after Shutdown")
	}
	if sub.Active() {
		t.Error("subscription active after Shutdown")
	}
}
