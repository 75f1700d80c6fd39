package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/backoff"
	"github.com/xraph/substrate/engine"
	kvmem "github.com/xraph/substrate/kv/memory"
	psmem "github.com/xraph/substrate/pubsub/memory"
	"github.com/xraph/substrate/queue"
	"github.com/xraph/substrate/store"
	"github.com/xraph/substrate/stream"
)

func newTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	client, err := substrate.New(
		substrate.WithKV(kvmem.New()),
		substrate.WithBus(psmem.New()),
	)
	if err != nil {
		t.Fatalf("substrate.New: %v", err)
	}
	e, err := engine.Build(client, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func TestBuildRequiresClient(t *testing.T) {
	t.Parallel()
	if _, err := engine.Build(nil); err == nil {
		t.Fatal("Build(nil) succeeded")
	}
}

func TestRunStepAndCacheLookup(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()
	s := e.Store()

	if err := s.CreateRun(ctx, &store.Run{ID: "run-1", WorkflowID: "wf-order"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateStep(ctx, &store.Step{
		ID:       "step-1",
		RunID:    "run-1",
		StepName: "charge",
		CacheKey: "charge:order-1",
	}); err != nil {
		t.Fatalf("CreateStep: %v", err)
	}
	if _, err := s.CreateEvent(ctx, "run-1", "step.started", nil); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	step, ok, err := s.GetStepByCacheKey(ctx, "charge:order-1")
	if err != nil || !ok {
		t.Fatalf("GetStepByCacheKey: ok=%v err=%v", ok, err)
	}
	if step.ID != "step-1" || step.RunID != "run-1" {
		t.Errorf("step = %+v", step)
	}

	events, err := s.GetEvents(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Sequence != 1 {
		t.Fatalf("events = %+v", events)
	}
}

func TestQueueRoutesExhaustedMessagesToDLQ(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, engine.WithBackoff(backoff.NewConstant(time.Millisecond)))
	ctx := context.Background()
	q := e.Queue()

	if err := q.Subscribe(ctx, "invoke", func(context.Context, *queue.Message) error {
		return errors.New("step execution failed")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	dead := make(chan *queue.Message, 1)
	if err := q.Subscribe(ctx, "invoke-dlq", func(_ context.Context, msg *queue.Message) error {
		dead <- msg
		return nil
	}); err != nil {
		t.Fatalf("Subscribe dlq: %v", err)
	}

	if _, err := q.Send(ctx, "invoke", []byte(`{"runId":"run-1"}`), queue.WithMaxAttempts(2)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-dead:
		if msg.Reason != queue.ReasonMaxAttemptsExceeded || msg.Attempts != 2 {
			t.Errorf("dead-lettered message = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never dead-lettered")
	}
}

func TestStreamReplayAcrossEngine(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()
	s := e.Streamer()

	h, err := s.CreateStream(ctx, "run-1-logs", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	for _, line := range []string{"starting", "working", "done"} {
		if _, err := h.Write(ctx, []byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	chunks, err := s.GetChunks(ctx, "run-1-logs", 0)
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 3 || string(chunks[2].Data) != "done" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestStopShutsDownSubsystems(t *testing.T) {
	t.Parallel()
	client, err := substrate.New(
		substrate.WithKV(kvmem.New()),
		substrate.WithBus(psmem.New()),
	)
	if err != nil {
		t.Fatalf("substrate.New: %v", err)
	}
	e, err := engine.Build(client)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h, err := e.Streamer().CreateStream(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	var sub *stream.Subscription
	sub, err = e.Streamer().Subscribe(ctx, "s1", func(*stream.Chunk) {}, stream.SubscribeOptions{LiveOnly: true})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := e.Queue().Send(ctx, "invoke", nil); !errors.Is(err, substrate.ErrQueueClosed) {
		t.Errorf("Send after Stop: %v, want ErrQueueClosed", err)
	}
	if h.IsOpen() {
		t.Error("stream handle open after Stop")
	}
	if sub.Active() {
		t.Error("subscription active after Stop")
	}
}
