package store

import (
	"context"
	"time"

	"github.com/xraph/substrate/id"
	"github.com/xraph/substrate/kv"
)

// intent is a write-ahead record covering a multi-key batch. It is written
// before the batch and deleted after, so a crash between the two leaves a
// replayable description of the incomplete write.
type intent struct {
	ID        string     `json:"id" msgpack:"id"`
	Entries   []kv.Entry `json:"entries" msgpack:"entries"`
	CreatedAt time.Time  `json:"created_at" msgpack:"created_at"`
}

// applyBatch writes a set of entries. Single-entry batches go straight to
// the backend; multi-entry batches are covered by an intent record first.
func (s *Store) applyBatch(ctx context.Context, entries ...kv.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) == 1 {
		return s.kv.Set(ctx, s.namespace, entries[0])
	}

	in := intent{
		ID:        id.NewIntentID().String(),
		Entries:   entries,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.putRecord(ctx, intentKey(in.ID), in); err != nil {
		return err
	}
	if err := s.appendIndex(ctx, intentsIndexKey, in.ID); err != nil {
		return err
	}

	if err := s.kv.Set(ctx, s.namespace, entries...); err != nil {
		return err
	}

	// Cleanup failures are harmless: re-applying a completed intent on the
	// next recovery sweep rewrites the same values.
	if err := s.removeIndex(ctx, intentsIndexKey, in.ID); err != nil {
		s.logger.Warn("intent index cleanup failed", "intent_id", in.ID, "error", err)
		return nil
	}
	if err := s.kv.Delete(ctx, s.namespace, intentKey(in.ID)); err != nil {
		s.logger.Warn("intent record cleanup failed", "intent_id", in.ID, "error", err)
	}
	return nil
}

// RecoverIntents re-applies any write intents left behind by a crash
// mid-batch and clears them. Call once on startup before serving traffic.
// Returns the number of intents replayed.
func (s *Store) RecoverIntents(ctx context.Context) (int, error) {
	ids, _, err := s.readIndex(ctx, intentsIndexKey)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, intentID := range ids {
		var in intent
		ok, err := s.getRecord(ctx, intentKey(intentID), &in)
		if err != nil {
			return recovered, err
		}
		if ok {
			if err := s.kv.Set(ctx, s.namespace, in.Entries...); err != nil {
				return recovered, err
			}
			if err := s.kv.Delete(ctx, s.namespace, intentKey(intentID)); err != nil {
				return recovered, err
			}
			recovered++
			s.logger.Info("replayed write intent", "intent_id", intentID, "entries", len(in.Entries))
		}
		if err := s.removeIndex(ctx, intentsIndexKey, intentID); err != nil {
			return recovered, err
		}
	}
	return recovered, nil
}
