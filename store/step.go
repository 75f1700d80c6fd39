package store

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/kv"
)

// CreateStep persists a new step under its run and registers it in the
// run's step index. When the step carries a CacheKey, the cache-key mapping
// is written in the same batch.
func (s *Store) CreateStep(ctx context.Context, step *Step) error {
	if step.ID == "" || step.RunID == "" {
		return fmt.Errorf("substrate/store: create step: id and run id are required")
	}
	now := time.Now().UTC()
	if step.Status == "" {
		step.Status = StepStatusPending
	}
	step.CreatedAt = now
	step.UpdatedAt = now

	entries := make([]kv.Entry, 0, 2)
	entry, err := s.encode(stepKey(step.RunID, step.ID), step)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	if step.CacheKey != "" {
		ref, err := s.encode(cacheRefKey(step.CacheKey), CacheRef{RunID: step.RunID, StepID: step.ID})
		if err != nil {
			return err
		}
		entries = append(entries, ref)
	}

	if err := s.applyBatch(ctx, entries...); err != nil {
		return err
	}
	if err := s.appendIndex(ctx, stepsIndexKey(step.RunID), step.ID); err != nil {
		return err
	}

	s.logger.Debug("step created", "run_id", step.RunID, "step_id", step.ID, "step_name", step.StepName)
	return nil
}

// GetStep loads a step by run and step ID. ok=false when absent.
func (s *Store) GetStep(ctx context.Context, runID, stepID string) (*Step, bool, error) {
	var step Step
	ok, err := s.getRecord(ctx, stepKey(runID, stepID), &step)
	if err != nil || !ok {
		return nil, false, err
	}
	return &step, true, nil
}

// GetStepByCacheKey resolves a cache key to the step that produced the
// memoized result. ok=false when no mapping exists or the mapped step has
// since been deleted.
func (s *Store) GetStepByCacheKey(ctx context.Context, cacheKey string) (*Step, bool, error) {
	var ref CacheRef
	ok, err := s.getRecord(ctx, cacheRefKey(cacheKey), &ref)
	if err != nil || !ok {
		return nil, false, err
	}
	return s.GetStep(ctx, ref.RunID, ref.StepID)
}

// UpdateStep applies a partial update to an existing step and bumps
// UpdatedAt. A changed CacheKey remaps the cache index: the old mapping is
// removed and the new one written. Returns ErrStepNotFound when absent.
func (s *Store) UpdateStep(ctx context.Context, runID, stepID string, update StepUpdate) (*Step, error) {
	step, ok, err := s.GetStep(ctx, runID, stepID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("substrate/store: update step %s/%s: %w", runID, stepID, substrate.ErrStepNotFound)
	}

	oldCacheKey := step.CacheKey
	if update.Status != nil {
		step.Status = *update.Status
	}
	if update.Attempts != nil {
		step.Attempts = *update.Attempts
	}
	if update.Input != nil {
		step.Input = update.Input
	}
	if update.Output != nil {
		step.Output = update.Output
	}
	if update.Error != nil {
		step.Error = *update.Error
	}
	if update.CacheKey != nil {
		step.CacheKey = *update.CacheKey
	}
	step.UpdatedAt = time.Now().UTC()

	entries := make([]kv.Entry, 0, 2)
	entry, err := s.encode(stepKey(runID, stepID), step)
	if err != nil {
		return nil, err
	}
	entries = append(entries, entry)

	if step.CacheKey != oldCacheKey && step.CacheKey != "" {
		ref, err := s.encode(cacheRefKey(step.CacheKey), CacheRef{RunID: runID, StepID: stepID})
		if err != nil {
			return nil, err
		}
		entries = append(entries, ref)
	}

	if err := s.applyBatch(ctx, entries...); err != nil {
		return nil, err
	}
	if step.CacheKey != oldCacheKey && oldCacheKey != "" {
		if err := s.kv.Delete(ctx, s.namespace, cacheRefKey(oldCacheKey)); err != nil {
			return nil, err
		}
	}
	return step, nil
}

// DeleteStep removes a step, its index entry, and its cache-key mapping if
// any. Deleting an absent step is a no-op.
func (s *Store) DeleteStep(ctx context.Context, runID, stepID string) error {
	step, ok, err := s.GetStep(ctx, runID, stepID)
	if err != nil {
		return err
	}
	if ok && step.CacheKey != "" {
		if err := s.kv.Delete(ctx, s.namespace, cacheRefKey(step.CacheKey)); err != nil {
			return err
		}
	}
	if err := s.kv.Delete(ctx, s.namespace, stepKey(runID, stepID)); err != nil {
		return err
	}
	return s.removeIndex(ctx, stepsIndexKey(runID), stepID)
}

// ListSteps returns all steps of a run in creation order. An unknown run
// yields an empty slice.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*Step, error) {
	ids, _, err := s.readIndex(ctx, stepsIndexKey(runID))
	if err != nil {
		return nil, err
	}
	steps := make([]*Step, 0, len(ids))
	for _, stepID := range ids {
		step, ok, err := s.GetStep(ctx, runID, stepID)
		if err != nil {
			return nil, err
		}
		if ok {
			steps = append(steps, step)
		}
	}
	return steps, nil
}
