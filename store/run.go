package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/substrate"
)

// CreateRun persists a new run and registers it in the runs index. The
// caller supplies the ID; Status defaults to pending when unset. The run's
// event sequence counter is initialized alongside the record.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("substrate/store: create run: id is required")
	}
	now := time.Now().UTC()
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	entry, err := s.encode(runKey(run.ID), run)
	if err != nil {
		return err
	}
	if err := s.applyBatch(ctx, entry, counterEntry(eventCounterKey(run.ID), 0)); err != nil {
		return err
	}
	if err := s.appendIndex(ctx, runsIndexKey, run.ID); err != nil {
		return err
	}

	s.metrics.RunCreated(ctx, run.WorkflowID)
	s.logger.Debug("run created", "run_id", run.ID, "workflow_id", run.WorkflowID)
	return nil
}

// GetRun loads a run by ID. ok=false when the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, bool, error) {
	var run Run
	ok, err := s.getRecord(ctx, runKey(runID), &run)
	if err != nil || !ok {
		return nil, false, err
	}
	return &run, true, nil
}

// UpdateRun applies a partial update to an existing run and bumps
// UpdatedAt. Returns ErrRunNotFound when the run does not exist.
func (s *Store) UpdateRun(ctx context.Context, runID string, update RunUpdate) (*Run, error) {
	run, ok, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("substrate/store: update run %s: %w", runID, substrate.ErrRunNotFound)
	}

	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Input != nil {
		run.Input = update.Input
	}
	if update.Output != nil {
		run.Output = update.Output
	}
	if update.Error != nil {
		run.Error = *update.Error
	}
	if update.Metadata != nil {
		run.Metadata = update.Metadata
	}
	run.UpdatedAt = time.Now().UTC()

	if err := s.putRecord(ctx, runKey(runID), run); err != nil {
		return nil, err
	}
	return run, nil
}

// DeleteRun removes a run and everything hanging off it: steps and their
// cache-key mappings, events, the sequence counter, the per-run indexes,
// and the runs index entry. Deleting an absent run is a no-op.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	steps, err := s.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.CacheKey != "" {
			if err := s.kv.Delete(ctx, s.namespace, cacheRefKey(step.CacheKey)); err != nil {
				return err
			}
		}
		if err := s.kv.Delete(ctx, s.namespace, stepKey(runID, step.ID)); err != nil {
			return err
		}
	}
	if err := s.kv.Delete(ctx, s.namespace, stepsIndexKey(runID)); err != nil {
		return err
	}

	eventIDs, _, err := s.readIndex(ctx, eventsIndexKey(runID))
	if err != nil {
		return err
	}
	for _, eventID := range eventIDs {
		if err := s.kv.Delete(ctx, s.namespace, eventKey(runID, eventID)); err != nil {
			return err
		}
	}
	if err := s.kv.Delete(ctx, s.namespace, eventsIndexKey(runID)); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, s.namespace, eventCounterKey(runID)); err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, s.namespace, runKey(runID)); err != nil {
		return err
	}
	if err := s.removeIndex(ctx, runsIndexKey, runID); err != nil {
		return err
	}

	s.logger.Debug("run deleted", "run_id", runID, "steps", len(steps), "events", len(eventIDs))
	return nil
}

// ListRuns returns one page of runs ordered by creation (index order). The
// cursor walks the unfiltered index in Limit-sized windows; WorkflowID and
// Status filters apply within each window, so a page may contain fewer than
// Limit runs while HasMore is still true.
func (s *Store) ListRuns(ctx context.Context, opts ListRunsOpts) (*RunPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("substrate/store: list runs: invalid cursor %q", opts.Cursor)
		}
		offset = n
	}

	ids, _, err := s.readIndex(ctx, runsIndexKey)
	if err != nil {
		return nil, err
	}

	page := &RunPage{}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	for i := offset; i < end; i++ {
		run, ok, err := s.GetRun(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		page.Runs = append(page.Runs, run)
	}

	if offset+limit < len(ids) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}
