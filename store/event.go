package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/id"
)

// CreateEvent appends an event to a run's history, assigning it the next
// sequence number from the run's counter. The counter is created with the
// run, so an absent counter means the run does not exist: ErrRunNotFound.
// The event ID is generated here; callers never supply one.
func (s *Store) CreateEvent(ctx context.Context, runID, eventType string, data []byte) (*Event, error) {
	seq, ok, err := s.bumpCounter(ctx, eventCounterKey(runID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("substrate/store: create event for run %s: %w", runID, substrate.ErrRunNotFound)
	}

	event := &Event{
		ID:        id.NewEventID().String(),
		RunID:     runID,
		Type:      eventType,
		Data:      data,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
	if err := s.putRecord(ctx, eventKey(runID, event.ID), event); err != nil {
		return nil, err
	}
	if err := s.appendIndex(ctx, eventsIndexKey(runID), event.ID); err != nil {
		return nil, err
	}

	s.metrics.EventAppended(ctx)
	return event, nil
}

// GetEvents returns a run's events with Sequence > afterSequence, in
// ascending sequence order. afterSequence 0 returns the full history. An
// unknown run yields an empty slice.
func (s *Store) GetEvents(ctx context.Context, runID string, afterSequence int64) ([]*Event, error) {
	ids, _, err := s.readIndex(ctx, eventsIndexKey(runID))
	if err != nil {
		return nil, err
	}
	events := make([]*Event, 0, len(ids))
	for _, eventID := range ids {
		var event Event
		ok, err := s.getRecord(ctx, eventKey(runID, eventID), &event)
		if err != nil {
			return nil, err
		}
		if ok && event.Sequence > afterSequence {
			events = append(events, &event)
		}
	}
	// Index order is append order, which can trail sequence order when
	// writers race between the counter bump and the index append.
	slices.SortFunc(events, func(a, b *Event) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return events, nil
}
