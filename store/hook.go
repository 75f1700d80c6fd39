package store

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/substrate"
	"github.com/xraph/substrate/id"
)

// CreateHook persists a hook. An empty Token is minted here; a
// caller-supplied token is kept as-is so external systems can pre-share it.
func (s *Store) CreateHook(ctx context.Context, hook *Hook) error {
	if hook.RunID == "" {
		return fmt.Errorf("substrate/store: create hook: run id is required")
	}
	if hook.Token == "" {
		hook.Token = id.NewHookToken().String()
	}
	hook.CreatedAt = time.Now().UTC()

	if err := s.putRecord(ctx, hookKey(hook.Token), hook); err != nil {
		return err
	}

	s.metrics.HookCreated(ctx)
	s.logger.Debug("hook created", "token", hook.Token, "run_id", hook.RunID)
	return nil
}

// GetHook loads a hook by token. ok=false when absent.
func (s *Store) GetHook(ctx context.Context, token string) (*Hook, bool, error) {
	var hook Hook
	ok, err := s.getRecord(ctx, hookKey(token), &hook)
	if err != nil || !ok {
		return nil, false, err
	}
	return &hook, true, nil
}

// UpdateHook applies a partial update to an existing hook. Marking the hook
// invoked stamps InvokedAt. Returns ErrHookNotFound when absent.
func (s *Store) UpdateHook(ctx context.Context, token string, update HookUpdate) (*Hook, error) {
	hook, ok, err := s.GetHook(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("substrate/store: update hook %s: %w", token, substrate.ErrHookNotFound)
	}

	if update.Invoked != nil {
		hook.Invoked = *update.Invoked
		if hook.Invoked && hook.InvokedAt == nil {
			now := time.Now().UTC()
			hook.InvokedAt = &now
		}
	}
	if update.Payload != nil {
		hook.Payload = update.Payload
	}
	if update.CallbackURL != nil {
		hook.CallbackURL = *update.CallbackURL
	}

	if err := s.putRecord(ctx, hookKey(token), hook); err != nil {
		return nil, err
	}
	return hook, nil
}

// DeleteHook removes a hook by token. Deleting an absent hook is a no-op.
func (s *Store) DeleteHook(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, s.namespace, hookKey(token))
}
