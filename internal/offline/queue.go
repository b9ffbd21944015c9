package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"parlo/pkg/kvstore"
	"parlo/pkg/logger"
	"parlo/pkg/model"

	"go.uber.org/zap"
)

const actionKeyPrefix = "offline:action:"

// Queue durably records actions that could not be sent and hands them back
// for replay. Each action lives under its own storage key and there is no
// shared index: enqueue and remove touch exactly one key, so writers in
// separate processes sharing one store never rewrite each other's entries.
// Listing scans the key prefix and orders by creation time. A mutex
// serializes the read-modify-write in Update within the process.
//
// The queue never replays anything itself; draining belongs to the caller.
type Queue struct {
	store kvstore.Store
	mu    sync.Mutex
}

func New(store kvstore.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue persists a new action and returns its ID. Being offline is the
// expected reason to land here, not an error.
func (q *Queue) Enqueue(ctx context.Context, kind model.ActionKind, payload model.Payload) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown action kind %q", kind)
	}

	action := model.NewQueuedAction(kind, payload)
	if err := q.writeAction(ctx, action); err != nil {
		return "", err
	}

	logger.Info("Action queued offline",
		zap.String("action_id", action.ID),
		zap.String("kind", string(kind)))

	return action.ID, nil
}

// List returns the pending actions oldest first, without mutating anything.
func (q *Queue) List(ctx context.Context) ([]*model.QueuedAction, error) {
	keys, err := q.store.Keys(ctx, actionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	actions := make([]*model.QueuedAction, 0, len(keys))
	for _, key := range keys {
		action, err := q.readAction(ctx, strings.TrimPrefix(key, actionKeyPrefix))
		if errors.Is(err, kvstore.ErrNotFound) {
			// removed between the scan and the read
			continue
		}
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt != actions[j].CreatedAt {
			return actions[i].CreatedAt < actions[j].CreatedAt
		}
		return actions[i].ID < actions[j].ID
	})

	return actions, nil
}

// Len reports the number of pending actions, for badge-style UI counts.
func (q *Queue) Len(ctx context.Context) (int, error) {
	keys, err := q.store.Keys(ctx, actionKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to scan queue: %w", err)
	}
	return len(keys), nil
}

// Remove deletes the action with the given ID. Removing an absent ID is a
// no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.store.RemoveItem(ctx, actionKeyPrefix+id); err != nil {
		return fmt.Errorf("failed to remove action: %w", err)
	}
	return nil
}

// Update merges the patch into the stored action. Patching an ID that has
// already been removed is a no-op.
func (q *Queue) Update(ctx context.Context, id string, patch model.ActionPatch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, err := q.readAction(ctx, id)
	if errors.Is(err, kvstore.ErrNotFound) {
		logger.Debug("Patch for absent action ignored", zap.String("action_id", id))
		return nil
	}
	if err != nil {
		return err
	}

	patch.Apply(action)
	return q.writeAction(ctx, action)
}

func (q *Queue) readAction(ctx context.Context, id string) (*model.QueuedAction, error) {
	raw, err := q.store.GetItem(ctx, actionKeyPrefix+id)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read action %s: %w", id, err)
	}

	var action model.QueuedAction
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, fmt.Errorf("failed to parse action %s: %w", id, err)
	}
	return &action, nil
}

func (q *Queue) writeAction(ctx context.Context, action *model.QueuedAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	if err := q.store.SetItem(ctx, actionKeyPrefix+action.ID, string(data)); err != nil {
		return fmt.Errorf("failed to persist action: %w", err)
	}
	return nil
}
