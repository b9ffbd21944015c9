package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetItem when the key has no value.
var ErrNotFound = errors.New("kvstore: item not found")

// Store is the async key-value surface the queue and settings persist
// through. Values are serialized text; callers own the encoding.
//
// Each method is an atomic unit even when several processes share one
// backend; callers that need multi-key consistency keep state per key.
type Store interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	// Keys returns every stored key with the given prefix, in no
	// particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
