package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FileStore keeps all items in one JSON document on disk, the shape a
// device-local storage file has. Writes go through a temp file and rename
// so a crash mid-write never corrupts the document. Every operation holds
// a sidecar file lock and reloads the document under it, so the client and
// the sync worker can share one path without interleaving their writes.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	// The lock lives next to the document rather than on it: the rename
	// in save would swap the locked inode out from under the flock.
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (f *FileStore) GetItem(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to lock storage file: %w", err)
	}
	defer f.lock.Unlock()

	items, err := f.load()
	if err != nil {
		return "", err
	}

	val, ok := items[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (f *FileStore) SetItem(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock storage file: %w", err)
	}
	defer f.lock.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}

	items[key] = value
	return f.save(items)
}

func (f *FileStore) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock storage file: %w", err)
	}
	defer f.lock.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}

	if _, ok := items[key]; !ok {
		return nil
	}

	delete(items, key)
	return f.save(items)
}

func (f *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock storage file: %w", err)
	}
	defer f.lock.Unlock()

	items, err := f.load()
	if err != nil {
		return nil, err
	}

	var keys []string
	for key := range items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *FileStore) Close() error {
	return nil
}

// load reads the document fresh from disk: another process may have
// written since the last call.
func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}

	if len(data) == 0 {
		return map[string]string{}, nil
	}

	var items map[string]string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse storage file: %w", err)
	}
	return items, nil
}

func (f *FileStore) save(items map[string]string) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal storage file: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
