package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"parlo/pkg/kvstore"
	"parlo/pkg/logger"

	"go.uber.org/zap"
)

const (
	storageKey      = "settings:conversation"
	DefaultDebounce = 800 * time.Millisecond
)

// Settings holds the conversation and audio preferences that travel with
// every outgoing message.
type Settings struct {
	Language   string  `json:"language"`
	Difficulty string  `json:"difficulty"`
	Muted      bool    `json:"muted"`
	Tempo      float64 `json:"tempo"`
}

func Defaults() Settings {
	return Settings{
		Language:   "es",
		Difficulty: "beginner",
		Muted:      false,
		Tempo:      1.0,
	}
}

// Store owns the settings lifecycle: explicit Load, mutations through Set,
// and debounced persistence so a slider dragged across ten values writes
// once. Callers receive the store by injection; there is no ambient global.
type Store struct {
	kv       kvstore.Store
	debounce time.Duration

	mu      sync.Mutex
	current Settings
	timer   *time.Timer
}

func NewStore(kv kvstore.Store, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		kv:       kv,
		debounce: debounce,
		current:  Defaults(),
	}
}

// Load reads persisted settings; an empty store yields the defaults.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.kv.GetItem(ctx, storageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	var loaded Settings
	if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()

	return nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set applies the mutation and schedules a debounced save. Rapid calls
// within the debounce window collapse into one write.
func (s *Store) Set(mutate func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.current)

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			logger.Error("Failed to persist settings", zap.Error(err))
		}
	})
}

// Flush writes the current settings immediately and cancels any pending
// debounced save.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	current := s.current
	s.mu.Unlock()

	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := s.kv.SetItem(ctx, storageKey, string(data)); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Close flushes once more so the last window of changes survives shutdown.
func (s *Store) Close(ctx context.Context) error {
	return s.Flush(ctx)
}
