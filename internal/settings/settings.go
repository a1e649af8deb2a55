// Package settings holds the process-wide user configuration and broadcasts
// changes to interested pipeline components.
//
// All pipeline behavior (processing toggles, auto mode, server URL, auth
// token) flows from this store. Every successful Save is persisted through
// the storage backend and then published to all subscribers, so components
// observe the change before the Save call returns.
package settings

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gboost/assist/internal/models"
	"github.com/gboost/assist/internal/store"
)

// Store is the settings store. It guards an in-memory snapshot with a mutex,
// persists through the configured backend, and fans changes out to
// subscriber channels. Concurrent saves are last-write-wins.
type Store struct {
	mu      sync.RWMutex
	current models.Settings
	loaded  bool

	persist store.Store

	subMu  sync.RWMutex
	subs   map[int]chan models.Settings
	nextID int
}

// New creates a settings store backed by the given persistence layer.
func New(persist store.Store) *Store {
	return &Store{
		persist: persist,
		subs:    make(map[int]chan models.Settings),
	}
}

// Load returns the persisted settings merged over defaults. On first run the
// defaults are persisted and returned. Load is called once at startup;
// subsequent reads should use Current.
func (s *Store) Load() (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.persist.LoadSettings()
	if err != nil {
		return models.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if persisted == nil {
		slog.Info("Store.Load: no persisted settings, creating defaults")
		s.current = models.DefaultSettings()
		if err := s.persist.SaveSettings(s.current); err != nil {
			return models.Settings{}, fmt.Errorf("failed to persist default settings: %w", err)
		}
	} else {
		s.current = mergeOverDefaults(*persisted)
	}
	s.loaded = true
	slog.Debug("Store.Load: settings loaded", "authenticated", s.current.Authenticated(), "processing", s.current.EnableProcessing)
	return s.current, nil
}

// mergeOverDefaults fills zero-valued fields that have non-empty defaults.
// Boolean toggles are taken as persisted; only the server URL falls back.
func mergeOverDefaults(persisted models.Settings) models.Settings {
	if persisted.ServerURL == "" {
		persisted.ServerURL = models.DefaultServerURL
	}
	return persisted
}

// Current returns a snapshot of the effective settings.
func (s *Store) Current() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save applies the patch to the current settings, persists the result, and
// broadcasts the new effective settings to every subscriber. It returns the
// effective settings after the merge. Saving an identical patch twice yields
// the same stored state as saving it once.
func (s *Store) Save(patch models.SettingsPatch) (models.Settings, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		if _, err := s.Load(); err != nil {
			return models.Settings{}, err
		}
		s.mu.Lock()
	}
	updated := patch.Apply(s.current)
	if err := s.persist.SaveSettings(updated); err != nil {
		s.mu.Unlock()
		slog.Error("Store.Save: persist failed", "error", err)
		return models.Settings{}, fmt.Errorf("failed to persist settings: %w", err)
	}
	s.current = updated
	s.mu.Unlock()

	s.broadcast(updated)
	slog.Debug("Store.Save: settings saved and broadcast", "authenticated", updated.Authenticated(), "auto_mode", updated.AutoMode)
	return updated, nil
}

// Subscribe returns a channel that receives every effective settings record
// produced by Save, plus an unsubscribe function. Publishing is non-blocking;
// a subscriber that falls behind misses intermediate updates but always
// observes the state via Current.
func (s *Store) Subscribe(bufSize int) (<-chan models.Settings, func()) {
	if bufSize <= 0 {
		bufSize = 1
	}
	ch := make(chan models.Settings, bufSize)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) broadcast(settings models.Settings) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- settings:
		default:
			// Drop update if subscriber is full (non-blocking).
		}
	}
}
