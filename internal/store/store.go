// Package store provides storage backends for the assist service.
//
// It persists the settings record, authentication requests, and stat
// counters. Backends: in-memory (tests/default), SQLite, and PostgreSQL.
package store

import (
	"strings"
	"sync"

	"github.com/gboost/assist/internal/models"
)

// Store defines the persistence interface shared by all backends.
type Store interface {
	// LoadSettings returns the persisted settings record, or nil if none
	// has been saved yet.
	LoadSettings() (*models.Settings, error)

	// SaveSettings persists the settings record, replacing any previous one.
	SaveSettings(s models.Settings) error

	// SaveAuthRequest inserts or updates an authentication request by ID.
	SaveAuthRequest(r models.AuthRequest) error

	// GetAuthRequest retrieves an authentication request, or nil if unknown.
	GetAuthRequest(requestID string) (*models.AuthRequest, error)

	// IncrementStat bumps a named counter by one.
	IncrementStat(name string) error

	// GetStats returns all counters.
	GetStats() (map[string]int64, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-memory store used in tests and when no
// database DSN is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	settings *models.Settings
	requests map[string]models.AuthRequest
	stats    map[string]int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[string]models.AuthRequest),
		stats:    make(map[string]int64),
	}
}

func (s *InMemoryStore) LoadSettings() (*models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, nil
	}
	cp := *s.settings
	return &cp, nil
}

func (s *InMemoryStore) SaveSettings(settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &settings
	return nil
}

func (s *InMemoryStore) SaveAuthRequest(r models.AuthRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.RequestID] = r
	return nil
}

func (s *InMemoryStore) GetAuthRequest(requestID string) (*models.AuthRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) IncrementStat(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name]++
	return nil
}

func (s *InMemoryStore) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
