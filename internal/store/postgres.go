// Package store provides storage backends for the assist service.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/gboost/assist/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) LoadSettings() (*models.Settings, error) {
	row := s.db.QueryRow(`SELECT server_url, enable_processing, grammar_correction, hide_contacts, auto_mode, whatsapp_number, auth_token, instance_id FROM settings WHERE id = 1`)
	var st models.Settings
	err := row.Scan(&st.ServerURL, &st.EnableProcessing, &st.GrammarCorrection, &st.HideContacts, &st.AutoMode, &st.WhatsAppNumber, &st.AuthToken, &st.InstanceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LoadSettings failed", "error", err)
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) SaveSettings(st models.Settings) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (id, server_url, enable_processing, grammar_correction, hide_contacts, auto_mode, whatsapp_number, auth_token, instance_id)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			server_url = EXCLUDED.server_url,
			enable_processing = EXCLUDED.enable_processing,
			grammar_correction = EXCLUDED.grammar_correction,
			hide_contacts = EXCLUDED.hide_contacts,
			auto_mode = EXCLUDED.auto_mode,
			whatsapp_number = EXCLUDED.whatsapp_number,
			auth_token = EXCLUDED.auth_token,
			instance_id = EXCLUDED.instance_id`,
		st.ServerURL, st.EnableProcessing, st.GrammarCorrection, st.HideContacts, st.AutoMode, st.WhatsAppNumber, st.AuthToken, st.InstanceID)
	if err != nil {
		slog.Error("PostgresStore SaveSettings failed", "error", err)
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAuthRequest(r models.AuthRequest) error {
	_, err := s.db.Exec(`
		INSERT INTO auth_requests (request_id, whatsapp_number, created_at, status, message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE SET status = EXCLUDED.status, message = EXCLUDED.message`,
		r.RequestID, r.WhatsAppNumber, r.CreatedAt, r.Status, r.Message)
	if err != nil {
		slog.Error("PostgresStore SaveAuthRequest failed", "error", err, "requestID", r.RequestID)
		return fmt.Errorf("failed to save auth request %s: %w", r.RequestID, err)
	}
	return nil
}

func (s *PostgresStore) GetAuthRequest(requestID string) (*models.AuthRequest, error) {
	row := s.db.QueryRow(`SELECT request_id, whatsapp_number, created_at, status, message FROM auth_requests WHERE request_id = $1`, requestID)
	var r models.AuthRequest
	err := row.Scan(&r.RequestID, &r.WhatsAppNumber, &r.CreatedAt, &r.Status, &r.Message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAuthRequest failed", "error", err, "requestID", requestID)
		return nil, fmt.Errorf("failed to get auth request %s: %w", requestID, err)
	}
	return &r, nil
}

func (s *PostgresStore) IncrementStat(name string) error {
	_, err := s.db.Exec(`
		INSERT INTO stats (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = stats.value + 1`, name)
	if err != nil {
		slog.Error("PostgresStore IncrementStat failed", "error", err, "name", name)
		return fmt.Errorf("failed to increment stat %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) GetStats() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT name, value FROM stats`)
	if err != nil {
		slog.Error("PostgresStore GetStats query failed", "error", err)
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan stat row: %w", err)
		}
		stats[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stat rows: %w", err)
	}
	return stats, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
