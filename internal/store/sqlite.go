// Package store provides storage backends for the assist service.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/gboost/assist/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path to the database file; the parent directory is created if needed.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadSettings() (*models.Settings, error) {
	row := s.db.QueryRow(`SELECT server_url, enable_processing, grammar_correction, hide_contacts, auto_mode, whatsapp_number, auth_token, instance_id FROM settings WHERE id = 1`)
	var st models.Settings
	err := row.Scan(&st.ServerURL, &st.EnableProcessing, &st.GrammarCorrection, &st.HideContacts, &st.AutoMode, &st.WhatsAppNumber, &st.AuthToken, &st.InstanceID)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore LoadSettings: no settings record")
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LoadSettings failed", "error", err)
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveSettings(st models.Settings) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO settings (id, server_url, enable_processing, grammar_correction, hide_contacts, auto_mode, whatsapp_number, auth_token, instance_id)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ServerURL, st.EnableProcessing, st.GrammarCorrection, st.HideContacts, st.AutoMode, st.WhatsAppNumber, st.AuthToken, st.InstanceID)
	if err != nil {
		slog.Error("SQLiteStore SaveSettings failed", "error", err)
		return fmt.Errorf("failed to save settings: %w", err)
	}
	slog.Debug("SQLiteStore SaveSettings succeeded")
	return nil
}

func (s *SQLiteStore) SaveAuthRequest(r models.AuthRequest) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO auth_requests (request_id, whatsapp_number, created_at, status, message)
		VALUES (?, ?, ?, ?, ?)`,
		r.RequestID, r.WhatsAppNumber, r.CreatedAt, r.Status, r.Message)
	if err != nil {
		slog.Error("SQLiteStore SaveAuthRequest failed", "error", err, "requestID", r.RequestID)
		return fmt.Errorf("failed to save auth request %s: %w", r.RequestID, err)
	}
	slog.Debug("SQLiteStore SaveAuthRequest succeeded", "requestID", r.RequestID, "status", r.Status)
	return nil
}

func (s *SQLiteStore) GetAuthRequest(requestID string) (*models.AuthRequest, error) {
	row := s.db.QueryRow(`SELECT request_id, whatsapp_number, created_at, status, message FROM auth_requests WHERE request_id = ?`, requestID)
	var r models.AuthRequest
	err := row.Scan(&r.RequestID, &r.WhatsAppNumber, &r.CreatedAt, &r.Status, &r.Message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAuthRequest failed", "error", err, "requestID", requestID)
		return nil, fmt.Errorf("failed to get auth request %s: %w", requestID, err)
	}
	return &r, nil
}

func (s *SQLiteStore) IncrementStat(name string) error {
	_, err := s.db.Exec(`
		INSERT INTO stats (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`, name)
	if err != nil {
		slog.Error("SQLiteStore IncrementStat failed", "error", err, "name", name)
		return fmt.Errorf("failed to increment stat %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) GetStats() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT name, value FROM stats`)
	if err != nil {
		slog.Error("SQLiteStore GetStats query failed", "error", err)
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			slog.Error("SQLiteStore GetStats scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan stat row: %w", err)
		}
		stats[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stat rows: %w", err)
	}
	return stats, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
