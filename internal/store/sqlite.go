// Package store provides storage backends for the NurseTalk conversation log.
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

	_ "github.com/mattn/go-sqlite3"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
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

	// Ensure the directory exists
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

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddConversationLog(entry models.ConversationLogEntry) error {
	entry = normalizeEntry(entry)
	_, err := s.db.Exec(
		`INSERT INTO conversation_logs (id, phone_number, timestamp, user_input, bot_response, response_time, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.PhoneNumber, entry.Timestamp, entry.UserInput, entry.BotResponse, entry.ResponseTime, entry.Status,
	)
	if err != nil {
		slog.Error("SQLiteStore AddConversationLog failed", "error", err, "phone", entry.PhoneNumber)
		return fmt.Errorf("failed to insert conversation log for %s: %w", entry.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore AddConversationLog succeeded", "phone", entry.PhoneNumber, "status", entry.Status)
	return nil
}

func (s *SQLiteStore) GetConversationLogs(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return s.query(
		`SELECT id, phone_number, timestamp, user_input, bot_response, response_time, status
		 FROM conversation_logs WHERE phone_number = ?
		 ORDER BY timestamp DESC`, phoneNumber, limit)
}

func (s *SQLiteStore) GetRecentExchanges(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return s.query(
		`SELECT id, phone_number, timestamp, user_input, bot_response, response_time, status
		 FROM conversation_logs WHERE phone_number = ? AND status = 'sent'
		 ORDER BY timestamp DESC`, phoneNumber, limit)
}

func (s *SQLiteStore) query(q, phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	args := []interface{}{phoneNumber}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		slog.Error("SQLiteStore query failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to query conversation logs: %w", err)
	}
	defer rows.Close()

	var entries []models.ConversationLogEntry
	for rows.Next() {
		entry, err := scanConversationLog(rows)
		if err != nil {
			slog.Error("SQLiteStore scan failed", "error", err)
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation log rows: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
