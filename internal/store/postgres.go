// Package store provides storage backends for the NurseTalk conversation log.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/Smoke-IT/NurseTalk/internal/models"
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

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddConversationLog(entry models.ConversationLogEntry) error {
	entry = normalizeEntry(entry)
	_, err := s.db.Exec(
		`INSERT INTO conversation_logs (id, phone_number, timestamp, user_input, bot_response, response_time, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.PhoneNumber, entry.Timestamp, entry.UserInput, entry.BotResponse, entry.ResponseTime, entry.Status,
	)
	if err != nil {
		slog.Error("PostgresStore AddConversationLog failed", "error", err, "phone", entry.PhoneNumber)
		return fmt.Errorf("failed to insert conversation log for %s: %w", entry.PhoneNumber, err)
	}
	slog.Debug("PostgresStore AddConversationLog succeeded", "phone", entry.PhoneNumber, "status", entry.Status)
	return nil
}

func (s *PostgresStore) GetConversationLogs(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return s.query(
		`SELECT id, phone_number, timestamp, user_input, bot_response, response_time, status
		 FROM conversation_logs WHERE phone_number = $1
		 ORDER BY timestamp DESC`, phoneNumber, limit)
}

func (s *PostgresStore) GetRecentExchanges(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return s.query(
		`SELECT id, phone_number, timestamp, user_input, bot_response, response_time, status
		 FROM conversation_logs WHERE phone_number = $1 AND status = 'sent'
		 ORDER BY timestamp DESC`, phoneNumber, limit)
}

func (s *PostgresStore) query(q, phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	args := []interface{}{phoneNumber}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		slog.Error("PostgresStore query failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to query conversation logs: %w", err)
	}
	defer rows.Close()

	var entries []models.ConversationLogEntry
	for rows.Next() {
		entry, err := scanConversationLog(rows)
		if err != nil {
			slog.Error("PostgresStore scan failed", "error", err)
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation log rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
