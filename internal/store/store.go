// Package store provides storage backends for the NurseTalk conversation log.
//
// The log is append-only: every inbound message and the reply it produced is
// recorded exactly once and never updated or deleted. Backends exist for
// SQLite, PostgreSQL, and in-memory use in tests.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// Store is the conversation log interface shared by all backends.
type Store interface {
	// AddConversationLog appends one exchange to the log.
	AddConversationLog(entry models.ConversationLogEntry) error
	// GetConversationLogs returns up to limit entries for a phone number,
	// newest first. limit <= 0 means no limit.
	GetConversationLogs(phoneNumber string, limit int) ([]models.ConversationLogEntry, error)
	// GetRecentExchanges returns up to limit completed exchanges (status
	// "sent"), newest first, for use as generator context.
	GetRecentExchanges(phoneNumber string, limit int) ([]models.ConversationLogEntry, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports which driver a DSN belongs to: "postgres" for
// postgres:// URLs and key=value connection strings, "sqlite3" for anything
// that looks like a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "=") && !strings.HasPrefix(dsn, "file:") {
		// key=value form, e.g. "host=localhost user=postgres dbname=test"
		return "postgres"
	}
	return "sqlite3"
}

// normalizeEntry fills in the generated ID and timestamp when the caller left
// them empty.
func normalizeEntry(entry models.ConversationLogEntry) models.ConversationLogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return entry
}

// InMemoryStore keeps the conversation log in memory. Used in tests and when
// no DSN is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []models.ConversationLogEntry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) AddConversationLog(entry models.ConversationLogEntry) error {
	entry = normalizeEntry(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) GetConversationLogs(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return s.filter(phoneNumber, limit, func(models.ConversationLogEntry) bool { return true })
}

func (s *InMemoryStore) GetRecentExchanges(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return s.filter(phoneNumber, limit, func(e models.ConversationLogEntry) bool {
		return e.Status == models.LogStatusSent
	})
}

func (s *InMemoryStore) filter(phoneNumber string, limit int, keep func(models.ConversationLogEntry) bool) ([]models.ConversationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ConversationLogEntry
	for _, e := range s.entries {
		if e.PhoneNumber == phoneNumber && keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
