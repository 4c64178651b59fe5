// Package session provides phone number canonicalization and the in-memory
// conversation session store for NurseTalk.
//
// Sessions are keyed by canonical phone number and are not persisted across
// process restarts. All mutations go through Update so concurrent webhook
// handlers cannot lose updates.
package session

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// MinPhoneDigits is the minimum number of digits required in a canonical phone number.
const MinPhoneDigits = 6

// nonDigitRegex matches everything that is not a digit, for canonicalization.
var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

// CanonicalPhoneNumber validates and canonicalizes a WhatsApp sender identifier.
// It strips the provider "whatsapp:" prefix and all non-numeric characters.
func CanonicalPhoneNumber(raw string) (string, error) {
	if raw == "" {
		return "", models.ErrEmptyRecipient
	}

	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "whatsapp:")
	canonical := nonDigitRegex.ReplaceAllString(trimmed, "")

	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in %q", models.ErrInvalidPhone, raw)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", models.ErrInvalidPhone, canonical, MinPhoneDigits)
	}

	if canonical != raw {
		slog.Debug("session canonicalized phone number", "original", raw, "canonical", canonical)
	}
	return canonical, nil
}

// Store defines how conversation sessions are looked up and mutated.
// Implementations must make Update atomic per key.
type Store interface {
	// Update runs fn against the session for phone, creating the session if it
	// does not exist and resetting it first if it has idle-expired. The session
	// passed to fn may be mutated freely; the store persists the result.
	Update(phone string, fn func(s *models.ConversationSession)) error

	// Get returns a copy of the stored session, or nil if none exists.
	Get(phone string) *models.ConversationSession

	// Delete removes the session for phone.
	Delete(phone string)

	// Sweep removes sessions idle past the timeout and returns how many were removed.
	Sweep(now time.Time) int
}

// entry pairs a session with its own lock so concurrent updates to different
// participants never contend.
type entry struct {
	mu      sync.Mutex
	session models.ConversationSession
}

// InMemoryStore is the process-wide session store. A map-level mutex guards
// membership; a per-entry mutex guards each session's contents.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewInMemoryStore creates an empty session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *InMemoryStore) lookup(phone string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[phone]
	if !ok {
		e = &entry{session: models.ConversationSession{
			PhoneNumber: phone,
			State:       models.StateGreeting,
			LastUpdate:  s.now(),
		}}
		s.entries[phone] = e
	}
	return e
}

// Update implements Store. Expired sessions are lazily reset before fn runs,
// so an idle participant is indistinguishable from a brand-new one.
func (s *InMemoryStore) Update(phone string, fn func(sess *models.ConversationSession)) error {
	if phone == "" {
		return models.ErrEmptyRecipient
	}
	e := s.lookup(phone)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	if e.session.Expired(now) {
		slog.Debug("session store resetting idle session", "phone", phone, "idle_since", e.session.LastUpdate)
		e.session.Reset(now)
	}
	fn(&e.session)
	e.session.LastUpdate = now
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(phone string) *models.ConversationSession {
	s.mu.Lock()
	e, ok := s.entries[phone]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	copied := e.session
	copied.SymptomHistory = append([]string(nil), e.session.SymptomHistory...)
	return &copied
}

// Delete implements Store.
func (s *InMemoryStore) Delete(phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, phone)
}

// Sweep implements Store. It is run periodically by the scheduler so the map
// does not grow without bound; lazy reset in Update already covers correctness.
func (s *InMemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for phone, e := range s.entries {
		e.mu.Lock()
		expired := e.session.Expired(now)
		e.mu.Unlock()
		if expired {
			delete(s.entries, phone)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("session store swept expired sessions", "removed", removed, "remaining", len(s.entries))
	}
	return removed
}
