// Package models defines the core data structures for NurseTalk.
//
// It includes types for conversation sessions, persisted conversation log
// entries, and inbound/outbound message events, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// SessionState identifies where a participant is in the symptom-collection flow.
type SessionState string

const (
	// StateGreeting is the initial state before any symptom has been recorded.
	StateGreeting SessionState = "GREETING"
	// StateCollectingSymptoms means at least one symptom has been recorded and
	// the assistant is waiting for more symptoms or a finishing word.
	StateCollectingSymptoms SessionState = "COLLECTING_SYMPTOMS"
)

// SessionIdleTimeout is how long a session may go without activity before it
// is treated as brand new on the next message.
const SessionIdleTimeout = 30 * time.Minute

// ConversationSession tracks the per-phone-number symptom collection state.
// Sessions live only in memory; they are reset after a finalized diagnosis,
// and lazily after SessionIdleTimeout of inactivity.
type ConversationSession struct {
	PhoneNumber    string       `json:"phone_number"`
	State          SessionState `json:"state"`
	SymptomHistory []string     `json:"symptom_history"`
	LastUpdate     time.Time    `json:"last_update"`
}

// Expired reports whether the session has been idle past the timeout.
func (s *ConversationSession) Expired(now time.Time) bool {
	return now.Sub(s.LastUpdate) > SessionIdleTimeout
}

// Reset returns the session to the initial state with an empty history.
func (s *ConversationSession) Reset(now time.Time) {
	s.State = StateGreeting
	s.SymptomHistory = nil
	s.LastUpdate = now
}

// LogStatus tags a conversation log entry with the outcome of the exchange.
type LogStatus string

const (
	// LogStatusSent indicates the bot response was delivered.
	LogStatusSent LogStatus = "sent"
	// LogStatusFailed indicates generation or delivery failed.
	LogStatusFailed LogStatus = "failed"
	// LogStatusProcessing indicates the exchange was recorded before delivery completed.
	LogStatusProcessing LogStatus = "processing"
	// LogStatusQuickResponse indicates the reply was canned and bypassed the generator.
	LogStatusQuickResponse LogStatus = "quick_response"
)

// ConversationLogEntry is one persisted inbound/outbound exchange attempt.
// Entries are append-only; nothing in NurseTalk updates or deletes them.
type ConversationLogEntry struct {
	ID           string    `json:"id"`
	PhoneNumber  string    `json:"phone_number"`
	Timestamp    time.Time `json:"timestamp"`
	UserInput    string    `json:"user_input"`
	BotResponse  string    `json:"bot_response"`
	ResponseTime *float64  `json:"response_time,omitempty"` // seconds, nil when no generator ran
	Status       LogStatus `json:"status"`
}

// Message represents an inbound WhatsApp message from a participant.
// Voice notes carry a media URL and content type instead of (or alongside) text.
type Message struct {
	From             string `json:"from"`
	Body             string `json:"body"`
	MediaURL         string `json:"media_url,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`
	Time             int64  `json:"time"`
}

// HasAudio reports whether the message carries a voice attachment.
func (m *Message) HasAudio() bool {
	return m.MediaURL != "" && len(m.MediaContentType) >= 5 && m.MediaContentType[:5] == "audio"
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records a status change for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// DeliveryResult is the structured outcome of a delivery attempt.
type DeliveryResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"id,omitempty"`
	Segments  int    `json:"segments,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Validation errors shared across modules.
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrInvalidPhone   = errors.New("invalid phone number")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
