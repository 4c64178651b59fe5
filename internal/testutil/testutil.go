// Package testutil provides common test utilities and helpers for NurseTalk tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/api"
	"github.com/Smoke-IT/NurseTalk/internal/delivery"
	"github.com/Smoke-IT/NurseTalk/internal/messaging"
	"github.com/Smoke-IT/NurseTalk/internal/models"
	"github.com/Smoke-IT/NurseTalk/internal/session"
	"github.com/Smoke-IT/NurseTalk/internal/store"
	"github.com/Smoke-IT/NurseTalk/internal/triage"
	"github.com/Smoke-IT/NurseTalk/internal/whatsapp"
)

// CannedAnswer is the diagnosis returned by the test generator.
const CannedAnswer = "Diagnosis:\nCommon cold.\n\nFirst Aid Steps:\n- Rest and drink fluids."

// CannedGenerator is a triage.Generator returning a fixed answer or error.
type CannedGenerator struct {
	Answer string
	Err    error
}

// Generate returns the canned answer with a small fixed latency.
func (g CannedGenerator) Generate(_ context.Context, _ string, _ []models.ConversationLogEntry) (string, time.Duration, error) {
	return g.Answer, 5 * time.Millisecond, g.Err
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestServer() (*api.Server, store.Store) {
	msgService := messaging.NewWhatsAppService(whatsapp.NewMockClient())
	st := store.NewInMemoryStore()
	engine := triage.NewEngine(session.NewInMemoryStore(), CannedGenerator{Answer: CannedAnswer}, st)
	deliverer := delivery.NewAdapter(msgService, delivery.WithSleep(func(context.Context, time.Duration) error { return nil }))

	return api.NewServer(msgService, engine, st, deliverer), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertLogCount validates the number of logged exchanges for a phone number.
func AssertLogCount(t *testing.T, st store.Store, phone string, expected int, context string) {
	t.Helper()
	logs, err := st.GetConversationLogs(phone, 0)
	if err != nil {
		t.Fatalf("%s: failed to get conversation logs: %v", context, err)
	}
	if len(logs) != expected {
		t.Errorf("%s: expected %d logged exchanges, got %d", context, expected, len(logs))
	}
}

// SeedTestData adds sample conversation logs to the store for testing.
func SeedTestData(t *testing.T, st store.Store) {
	t.Helper()

	entries := []models.ConversationLogEntry{
		{PhoneNumber: "15551234567", UserInput: "I have a fever", BotResponse: "I've noted that. Is there anything else about the symptoms?", Status: models.LogStatusSent},
		{PhoneNumber: "15551234567", UserInput: "no", BotResponse: CannedAnswer, Status: models.LogStatusSent},
		{PhoneNumber: "15559876543", UserInput: "hi", BotResponse: "Hello! I'm your medical assistant. Please describe the symptoms you are experiencing.", Status: models.LogStatusQuickResponse},
	}
	for _, entry := range entries {
		if err := st.AddConversationLog(entry); err != nil {
			t.Fatalf("failed to add test log entry: %v", err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
