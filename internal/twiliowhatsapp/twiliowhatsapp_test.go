package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestMockClient_SendMediaMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMediaMessage(ctx, "12345", "", "https://example.com/audio/clip.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.MediaMessages) != 1 {
		t.Fatalf("expected 1 media message, got %d", len(mock.MediaMessages))
	}
	if mock.MediaMessages[0].MediaURL != "https://example.com/audio/clip.mp3" {
		t.Errorf("unexpected media URL %q", mock.MediaMessages[0].MediaURL)
	}
}

func TestMockClient_Err(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("provider down")

	if err := mock.SendMessage(context.Background(), "12345", "x"); err == nil {
		t.Error("expected configured error")
	}
	if len(mock.SentMessages) != 0 {
		t.Errorf("failed send must not be recorded, got %v", mock.SentMessages)
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
}
