package models

import (
	"testing"
	"time"
)

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := ConversationSession{PhoneNumber: "15551234567", State: StateGreeting, LastUpdate: now}

	if s.Expired(now.Add(29 * time.Minute)) {
		t.Error("session should not be expired before the idle timeout")
	}
	if !s.Expired(now.Add(31 * time.Minute)) {
		t.Error("session should be expired after the idle timeout")
	}
}

func TestSessionReset(t *testing.T) {
	now := time.Now()
	s := ConversationSession{
		PhoneNumber:    "15551234567",
		State:          StateCollectingSymptoms,
		SymptomHistory: []string{"fever", "rash"},
		LastUpdate:     now.Add(-time.Hour),
	}
	s.Reset(now)

	if s.State != StateGreeting {
		t.Errorf("expected state %s after reset, got %s", StateGreeting, s.State)
	}
	if len(s.SymptomHistory) != 0 {
		t.Errorf("expected empty symptom history after reset, got %v", s.SymptomHistory)
	}
	if !s.LastUpdate.Equal(now) {
		t.Error("expected LastUpdate set to reset time")
	}
}

func TestMessageHasAudio(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{"text only", Message{Body: "hello"}, false},
		{"voice note", Message{MediaURL: "https://api.twilio.com/m/0", MediaContentType: "audio/ogg"}, true},
		{"image attachment", Message{MediaURL: "https://api.twilio.com/m/0", MediaContentType: "image/jpeg"}, false},
		{"media url without type", Message{MediaURL: "https://api.twilio.com/m/0"}, false},
	}
	for _, tc := range cases {
		if got := tc.msg.HasAudio(); got != tc.want {
			t.Errorf("%s: HasAudio() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	resp := Success([]int{1, 2})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %s", resp.Status)
	}
	resp = Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
}
