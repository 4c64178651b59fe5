package triage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/models"
	"github.com/Smoke-IT/NurseTalk/internal/session"
)

// mockGenerator records calls and returns a canned raw answer or an error.
type mockGenerator struct {
	calls    int
	lastText string
	raw      string
	err      error
}

func (m *mockGenerator) Generate(ctx context.Context, symptoms string, recent []models.ConversationLogEntry) (string, time.Duration, error) {
	m.calls++
	m.lastText = symptoms
	if m.err != nil {
		return "", 50 * time.Millisecond, m.err
	}
	return m.raw, 50 * time.Millisecond, nil
}

type mockHistory struct {
	entries []models.ConversationLogEntry
	err     error
}

func (m *mockHistory) GetRecentExchanges(phoneNumber string, limit int) ([]models.ConversationLogEntry, error) {
	return m.entries, m.err
}

func newTestEngine(gen *mockGenerator) (*Engine, *session.InMemoryStore) {
	sessions := session.NewInMemoryStore()
	return NewEngine(sessions, gen, &mockHistory{}), sessions
}

func TestQuickResponse(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"hi", GreetingReply, true},
		{"Hello!", GreetingReply, true},
		{"  THANKS ", GratitudeReply, true},
		{"good bye", GoodbyeReply, true},
		{"fever", "", false},
		{"hi there", "", false},
	}
	for _, c := range cases {
		got, ok := QuickResponse(c.input)
		if ok != c.ok || got != c.want {
			t.Errorf("QuickResponse(%q) = %q, %v; want %q, %v", c.input, got, ok, c.want, c.ok)
		}
	}
}

func TestQuickResponseDoesNotTouchSession(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Flu"}
	eng, sessions := newTestEngine(gen)

	if _, err := eng.Handle(context.Background(), "15551234567", "hello"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if sessions.Get("15551234567") != nil {
		t.Error("quick response should not create a session")
	}
}

func TestIsFinishing(t *testing.T) {
	for _, word := range []string{"no", "Nope", "nah", "thats all", "That's all", "DONE", "finished.", "No!"} {
		if !IsFinishing(word) {
			t.Errorf("expected %q to finish collection", word)
		}
	}
	for _, word := range []string{"nothing hurts", "i am done for", "not done"} {
		if IsFinishing(word) {
			t.Errorf("did not expect %q to finish collection", word)
		}
	}
}

func TestFirstSymptomMovesToCollecting(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Flu"}
	eng, sessions := newTestEngine(gen)

	reply, err := eng.Handle(context.Background(), "15551234567", "fever and chills")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.Text != AckPrompt || reply.Kind != KindPrompt {
		t.Errorf("unexpected reply: %+v", reply)
	}

	sess := sessions.Get("15551234567")
	if sess == nil {
		t.Fatal("expected session to exist")
	}
	if sess.State != models.StateCollectingSymptoms {
		t.Errorf("expected COLLECTING_SYMPTOMS, got %s", sess.State)
	}
	if len(sess.SymptomHistory) != 1 || sess.SymptomHistory[0] != "fever and chills" {
		t.Errorf("unexpected history: %v", sess.SymptomHistory)
	}
}

func TestFinishingWordTriggersGeneration(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Malaria\nFirst Aid: rest"}
	eng, sessions := newTestEngine(gen)
	ctx := context.Background()

	if _, err := eng.Handle(ctx, "15551234567", "fever"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if _, err := eng.Handle(ctx, "15551234567", "headache"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	reply, err := eng.Handle(ctx, "15551234567", "no")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("expected 1 generator call, got %d", gen.calls)
	}
	if gen.lastText != "fever. headache" {
		t.Errorf("expected symptoms joined with '. ', got %q", gen.lastText)
	}
	if reply.Kind != KindDiagnosis {
		t.Errorf("expected diagnosis reply, got kind %d", reply.Kind)
	}
	if !strings.Contains(reply.Text, "Malaria") {
		t.Errorf("formatted diagnosis missing, got:\n%s", reply.Text)
	}
	if reply.Elapsed == 0 {
		t.Error("expected generator latency on reply")
	}

	sess := sessions.Get("15551234567")
	if sess == nil || sess.State != models.StateGreeting || len(sess.SymptomHistory) != 0 {
		t.Errorf("expected session reset after diagnosis, got %+v", sess)
	}
}

func TestFinishingWordWithEmptyHistoryNeverCallsGenerator(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Flu"}
	eng, sessions := newTestEngine(gen)
	ctx := context.Background()

	// Put the session in COLLECTING_SYMPTOMS with no recorded symptoms.
	if err := sessions.Update("15551234567", func(sess *models.ConversationSession) {
		sess.State = models.StateCollectingSymptoms
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reply, err := eng.Handle(ctx, "15551234567", "done")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator must not run without symptoms, got %d calls", gen.calls)
	}
	if reply.Text != NeedSymptomText {
		t.Errorf("unexpected reply: %q", reply.Text)
	}
	sess := sessions.Get("15551234567")
	if sess.State != models.StateGreeting {
		t.Errorf("expected reset to GREETING, got %s", sess.State)
	}
}

func TestGeneratorFailureApologizesAndResets(t *testing.T) {
	gen := &mockGenerator{err: errors.New("upstream unavailable")}
	eng, sessions := newTestEngine(gen)
	ctx := context.Background()

	if _, err := eng.Handle(ctx, "15551234567", "fever"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	reply, err := eng.Handle(ctx, "15551234567", "no")
	if err == nil {
		t.Fatal("expected error from failed generation")
	}
	if reply.Text != ApologyText || reply.Kind != KindApology {
		t.Errorf("unexpected reply: %+v", reply)
	}
	sess := sessions.Get("15551234567")
	if sess.State != models.StateGreeting || len(sess.SymptomHistory) != 0 {
		t.Errorf("expected session reset after failure, got %+v", sess)
	}
}

func TestEmptyInputDoesNotMutateState(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Flu"}
	eng, sessions := newTestEngine(gen)
	ctx := context.Background()

	if _, err := eng.Handle(ctx, "15551234567", "fever"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	reply, err := eng.Handle(ctx, "15551234567", "   ")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.Text != EmptyInputPrompt {
		t.Errorf("unexpected reply: %q", reply.Text)
	}
	sess := sessions.Get("15551234567")
	if len(sess.SymptomHistory) != 1 {
		t.Errorf("blank input must not change history, got %v", sess.SymptomHistory)
	}
}

func TestFinishingWordInGreetingIsTreatedAsSymptom(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Flu"}
	eng, sessions := newTestEngine(gen)

	reply, err := eng.Handle(context.Background(), "15551234567", "no")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.Text != AckPrompt {
		t.Errorf("unexpected reply: %q", reply.Text)
	}
	sess := sessions.Get("15551234567")
	if len(sess.SymptomHistory) != 1 {
		t.Errorf("expected input recorded as first symptom, got %v", sess.SymptomHistory)
	}
}

func TestHistoryErrorDoesNotBlockGeneration(t *testing.T) {
	gen := &mockGenerator{raw: "Diagnosis: Flu"}
	sessions := session.NewInMemoryStore()
	eng := NewEngine(sessions, gen, &mockHistory{err: errors.New("store down")})
	ctx := context.Background()

	if _, err := eng.Handle(ctx, "15551234567", "fever"); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	reply, err := eng.Handle(ctx, "15551234567", "no")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if reply.Kind != KindDiagnosis {
		t.Errorf("expected diagnosis despite history error, got %+v", reply)
	}
}
