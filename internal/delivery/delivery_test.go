package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	twclient "github.com/twilio/twilio-go/client"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// mockSender records sent bodies and fails the first failN calls.
type mockSender struct {
	bodies []string
	media  []string
	failN  int
	err    error
}

func (m *mockSender) SendMessage(ctx context.Context, to, body string) error {
	if m.failN > 0 {
		m.failN--
		return m.err
	}
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *mockSender) SendMediaMessage(ctx context.Context, to, body, mediaURL string) error {
	if m.failN > 0 {
		m.failN--
		return m.err
	}
	m.media = append(m.media, mediaURL)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func transientErr() error {
	return &twclient.TwilioRestError{Status: 503, Message: "service unavailable"}
}

func TestSegmentShortBodyPassesThrough(t *testing.T) {
	segs := Segment("Diagnosis:\nFlu")
	if len(segs) != 1 || segs[0] != "Diagnosis:\nFlu" {
		t.Errorf("unexpected segments: %v", segs)
	}
}

func TestSegmentLongBody(t *testing.T) {
	sentence := "The patient should rest and drink fluids regularly. "
	body := strings.TrimSpace(strings.Repeat(sentence, 60)) // ~3000 chars
	segs := Segment(body)

	if len(segs) < 2 {
		t.Fatalf("expected at least 2 segments, got %d", len(segs))
	}
	for i, seg := range segs {
		if len(seg) > MaxSegmentLength {
			t.Errorf("segment %d exceeds limit: %d chars", i, len(seg))
		}
		if i < len(segs)-1 && !strings.HasSuffix(seg, SegmentSuffix) {
			t.Errorf("non-final segment %d missing suffix: %q", i, seg[len(seg)-10:])
		}
		if i > 0 && !strings.HasPrefix(seg, ContinuationPrefix) {
			t.Errorf("continuation %d missing prefix: %q", i, seg[:20])
		}
	}

	// Nothing lost: strip markers and compare content.
	var rebuilt strings.Builder
	for i, seg := range segs {
		seg = strings.TrimPrefix(seg, ContinuationPrefix)
		if i < len(segs)-1 {
			seg = strings.TrimSuffix(seg, SegmentSuffix)
		}
		rebuilt.WriteString(seg)
		rebuilt.WriteString(" ")
	}
	if !strings.Contains(rebuilt.String(), "rest and drink fluids") {
		t.Error("segment content mangled")
	}
}

func TestSegmentSplitsAtSentenceBoundary(t *testing.T) {
	body := strings.Repeat("word ", 200) + "End of first part. " + strings.Repeat("word ", 200)
	segs := Segment(body)
	if len(segs) < 2 {
		t.Fatalf("expected split, got %d segments", len(segs))
	}
	if !strings.HasSuffix(segs[0], "End of first part."+SegmentSuffix) {
		t.Errorf("expected split after sentence, segment ends with %q", segs[0][len(segs[0])-30:])
	}
}

func TestSegmentNoBoundaryHardCut(t *testing.T) {
	body := strings.Repeat("a", 4000)
	segs := Segment(body)
	total := 0
	for i, seg := range segs {
		if len(seg) > MaxSegmentLength {
			t.Errorf("segment %d exceeds limit: %d", i, len(seg))
		}
		seg = strings.TrimPrefix(seg, ContinuationPrefix)
		if i < len(segs)-1 {
			seg = strings.TrimSuffix(seg, SegmentSuffix)
		}
		total += len(seg)
	}
	if total != 4000 {
		t.Errorf("expected all 4000 chars preserved, got %d", total)
	}
}

func TestSegmentHardCutKeepsRunesIntact(t *testing.T) {
	// 2001 bytes, no sentence boundary; the byte budget lands mid-rune.
	body := "a" + strings.Repeat("é", 1000)
	segs := Segment(body)
	if len(segs) < 2 {
		t.Fatalf("expected split, got %d segments", len(segs))
	}
	var rebuilt strings.Builder
	for i, seg := range segs {
		if len(seg) > MaxSegmentLength {
			t.Errorf("segment %d exceeds limit: %d bytes", i, len(seg))
		}
		if !utf8.ValidString(seg) {
			t.Errorf("segment %d is not valid UTF-8", i)
		}
		seg = strings.TrimPrefix(seg, ContinuationPrefix)
		if i < len(segs)-1 {
			seg = strings.TrimSuffix(seg, SegmentSuffix)
		}
		rebuilt.WriteString(seg)
	}
	if rebuilt.String() != body {
		t.Error("hard cut lost or corrupted characters")
	}
}

func TestSendTextSingleSegment(t *testing.T) {
	sender := &mockSender{}
	adapter := NewAdapter(sender, WithSleep(noSleep))

	result, err := adapter.SendText(context.Background(), "15551234567", "Diagnosis:\nFlu")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if !result.Success || result.Segments != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(sender.bodies) != 1 {
		t.Errorf("expected 1 send, got %d", len(sender.bodies))
	}
}

func TestSendTextRetriesTransientThenSucceeds(t *testing.T) {
	sender := &mockSender{failN: 2, err: transientErr()}
	var slept []time.Duration
	adapter := NewAdapter(sender, WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	result, err := adapter.SendText(context.Background(), "15551234567", "hello")
	if err != nil {
		t.Fatalf("SendText failed after retries: %v", err)
	}
	if !result.Success {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(slept))
	}
	if slept[1] != 2*slept[0] {
		t.Errorf("expected exponential backoff, got %v", slept)
	}
}

func TestSendTextGivesUpAfterMaxRetries(t *testing.T) {
	sender := &mockSender{failN: 10, err: transientErr()}
	adapter := NewAdapter(sender, WithSleep(noSleep))

	_, err := adapter.SendText(context.Background(), "15551234567", "hello")
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	// 1 attempt + 2 retries.
	if got := 10 - sender.failN; got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestSendTextBackoffAbortsOnCanceledContext(t *testing.T) {
	sender := &mockSender{failN: 10, err: transientErr()}
	// Default sleep: the backoff itself must observe the context.
	adapter := NewAdapter(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := adapter.SendText(ctx, "15551234567", "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := 10 - sender.failN; got != 1 {
		t.Errorf("expected no retry after cancellation, got %d attempts", got)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("backoff ignored cancellation, took %v", elapsed)
	}
}

func TestSendTextPermanentErrorNotRetried(t *testing.T) {
	permanent := &twclient.TwilioRestError{Status: 400, Message: "invalid number"}
	sender := &mockSender{failN: 10, err: permanent}
	adapter := NewAdapter(sender, WithSleep(noSleep))

	_, err := adapter.SendText(context.Background(), "15551234567", "hello")
	if err == nil {
		t.Fatal("expected permanent failure")
	}
	if got := 10 - sender.failN; got != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", got)
	}
}

func TestSendTextValidation(t *testing.T) {
	adapter := NewAdapter(&mockSender{}, WithSleep(noSleep))
	if _, err := adapter.SendText(context.Background(), "", "hello"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if _, err := adapter.SendText(context.Background(), "15551234567", "  "); !errors.Is(err, models.ErrEmptyBody) {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
}

func TestSendAudioFailureDoesNotAffectText(t *testing.T) {
	sender := &mockSender{}
	adapter := NewAdapter(sender, WithSleep(noSleep))

	if _, err := adapter.SendText(context.Background(), "15551234567", "text body"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	sender.failN = 10
	sender.err = errors.New("media rejected")
	if err := adapter.SendAudio(context.Background(), "15551234567", "https://example.com/a.mp3"); err == nil {
		t.Fatal("expected audio failure")
	}
	if len(sender.bodies) != 1 {
		t.Errorf("text delivery must be unaffected, got %v", sender.bodies)
	}
}

func TestDefaultRetryClassifier(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&twclient.TwilioRestError{Status: 429}, true},
		{&twclient.TwilioRestError{Status: 500}, true},
		{&twclient.TwilioRestError{Status: 503}, true},
		{&twclient.TwilioRestError{Status: 400}, false},
		{&twclient.TwilioRestError{Status: 401}, false},
		{errors.New("plain"), false},
	}
	for _, c := range cases {
		if got := DefaultRetryClassifier(c.err); got != c.want {
			t.Errorf("DefaultRetryClassifier(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
