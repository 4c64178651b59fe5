// Package delivery sends formatted replies through a messaging service,
// splitting long bodies into provider-sized segments and retrying transient
// provider failures a bounded number of times.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	twclient "github.com/twilio/twilio-go/client"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

const (
	// MaxSegmentLength is the provider's per-message body limit.
	MaxSegmentLength = 1600
	// SegmentSuffix marks a segment as continued.
	SegmentSuffix = ".."
	// ContinuationPrefix marks a segment as a continuation.
	ContinuationPrefix = "(cont.) "

	// maxRetries is how many times a transient send failure is retried.
	maxRetries = 2
	// backoffBase is the first retry delay; it doubles per attempt.
	backoffBase = 500 * time.Millisecond
)

// Sender is the subset of the messaging service delivery depends on.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
	SendMediaMessage(ctx context.Context, to, body, mediaURL string) error
}

// RetryClassifier reports whether a send error is transient and worth retrying.
type RetryClassifier func(error) bool

// DefaultRetryClassifier treats Twilio rate limiting (429) and provider-side
// errors (5xx) as transient, along with network timeouts.
func DefaultRetryClassifier(err error) bool {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status == 429 || restErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Opts holds configuration for the delivery adapter.
type Opts struct {
	Classifier RetryClassifier
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures the delivery adapter.
type Option func(*Opts)

// WithRetryClassifier overrides transient-error detection.
func WithRetryClassifier(c RetryClassifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithSleep overrides the backoff sleep function. Used in tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Opts) { o.Sleep = fn }
}

// sleepContext waits for the delay or for the context to end.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Adapter delivers outbound messages through a Sender.
type Adapter struct {
	sender     Sender
	classifier RetryClassifier
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewAdapter creates a delivery adapter over the given sender.
func NewAdapter(sender Sender, opts ...Option) *Adapter {
	cfg := Opts{Classifier: DefaultRetryClassifier, Sleep: sleepContext}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adapter{sender: sender, classifier: cfg.Classifier, sleep: cfg.Sleep}
}

// Segment splits a body into provider-sized pieces. Bodies within the limit
// pass through unchanged. Longer bodies are cut at the last sentence boundary
// (period, question mark, exclamation mark, or newline) that fits; non-final
// segments end with SegmentSuffix and later segments start with
// ContinuationPrefix. Every returned segment fits in MaxSegmentLength.
func Segment(body string) []string {
	if len(body) <= MaxSegmentLength {
		return []string{body}
	}

	var segments []string
	rest := body
	for {
		prefix := ""
		if len(segments) > 0 {
			prefix = ContinuationPrefix
		}
		budget := MaxSegmentLength - len(prefix)
		if len(rest) <= budget {
			segments = append(segments, prefix+rest)
			return segments
		}

		budget -= len(SegmentSuffix)
		cut := lastBoundary(rest[:budget])
		if cut <= 0 {
			cut = budget
			// A hard cut must not split a multi-byte character.
			for cut > 0 && !utf8.RuneStart(rest[cut]) {
				cut--
			}
			if cut == 0 {
				cut = budget
			}
		}
		segments = append(segments, prefix+strings.TrimRight(rest[:cut], " ")+SegmentSuffix)
		rest = strings.TrimLeft(rest[cut:], " \n")
	}
}

// lastBoundary returns the index just past the last sentence boundary in s,
// or 0 when there is none.
func lastBoundary(s string) int {
	best := 0
	for i, r := range s {
		switch r {
		case '.', '!', '?', '\n':
			best = i + 1
		}
	}
	return best
}

// SendText delivers a text body, segmenting as needed. Each segment is retried
// up to maxRetries times on transient errors. Delivery stops at the first
// segment that permanently fails; the result records how many segments went out.
func (a *Adapter) SendText(ctx context.Context, to, body string) (models.DeliveryResult, error) {
	if to == "" {
		return models.DeliveryResult{Error: models.ErrEmptyRecipient.Error()}, models.ErrEmptyRecipient
	}
	if strings.TrimSpace(body) == "" {
		return models.DeliveryResult{Error: models.ErrEmptyBody.Error()}, models.ErrEmptyBody
	}

	segments := Segment(body)
	sent := 0
	for i, segment := range segments {
		if err := a.sendWithRetry(ctx, to, segment); err != nil {
			slog.Error("Delivery.SendText segment failed", "error", err, "to", to, "segment", i+1, "total", len(segments))
			return models.DeliveryResult{Segments: sent, Error: err.Error()},
				fmt.Errorf("failed to deliver segment %d of %d: %w", i+1, len(segments), err)
		}
		sent++
	}

	slog.Info("Delivery.SendText delivered", "to", to, "segments", sent)
	return models.DeliveryResult{Success: true, Segments: sent}, nil
}

// SendAudio delivers a media message pointing at a synthesized clip. It is
// called after the text went out; a failure here leaves the text delivered.
func (a *Adapter) SendAudio(ctx context.Context, to, mediaURL string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if err := a.sendMediaWithRetry(ctx, to, mediaURL); err != nil {
		slog.Warn("Delivery.SendAudio failed", "error", err, "to", to)
		return fmt.Errorf("failed to deliver audio: %w", err)
	}
	return nil
}

func (a *Adapter) sendWithRetry(ctx context.Context, to, body string) error {
	return a.retry(ctx, func() error { return a.sender.SendMessage(ctx, to, body) })
}

func (a *Adapter) sendMediaWithRetry(ctx context.Context, to, mediaURL string) error {
	return a.retry(ctx, func() error { return a.sender.SendMediaMessage(ctx, to, "", mediaURL) })
}

func (a *Adapter) retry(ctx context.Context, send func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = send()
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !a.classifier(err) {
			return err
		}
		delay := backoffBase << attempt
		slog.Debug("Delivery retrying transient failure", "error", err, "attempt", attempt+1, "delay", delay)
		if sleepErr := a.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}
