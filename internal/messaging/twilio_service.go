package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/models"
	"github.com/Smoke-IT/NurseTalk/internal/session"
	"github.com/Smoke-IT/NurseTalk/internal/twiliowhatsapp"
)

// SignatureValidator checks a webhook request signature. Wired to
// twiliowhatsapp.Client.ValidateSignature in production; nil disables
// validation (local development, tests).
type SignatureValidator func(requestURL string, form url.Values, signature string) bool

// TwilioService implements the Service interface using the Twilio API.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	validator SignatureValidator
	receipts  chan models.Receipt
	messages  chan models.Message
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidator enables webhook signature validation.
func WithSignatureValidator(v SignatureValidator) TwilioOption {
	return func(s *TwilioService) { s.validator = v }
}

// NewTwilioService creates a new TwilioService over the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	service := &TwilioService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := session.CanonicalPhoneNumber(recipient)
	if err != nil {
		return "", err
	}
	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound messages arrive via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.messages)
	}()

	return nil
}

// SendMessage sends a text message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// SendMediaMessage sends a media message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMediaMessage(ctx context.Context, to string, body string, mediaURL string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMediaMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMediaMessage(ctx, canonicalTo, body, mediaURL); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Messages returns the channel for inbound messages.
func (s *TwilioService) Messages() <-chan models.Message {
	return s.messages
}

func (s *TwilioService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}

func (s *TwilioService) safeEmitMessage(msg models.Message) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService messages channel blocked, dropping message", "from", msg.From)
	}
}

// ParseWebhook extracts an inbound message from a Twilio webhook request.
// It validates the signature when a validator is configured. The boolean is
// false when the request should be rejected.
func (s *TwilioService) ParseWebhook(r *http.Request) (models.Message, bool) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		return models.Message{}, false
	}

	if s.validator != nil {
		requestURL := "https://" + r.Host + r.URL.RequestURI()
		signature := r.Header.Get("X-Twilio-Signature")
		if !s.validator(requestURL, r.PostForm, signature) {
			slog.Warn("TwilioService webhook signature validation failed", "url", requestURL)
			return models.Message{}, false
		}
	}

	msg := models.Message{
		From:             r.FormValue("From"),
		Body:             r.FormValue("Body"),
		MediaURL:         r.FormValue("MediaUrl0"),
		MediaContentType: r.FormValue("MediaContentType0"),
		Time:             time.Now().Unix(),
	}
	if msg.From == "" {
		slog.Warn("TwilioService webhook missing sender")
		return models.Message{}, false
	}
	return msg, true
}

// TwilioWebhookHandler handles inbound Twilio webhook requests by emitting
// parsed messages into the Messages() channel. The API server uses
// ParseWebhook directly for synchronous processing; this handler exists for
// deployments that consume the channel instead.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	msg, ok := s.ParseWebhook(r)
	if !ok {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", msg.From, "has_audio", msg.HasAudio())
	s.safeEmitMessage(msg)

	w.WriteHeader(http.StatusOK)
}
