// Package triage implements the symptom-collection conversation state machine.
// It decides, for each inbound message, whether to answer with a canned quick
// response, prompt for more symptoms, or hand the collected symptoms to the
// generator and return a formatted diagnosis.
package triage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Smoke-IT/NurseTalk/internal/formatter"
	"github.com/Smoke-IT/NurseTalk/internal/models"
	"github.com/Smoke-IT/NurseTalk/internal/session"
)

// User-facing prompts. These are the complete set of texts the engine can
// produce on its own; everything else comes from the generator via the
// formatter.
const (
	AckPrompt        = "I've noted that. Is there anything else about the symptoms?"
	EmptyInputPrompt = "Please describe the symptoms you are experiencing."
	NeedSymptomText  = "Please tell me at least one symptom before I can help."
	ApologyText      = "Sorry, I'm having trouble processing your request right now. Please try again later."

	GreetingReply  = "Hello! I'm your medical assistant. Please describe the symptoms you are experiencing."
	GratitudeReply = "You're welcome! Take care."
	GoodbyeReply   = "Goodbye! Take care of yourself."
)

// RecentExchangeLimit is how many prior exchanges are handed to the generator
// as conversation context.
const RecentExchangeLimit = 3

// finishingWords end symptom collection. Matched exactly, case-insensitive,
// after trimming surrounding whitespace and trailing punctuation.
var finishingWords = map[string]bool{
	"no":         true,
	"nope":       true,
	"nah":        true,
	"thats all":  true,
	"that's all": true,
	"done":       true,
	"finished":   true,
}

// quickResponses are canned replies that short-circuit the state machine
// without touching the session.
var quickResponses = map[string]string{
	"hi":        GreetingReply,
	"hello":     GreetingReply,
	"hey":       GreetingReply,
	"thank you": GratitudeReply,
	"thanks":    GratitudeReply,
	"thx":       GratitudeReply,
	"bye":       GoodbyeReply,
	"goodbye":   GoodbyeReply,
	"good bye":  GoodbyeReply,
}

// ReplyKind classifies what the engine produced for a turn.
type ReplyKind int

const (
	// KindPrompt is a fixed prompt (ack, empty-input, need-symptom).
	KindPrompt ReplyKind = iota
	// KindQuickResponse is a canned greeting/gratitude/goodbye reply.
	KindQuickResponse
	// KindDiagnosis is a formatted generator answer.
	KindDiagnosis
	// KindApology is the fixed reply after a generation failure.
	KindApology
)

// Reply is the outcome of one conversation turn.
type Reply struct {
	Text    string
	Kind    ReplyKind
	Elapsed time.Duration // generator latency, set only for KindDiagnosis and KindApology
}

// Generator produces a raw diagnosis for the combined symptom text.
type Generator interface {
	Generate(ctx context.Context, symptoms string, recent []models.ConversationLogEntry) (string, time.Duration, error)
}

// History supplies prior exchanges for generator context.
type History interface {
	GetRecentExchanges(phoneNumber string, limit int) ([]models.ConversationLogEntry, error)
}

// Engine runs the state machine over a session store.
type Engine struct {
	sessions session.Store
	gen      Generator
	history  History
}

// NewEngine creates an Engine. history may be nil; the generator is then
// called without conversation context.
func NewEngine(sessions session.Store, gen Generator, history History) *Engine {
	return &Engine{sessions: sessions, gen: gen, history: history}
}

// QuickResponse returns the canned reply for greeting/gratitude/goodbye
// inputs, or false when the input is not one of them.
func QuickResponse(input string) (string, bool) {
	reply, ok := quickResponses[normalizeUtterance(input)]
	return reply, ok
}

// IsFinishing reports whether the input ends symptom collection.
func IsFinishing(input string) bool {
	return finishingWords[normalizeUtterance(input)]
}

func normalizeUtterance(input string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(input), "!.?,"))
}

// turn outcomes computed under the session lock.
const (
	outcomeAck = iota
	outcomeNeedSymptom
	outcomeGenerate
)

// Handle processes one inbound message for the given canonical phone number
// and returns the reply to deliver. The returned error is non-nil only when
// generation failed; the Reply is still usable (the apology text) so the turn
// can be delivered and logged as failed.
func (e *Engine) Handle(ctx context.Context, phone, input string) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{Text: EmptyInputPrompt, Kind: KindPrompt}, nil
	}

	if reply, ok := QuickResponse(input); ok {
		slog.Debug("Engine.Handle quick response", "phone", phone)
		return Reply{Text: reply, Kind: KindQuickResponse}, nil
	}

	var outcome int
	var combined string
	err := e.sessions.Update(phone, func(sess *models.ConversationSession) {
		if sess.State == models.StateCollectingSymptoms && IsFinishing(input) {
			if len(sess.SymptomHistory) == 0 {
				outcome = outcomeNeedSymptom
				sess.Reset(sess.LastUpdate)
				return
			}
			combined = strings.Join(sess.SymptomHistory, ". ")
			outcome = outcomeGenerate
			sess.Reset(sess.LastUpdate)
			return
		}
		sess.SymptomHistory = append(sess.SymptomHistory, input)
		sess.State = models.StateCollectingSymptoms
		outcome = outcomeAck
	})
	if err != nil {
		return Reply{}, err
	}

	switch outcome {
	case outcomeNeedSymptom:
		slog.Debug("Engine.Handle finishing word with no symptoms", "phone", phone)
		return Reply{Text: NeedSymptomText, Kind: KindPrompt}, nil
	case outcomeGenerate:
		return e.generate(ctx, phone, combined)
	default:
		return Reply{Text: AckPrompt, Kind: KindPrompt}, nil
	}
}

func (e *Engine) generate(ctx context.Context, phone, combined string) (Reply, error) {
	var recent []models.ConversationLogEntry
	if e.history != nil {
		var err error
		recent, err = e.history.GetRecentExchanges(phone, RecentExchangeLimit)
		if err != nil {
			slog.Warn("Engine.generate failed to load recent exchanges", "error", err, "phone", phone)
			recent = nil
		}
	}

	slog.Info("Engine.generate invoking generator", "phone", phone, "symptoms_length", len(combined))
	raw, elapsed, err := e.gen.Generate(ctx, combined, recent)
	if err != nil {
		slog.Error("Engine.generate generation failed", "error", err, "phone", phone)
		return Reply{Text: ApologyText, Kind: KindApology, Elapsed: elapsed}, err
	}

	return Reply{Text: formatter.Format(raw), Kind: KindDiagnosis, Elapsed: elapsed}, nil
}
