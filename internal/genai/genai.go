// Package genai wraps the OpenAI chat completion API to produce diagnosis
// text for a set of collected symptoms.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// DefaultModel is the chat model used when no override is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// systemPrompt frames every generation request.
const systemPrompt = "You are a medical triage assistant. Given a patient's symptoms, " +
	"state the likely diagnosis and list first aid steps. Label the sections " +
	"\"Diagnosis:\" and \"First Aid:\". Keep the answer short and practical. " +
	"Never prescribe medication doses beyond common over-the-counter guidance."

// ErrNoChoicesReturned indicates the API response contained no choices.
var ErrNoChoicesReturned = errors.New("no choices returned from completion API")

// chatService abstracts the OpenAI chat completion call for testing.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService implements chatService using the real OpenAI client.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// Client generates diagnosis text via the OpenAI chat API.
type Client struct {
	chat      chatService
	model     string
	maxTokens int64
}

// NewClient creates a GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key not provided")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 400
	}

	api := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "model", cfg.Model, "max_tokens", cfg.MaxTokens)
	return &Client{chat: &openaiChatService{client: api}, model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

// BuildPrompt renders the question sent for the combined symptom text.
func BuildPrompt(symptoms string) string {
	return fmt.Sprintf("Question: A patient presents with the following symptoms: %s. "+
		"What is the likely diagnosis and what are the first aid steps?\n\nAnswer:", symptoms)
}

// Generate produces a raw diagnosis for the combined symptom text, using up to
// a few recent exchanges as conversation context. It returns the raw model
// output, the time the API call took, and any error.
func (c *Client) Generate(ctx context.Context, symptoms string, recent []models.ConversationLogEntry) (string, time.Duration, error) {
	prompt := BuildPrompt(symptoms)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2+2*len(recent))
	messages = append(messages, openai.SystemMessage(systemPrompt))
	// Oldest exchange first so the model reads the conversation in order.
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].UserInput != "" {
			messages = append(messages, openai.UserMessage(recent[i].UserInput))
		}
		if recent[i].BotResponse != "" {
			messages = append(messages, openai.AssistantMessage(recent[i].BotResponse))
		}
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(c.maxTokens),
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("GenAI Generate API call failed", "error", err, "elapsed", elapsed)
		return "", elapsed, fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI Generate returned no choices", "elapsed", elapsed)
		return "", elapsed, ErrNoChoicesReturned
	}

	out := stripPromptEcho(prompt, resp.Choices[0].Message.Content)
	slog.Debug("GenAI Generate succeeded", "elapsed", elapsed, "output_length", len(out))
	return out, elapsed, nil
}

// stripPromptEcho removes a repeated question from the front of the model
// output. Some models echo the prompt before answering.
func stripPromptEcho(prompt, out string) string {
	out = strings.TrimSpace(out)
	if rest, ok := strings.CutPrefix(out, prompt); ok {
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(out, "What is the likely diagnosis and what are the first aid steps?"); idx >= 0 {
		rest := out[idx:]
		if cut := strings.Index(rest, "\n"); cut >= 0 {
			return strings.TrimSpace(rest[cut:])
		}
	}
	return out
}
