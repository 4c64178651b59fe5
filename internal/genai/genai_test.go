package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerate_Success(t *testing.T) {
	mock := &mockChatService{resp: completionWith("Diagnosis: Flu\nFirst Aid: rest")}
	client := &Client{chat: mock, model: DefaultModel, maxTokens: 400}

	out, elapsed, err := client.Generate(context.Background(), "fever. headache", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Diagnosis: Flu\nFirst Aid: rest" {
		t.Errorf("unexpected output: %q", out)
	}
	if elapsed < 0 {
		t.Error("expected non-negative elapsed time")
	}

	// The last message must carry the rendered question.
	last := mock.params.Messages[len(mock.params.Messages)-1]
	if got := last.OfUser.Content.OfString.Value; !strings.Contains(got, "fever. headache") {
		t.Errorf("prompt missing symptoms: %q", got)
	}
}

func TestGenerate_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}, model: DefaultModel, maxTokens: 400}
	_, _, err := client.Generate(context.Background(), "fever", nil)
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}, model: DefaultModel, maxTokens: 400}
	_, _, err := client.Generate(context.Background(), "fever", nil)
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerate_RecentExchangesOldestFirst(t *testing.T) {
	mock := &mockChatService{resp: completionWith("Diagnosis: Flu")}
	client := &Client{chat: mock, model: DefaultModel, maxTokens: 400}

	// Newest first, as the store returns them.
	recent := []models.ConversationLogEntry{
		{UserInput: "second question", BotResponse: "second answer"},
		{UserInput: "first question", BotResponse: "first answer"},
	}
	if _, _, err := client.Generate(context.Background(), "fever", recent); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// system, first q, first a, second q, second a, prompt
	if len(mock.params.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(mock.params.Messages))
	}
	if got := mock.params.Messages[1].OfUser.Content.OfString.Value; got != "first question" {
		t.Errorf("expected oldest exchange first, got %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("fever. cough")
	if !strings.HasPrefix(prompt, "Question: A patient presents with the following symptoms: fever. cough.") {
		t.Errorf("unexpected prompt: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "Answer:") {
		t.Errorf("prompt must end with the answer tag: %q", prompt)
	}
}

func TestStripPromptEcho(t *testing.T) {
	prompt := BuildPrompt("fever")
	echoed := prompt + "\nDiagnosis: Flu"
	if got := stripPromptEcho(prompt, echoed); got != "Diagnosis: Flu" {
		t.Errorf("expected echo stripped, got %q", got)
	}
	clean := "Diagnosis: Flu"
	if got := stripPromptEcho(prompt, clean); got != clean {
		t.Errorf("clean output must pass through, got %q", got)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithMaxTokens(200))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.maxTokens != 200 {
		t.Errorf("options not applied: %+v", cli)
	}
}
