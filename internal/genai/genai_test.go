package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
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

func TestComplete_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}
	svc := &mockChatService{resp: mockResp}
	client := &Client{chat: svc, model: "test-model", maxCompletionTokens: 50}
	out, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(svc.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(svc.params.Messages))
	}
	if string(svc.params.Model) != "test-model" {
		t.Errorf("expected model test-model, got %s", svc.params.Model)
	}
}

func TestComplete_SkipsEmptySystemPrompt(t *testing.T) {
	svc := &mockChatService{resp: openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{}}}}
	client := &Client{chat: svc, model: "m"}
	if _, err := client.Complete(context.Background(), "  ", "usr"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.params.Messages) != 1 {
		t.Errorf("expected only the user message, got %d", len(svc.params.Messages))
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Complete(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.Complete(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithMaxCompletionTokens(64))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.maxCompletionTokens != 64 {
		t.Errorf("options not applied: %+v", cli)
	}
}
