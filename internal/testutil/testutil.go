// Package testutil provides common test utilities shared by the engine, dispatch and API
// tests: a recording surface adapter, scripted tool executors and workflow fixtures.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/models"
)

// Rendered is one Render call seen by a RecordingAdapter.
type Rendered struct {
	Target    models.SurfaceTarget
	Primitive models.Primitive
	Context   messaging.RenderContext
	MessageID string
}

// Ack is one AcknowledgeAction call.
type Ack struct {
	Raw  any
	Text string
}

// RecordingAdapter is an in-memory messaging.Adapter that records every call. Raw events
// it understands are *models.ParsedUserAction values, returned as-is by ParseAction.
type RecordingAdapter struct {
	mu      sync.Mutex
	surface string
	caps    models.SurfaceCapabilities
	nextID  int

	Renders   []Rendered
	Sent      []string // texts passed to SendMessage
	Updates   []string // texts passed to UpdateMessage
	Deleted   []string
	Cleared   []string // message ids passed to ClearActions
	Acks      []Ack
	RenderErr error
}

var (
	_ messaging.Adapter         = (*RecordingAdapter)(nil)
	_ messaging.ActionClearer   = (*RecordingAdapter)(nil)
	_ messaging.EventIdentifier = (*RecordingAdapter)(nil)
)

// NewRecordingAdapter creates an adapter for surface with the given capabilities.
func NewRecordingAdapter(surface string, caps models.SurfaceCapabilities) *RecordingAdapter {
	return &RecordingAdapter{surface: surface, caps: caps}
}

// ButtonCapabilities describes a surface with inline buttons, like Telegram.
func ButtonCapabilities() models.SurfaceCapabilities {
	return models.SurfaceCapabilities{
		InlineButtons:    true,
		RichText:         true,
		MaxButtonsPerRow: 4,
		MaxButtonRows:    10,
		MaxMessageLength: 4096,
	}
}

func (r *RecordingAdapter) id() string {
	r.nextID++
	return strconv.Itoa(r.nextID)
}

func (r *RecordingAdapter) SurfaceID() string                        { return r.surface }
func (r *RecordingAdapter) Capabilities() models.SurfaceCapabilities { return r.caps }

func (r *RecordingAdapter) Render(ctx context.Context, target models.SurfaceTarget, p models.Primitive, rc messaging.RenderContext) (messaging.RenderedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RenderErr != nil {
		return messaging.RenderedMessage{}, r.RenderErr
	}
	msgID := rc.ReplaceMessageID
	if msgID == "" {
		msgID = r.id()
	}
	r.Renders = append(r.Renders, Rendered{Target: target, Primitive: p, Context: rc, MessageID: msgID})
	return messaging.RenderedMessage{MessageID: msgID, UsedFallback: rc.Strategy.Fallback}, nil
}

func (r *RecordingAdapter) ParseAction(raw any) *models.ParsedUserAction {
	a, ok := raw.(*models.ParsedUserAction)
	if !ok || a == nil {
		return nil
	}
	c := *a
	c.Raw = raw
	return &c
}

// EventID returns the action's Raw field when it is a non-empty string. Actions without
// one are never deduplicated.
func (r *RecordingAdapter) EventID(raw any) (string, bool) {
	a, ok := raw.(*models.ParsedUserAction)
	if !ok || a == nil {
		return "", false
	}
	id, ok := a.Raw.(string)
	return id, ok && id != ""
}

func (r *RecordingAdapter) SendMessage(ctx context.Context, target models.SurfaceTarget, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, text)
	return r.id(), nil
}

func (r *RecordingAdapter) UpdateMessage(ctx context.Context, target models.SurfaceTarget, messageID, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = append(r.Updates, text)
	return messageID, nil
}

func (r *RecordingAdapter) DeleteMessage(ctx context.Context, target models.SurfaceTarget, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deleted = append(r.Deleted, messageID)
	return nil
}

func (r *RecordingAdapter) ClearActions(ctx context.Context, target models.SurfaceTarget, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cleared = append(r.Cleared, messageID)
	return nil
}

func (r *RecordingAdapter) AcknowledgeAction(ctx context.Context, raw any, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Acks = append(r.Acks, Ack{Raw: raw, Text: text})
	return nil
}

// LastRender returns the most recent render, failing the test if there is none.
func (r *RecordingAdapter) LastRender(t testing.TB) Rendered {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Renders) == 0 {
		t.Fatal("expected at least one render")
	}
	return r.Renders[len(r.Renders)-1]
}

// RenderCount returns how many renders were recorded.
func (r *RecordingAdapter) RenderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Renders)
}

// Reset forgets recorded calls.
func (r *RecordingAdapter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Renders, r.Sent, r.Updates, r.Deleted, r.Cleared, r.Acks = nil, nil, nil, nil, nil, nil
}

// ToolCall is one invocation seen by a StubExecutor.
type ToolCall struct {
	Name   string
	Params map[string]any
}

// StubExecutor answers tool calls from a fixed table. Unknown tools fail.
type StubExecutor struct {
	mu      sync.Mutex
	Results map[string]*models.ToolResult
	// Hook, when set, runs before the result is returned; tests use it to block or to
	// mutate state while the engine's lock is released.
	Hook  func(ctx context.Context, name string)
	Calls []ToolCall
}

// NewStubExecutor creates an executor with no configured tools.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{Results: make(map[string]*models.ToolResult)}
}

// Succeed makes name succeed with result.
func (s *StubExecutor) Succeed(name string, result any) *StubExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results[name] = &models.ToolResult{Success: true, Result: result}
	return s
}

// Fail makes name fail with msg.
func (s *StubExecutor) Fail(name, msg string) *StubExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results[name] = &models.ToolResult{Success: false, Error: msg}
	return s
}

func (s *StubExecutor) Execute(ctx context.Context, name string, params map[string]any) (*models.ToolResult, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, ToolCall{Name: name, Params: params})
	res, ok := s.Results[name]
	hook := s.Hook
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, name)
	}
	if !ok {
		return models.ToolFailure("unknown tool %s", name), nil
	}
	c := *res
	return &c, nil
}

// CallCount returns how many calls were made.
func (s *StubExecutor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Target returns a surface target for user on surface.
func Target(surface, user string) models.SurfaceTarget {
	return models.SurfaceTarget{SurfaceID: surface, SurfaceUserID: user}
}

// Text builds a free-text action not bound to a rendered message.
func Text(target models.SurfaceTarget, text string) models.ParsedUserAction {
	return models.ParsedUserAction{Kind: models.ActionText, Text: text, Surface: target}
}

// Press builds a button action bound to a workflow step.
func Press(target models.SurfaceTarget, workflowID, stepID, value string) models.ParsedUserAction {
	kind := models.ActionSelection
	switch value {
	case models.ActionIDCancel:
		kind = models.ActionCancel
	case models.ActionIDBack:
		kind = models.ActionBack
	}
	return models.ParsedUserAction{Kind: kind, Value: value, WorkflowID: workflowID, StepID: stepID, Surface: target}
}

// WalletOnboarding returns a small wallet setup workflow: welcome, create confirmation,
// passphrase entry with a tool call, and two terminal steps.
func WalletOnboarding() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:         "wallet-onboarding",
		Plugin:     "wallet",
		Version:    "1.0.0",
		EntryPoint: "welcome",
		Steps: map[string]*models.StepDefinition{
			"welcome": {
				Type:    models.KindInfo,
				Content: "Welcome! Let's set up your wallet.",
				Next:    "confirm-create",
			},
			"confirm-create": {
				Type:        models.KindConfirm,
				Content:     "Create a new wallet?",
				Transitions: map[string]string{"yes": "set-passphrase", "no": "cancelled"},
			},
			"set-passphrase": {
				Type:       models.KindTextInput,
				Content:    "Choose a passphrase.",
				Validation: &models.ValidationRule{MinLength: 8, ErrorMessage: "Passphrase must be at least 8 characters."},
				ToolCall: &models.ToolCall{
					Name:     "wallet.create",
					ParamMap: map[string]string{"passphrase": "{{input}}"},
				},
				Next: "complete",
			},
			"complete": {
				Type:     models.KindInfo,
				Content:  "Wallet created: {{vars.set-passphrase.result}}",
				Terminal: true,
			},
			"cancelled": {
				Type:     models.KindInfo,
				Content:  "No wallet was created.",
				Terminal: true,
			},
		},
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON decodes a recorded JSON response into a map.
func DecodeJSON(t testing.TB, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body any) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals v to JSON and fails the test on error.
func MustMarshalJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// PrimitiveContent returns the content of p for assertions.
func PrimitiveContent(p models.Primitive) string {
	if p == nil {
		return ""
	}
	return p.Common().Content
}

// Describe summarizes a render for test failure messages.
func (r Rendered) Describe() string {
	return fmt.Sprintf("%s step=%s replace=%q content=%q", r.Primitive.Kind(), r.Context.StepID, r.Context.ReplaceMessageID, PrimitiveContent(r.Primitive))
}
