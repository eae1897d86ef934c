// Package messaging defines the surface adapter contract and its Telegram, WhatsApp and
// Twilio implementations.
//
// Adapters translate abstract primitives into platform messages and translate raw
// platform events back into models.ParsedUserAction values.
package messaging

import (
	"context"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
)

// RenderContext carries engine-side information an adapter needs to render a step.
type RenderContext struct {
	WorkflowID string
	StepID     string
	InstanceID string
	// ReplaceMessageID asks the adapter to edit this message in place when it can.
	ReplaceMessageID string
	// ValidationError is shown above the content when a text answer was rejected.
	ValidationError string
	// Strategy is the negotiated rendering strategy.
	Strategy negotiator.Strategy
}

// RenderedMessage identifies the message a render produced.
type RenderedMessage struct {
	MessageID    string
	UsedFallback bool
}

// Adapter is implemented by every messaging surface.
type Adapter interface {
	// SurfaceID is the stable identifier the engine binds the adapter under.
	SurfaceID() string
	// Capabilities declares what the surface can render.
	Capabilities() models.SurfaceCapabilities
	// Render sends (or edits) the message for one primitive.
	Render(ctx context.Context, target models.SurfaceTarget, p models.Primitive, rc RenderContext) (RenderedMessage, error)
	// ParseAction translates a raw platform event. It returns nil for anything it does not
	// recognize and never panics on foreign input.
	ParseAction(raw any) *models.ParsedUserAction
	// SendMessage sends plain text and returns the id of the last message sent.
	SendMessage(ctx context.Context, target models.SurfaceTarget, text string) (string, error)
	// UpdateMessage replaces the text of a message, or sends a new one when the surface
	// cannot edit it. It returns the id of the resulting message.
	UpdateMessage(ctx context.Context, target models.SurfaceTarget, messageID string, text string) (string, error)
	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, target models.SurfaceTarget, messageID string) error
	// AcknowledgeAction confirms receipt of an interactive event, optionally with a short text.
	AcknowledgeAction(ctx context.Context, raw any, text string) error
}

// EventHandler receives raw platform events from an EventSource.
type EventHandler func(ctx context.Context, raw any)

// EventSource is implemented by adapters that can receive events on their own
// (long polling, websocket sessions). Webhook-driven adapters do not implement it.
type EventSource interface {
	Start(ctx context.Context, handler EventHandler) error
	Stop() error
}

// EventIdentifier is implemented by adapters whose events carry a stable id that can be
// used to drop redeliveries.
type EventIdentifier interface {
	EventID(raw any) (string, bool)
}

// ActionClearer is implemented by adapters that can strip interactive controls from a
// message without changing its text.
type ActionClearer interface {
	ClearActions(ctx context.Context, target models.SurfaceTarget, messageID string) error
}
