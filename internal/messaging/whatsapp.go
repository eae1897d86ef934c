package messaging

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/whatsapp"
)

// WhatsApp surface limits.
const (
	WhatsAppSurfaceID        = "whatsapp"
	WhatsAppMaxMessageLength = 4096
)

// WhatsAppAdapter renders primitives as plain WhatsApp text messages through whatsmeow.
// Choices degrade to numbered lists answered by text reply.
type WhatsAppAdapter struct {
	noAck
	client     whatsapp.Messenger
	sub        atomic.Pointer[subscription]
	subscribed atomic.Bool
}

type subscription struct {
	ctx     context.Context
	handler EventHandler
}

var (
	_ Adapter         = (*WhatsAppAdapter)(nil)
	_ EventSource     = (*WhatsAppAdapter)(nil)
	_ EventIdentifier = (*WhatsAppAdapter)(nil)
)

// NewWhatsAppAdapter creates an adapter around a WhatsApp messenger.
func NewWhatsAppAdapter(client whatsapp.Messenger) *WhatsAppAdapter {
	return &WhatsAppAdapter{client: client}
}

func (a *WhatsAppAdapter) SurfaceID() string { return WhatsAppSurfaceID }

func (a *WhatsAppAdapter) Capabilities() models.SurfaceCapabilities {
	caps := models.TextOnlyCapabilities(WhatsAppMaxMessageLength)
	caps.RichText = true
	return caps
}

// Render implements Adapter.
func (a *WhatsAppAdapter) Render(ctx context.Context, target models.SurfaceTarget, p models.Primitive, rc RenderContext) (RenderedMessage, error) {
	to := target.SurfaceUserID
	return renderPlain(p, rc, WhatsAppMaxMessageLength, func(chunk string) (string, error) {
		return a.client.SendMessage(ctx, to, chunk)
	})
}

// SendMessage implements Adapter.
func (a *WhatsAppAdapter) SendMessage(ctx context.Context, target models.SurfaceTarget, text string) (string, error) {
	return sendChunks(text, WhatsAppMaxMessageLength, func(chunk string) (string, error) {
		return a.client.SendMessage(ctx, target.SurfaceUserID, chunk)
	})
}

// UpdateMessage sends text as a new message; WhatsApp text edits are not used.
func (a *WhatsAppAdapter) UpdateMessage(ctx context.Context, target models.SurfaceTarget, messageID string, text string) (string, error) {
	return a.SendMessage(ctx, target, text)
}

// DeleteMessage revokes the message for everyone.
func (a *WhatsAppAdapter) DeleteMessage(ctx context.Context, target models.SurfaceTarget, messageID string) error {
	return a.client.RevokeMessage(ctx, target.SurfaceUserID, messageID)
}

// ParseAction accepts whatsapp.IncomingMessage values and *events.Message events.
func (a *WhatsAppAdapter) ParseAction(raw any) *models.ParsedUserAction {
	var in whatsapp.IncomingMessage
	switch v := raw.(type) {
	case whatsapp.IncomingMessage:
		in = v
	case *events.Message:
		msg, ok := whatsapp.FromEvent(v)
		if !ok {
			return nil
		}
		in = msg
	default:
		return nil
	}
	if in.From == "" {
		return nil
	}
	target := models.SurfaceTarget{SurfaceID: WhatsAppSurfaceID, SurfaceUserID: in.From}
	return textAction(target, in.Text, raw)
}

// EventID implements EventIdentifier.
func (a *WhatsAppAdapter) EventID(raw any) (string, bool) {
	if in, ok := raw.(whatsapp.IncomingMessage); ok && in.ID != "" {
		return "whatsapp:" + in.ID, true
	}
	return "", false
}

// Start subscribes to inbound messages. whatsmeow handlers cannot be removed, so Stop
// only detaches the handler.
func (a *WhatsAppAdapter) Start(ctx context.Context, handler EventHandler) error {
	a.sub.Store(&subscription{ctx: ctx, handler: handler})
	if a.subscribed.CompareAndSwap(false, true) {
		a.client.OnMessage(func(in whatsapp.IncomingMessage) {
			if sub := a.sub.Load(); sub != nil {
				sub.handler(sub.ctx, in)
			}
		})
	}
	slog.Info("WhatsApp message handler attached")
	return nil
}

// Stop detaches the handler installed by Start.
func (a *WhatsAppAdapter) Stop() error {
	a.sub.Store(nil)
	return nil
}
