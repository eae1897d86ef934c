package messaging

import (
	"context"
	"net/url"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/twiliowhatsapp"
)

// Twilio WhatsApp limits.
const (
	TwilioSurfaceID        = "twilio-whatsapp"
	TwilioMaxMessageLength = 1600
)

// TwilioAdapter renders primitives as plain WhatsApp messages sent through Twilio.
// Inbound events arrive on the HTTP webhook as form values.
type TwilioAdapter struct {
	noAck
	client twiliowhatsapp.Sender
}

var (
	_ Adapter         = (*TwilioAdapter)(nil)
	_ EventIdentifier = (*TwilioAdapter)(nil)
)

// NewTwilioAdapter creates an adapter around a Twilio sender.
func NewTwilioAdapter(client twiliowhatsapp.Sender) *TwilioAdapter {
	return &TwilioAdapter{client: client}
}

func (a *TwilioAdapter) SurfaceID() string { return TwilioSurfaceID }

func (a *TwilioAdapter) Capabilities() models.SurfaceCapabilities {
	return models.TextOnlyCapabilities(TwilioMaxMessageLength)
}

// Render implements Adapter.
func (a *TwilioAdapter) Render(ctx context.Context, target models.SurfaceTarget, p models.Primitive, rc RenderContext) (RenderedMessage, error) {
	return renderPlain(p, rc, TwilioMaxMessageLength, func(chunk string) (string, error) {
		return a.client.SendMessage(ctx, target.SurfaceUserID, chunk)
	})
}

// SendMessage implements Adapter.
func (a *TwilioAdapter) SendMessage(ctx context.Context, target models.SurfaceTarget, text string) (string, error) {
	return sendChunks(text, TwilioMaxMessageLength, func(chunk string) (string, error) {
		return a.client.SendMessage(ctx, target.SurfaceUserID, chunk)
	})
}

// UpdateMessage sends text as a new message; Twilio cannot edit delivered messages.
func (a *TwilioAdapter) UpdateMessage(ctx context.Context, target models.SurfaceTarget, messageID string, text string) (string, error) {
	return a.SendMessage(ctx, target, text)
}

// DeleteMessage removes the message resource from the Twilio account.
func (a *TwilioAdapter) DeleteMessage(ctx context.Context, target models.SurfaceTarget, messageID string) error {
	return a.client.DeleteMessage(ctx, messageID)
}

// ParseAction accepts webhook form values and twiliowhatsapp.InboundMessage values.
func (a *TwilioAdapter) ParseAction(raw any) *models.ParsedUserAction {
	var in twiliowhatsapp.InboundMessage
	switch v := raw.(type) {
	case url.Values:
		msg, ok := twiliowhatsapp.ParseInbound(v)
		if !ok {
			return nil
		}
		in = msg
	case twiliowhatsapp.InboundMessage:
		in = v
	default:
		return nil
	}
	if in.From == "" {
		return nil
	}
	target := models.SurfaceTarget{SurfaceID: TwilioSurfaceID, SurfaceUserID: in.From}
	return textAction(target, in.Body, raw)
}

// EventID implements EventIdentifier using the Twilio message SID.
func (a *TwilioAdapter) EventID(raw any) (string, bool) {
	var sid string
	switch v := raw.(type) {
	case url.Values:
		sid = v.Get("MessageSid")
	case twiliowhatsapp.InboundMessage:
		sid = v.MessageSID
	}
	if sid == "" {
		return "", false
	}
	return "twilio:" + sid, true
}
