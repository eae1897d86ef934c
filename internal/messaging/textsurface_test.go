package messaging

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
	"github.com/Quackstro/opencore-sub001/internal/twiliowhatsapp"
	"github.com/Quackstro/opencore-sub001/internal/whatsapp"
)

func TestWhatsAppRenderNumberedList(t *testing.T) {
	client := whatsapp.NewMockClient()
	a := NewWhatsAppAdapter(client)
	p := &models.Choice{
		PrimitiveBase: models.PrimitiveBase{Content: "Pick one"},
		Options:       []models.Option{{ID: "a", Label: "Alpha"}, {ID: "b", Label: "Beta"}},
	}
	strategy := negotiator.Default{}.Negotiate(p, a.Capabilities())
	out, err := a.Render(context.Background(), models.SurfaceTarget{SurfaceID: WhatsAppSurfaceID, SurfaceUserID: "15551234567"}, p, RenderContext{Strategy: strategy})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !out.UsedFallback {
		t.Error("text-only surface should report a fallback rendering")
	}
	if out.MessageID != client.Sent[0].ID {
		t.Errorf("expected message id %s, got %s", client.Sent[0].ID, out.MessageID)
	}
	body := client.Bodies()[0]
	if !strings.Contains(body, "1. Alpha") || !strings.Contains(body, negotiator.InstructionChoice) {
		t.Errorf("unexpected body:\n%s", body)
	}
}

func TestWhatsAppEventSource(t *testing.T) {
	client := whatsapp.NewMockClient()
	a := NewWhatsAppAdapter(client)
	var got []*models.ParsedUserAction
	_ = a.Start(context.Background(), func(ctx context.Context, raw any) {
		got = append(got, a.ParseAction(raw))
	})
	client.Deliver(whatsapp.IncomingMessage{ID: "m1", From: "15551234567", Text: "cancel"})
	_ = a.Stop()
	client.Deliver(whatsapp.IncomingMessage{ID: "m2", From: "15551234567", Text: "ignored"})

	if len(got) != 1 {
		t.Fatalf("expected 1 action, got %d", len(got))
	}
	if got[0].Kind != models.ActionCancel || got[0].UserID() != "whatsapp:15551234567" {
		t.Errorf("unexpected action: %+v", got[0])
	}
	if id, ok := a.EventID(whatsapp.IncomingMessage{ID: "m1"}); !ok || id != "whatsapp:m1" {
		t.Errorf("unexpected event id %q", id)
	}
}

func TestTwilioAdapter(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	a := NewTwilioAdapter(client)
	target := models.SurfaceTarget{SurfaceID: TwilioSurfaceID, SurfaceUserID: "+15551234567"}

	id, err := a.SendMessage(context.Background(), target, strings.Repeat("x", TwilioMaxMessageLength+10))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(client.SentMessages) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(client.SentMessages))
	}
	if id != client.SentMessages[1].SID {
		t.Errorf("expected last SID, got %s", id)
	}
	if err := a.DeleteMessage(context.Background(), target, id); err != nil || len(client.Deleted) != 1 {
		t.Errorf("DeleteMessage failed: %v", err)
	}

	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"yes"}, "MessageSid": {"SM1"}}
	action := a.ParseAction(form)
	if action == nil || action.Kind != models.ActionText || action.Text != "yes" {
		t.Fatalf("unexpected action: %+v", action)
	}
	if action.UserID() != "twilio-whatsapp:+15551234567" {
		t.Errorf("unexpected user key %s", action.UserID())
	}
	if a.ParseAction(url.Values{"MessageStatus": {"delivered"}}) != nil {
		t.Error("status callbacks should not parse as actions")
	}
	if eid, ok := a.EventID(form); !ok || eid != "twilio:SM1" {
		t.Errorf("unexpected event id %q", eid)
	}
}
