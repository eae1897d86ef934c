package twiliowhatsapp

import (
	"context"
	"net/url"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	sid, err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Error("expected a message SID")
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without sending number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+15550001111"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550001111" {
		t.Errorf("expected prefixed sender, got %s", c.fromWhats)
	}
}

func TestParseInbound(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "yes")
	form.Set("MessageSid", "SM123")

	in, ok := ParseInbound(form)
	if !ok {
		t.Fatal("expected inbound message")
	}
	if in.From != "+15551234567" || in.Body != "yes" || in.MessageSID != "SM123" {
		t.Errorf("unexpected inbound message: %+v", in)
	}

	form.Del("Body")
	if _, ok := ParseInbound(form); ok {
		t.Error("status callbacks without a body should be rejected")
	}
}

func TestWebhookValidatorRejectsBadSignature(t *testing.T) {
	v := NewWebhookValidator("secret")
	form := url.Values{"Body": {"hi"}}
	if v.Valid("https://example.com/twilio/webhook", form, "bogus") {
		t.Error("expected invalid signature to be rejected")
	}
}
