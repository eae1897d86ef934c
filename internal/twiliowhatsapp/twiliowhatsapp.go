// Package twiliowhatsapp wraps the Twilio Messaging API for the WhatsApp-over-Twilio surface.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// AddressPrefix marks WhatsApp addresses in Twilio's From/To fields.
const AddressPrefix = "whatsapp:"

// Sender is implemented by Client and MockClient.
type Sender interface {
	// SendMessage sends body to the phone number and returns the message SID.
	SendMessage(ctx context.Context, to string, body string) (string, error)
	// DeleteMessage removes a message resource by SID.
	DeleteMessage(ctx context.Context, sid string) error
}

// InboundMessage is one message delivered to the Twilio webhook.
type InboundMessage struct {
	MessageSID string
	From       string // phone number, "whatsapp:" prefix removed
	Body       string
}

// ParseInbound reads a form-encoded Twilio webhook payload. It returns false when the
// payload is not an inbound message with a sender and a body.
func ParseInbound(form url.Values) (InboundMessage, bool) {
	from := strings.TrimPrefix(form.Get("From"), AddressPrefix)
	body := form.Get("Body")
	if from == "" || body == "" {
		return InboundMessage{}, false
	}
	return InboundMessage{MessageSID: form.Get("MessageSid"), From: from, Body: body}, true
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API.
type Client struct {
	client    *twilio.RestClient
	fromWhats string // "whatsapp:+1234567890"
}

var _ Sender = (*Client)(nil)

// NewClient builds a Twilio client, falling back to the TWILIO_* environment variables
// for unset options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{client: client, fromWhats: withPrefix(cfg.FromWhats)}, nil
}

func withPrefix(number string) string {
	if strings.HasPrefix(number, AddressPrefix) {
		return number
	}
	return AddressPrefix + number
}

// SendMessage sends a WhatsApp message and returns the Twilio message SID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(withPrefix(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// DeleteMessage removes the message resource from the Twilio account.
func (c *Client) DeleteMessage(ctx context.Context, sid string) error {
	if err := c.client.Api.DeleteMessage(sid, &twilioApi.DeleteMessageParams{}); err != nil {
		slog.Error("Twilio DeleteMessage failed", "sid", sid, "error", err)
		return fmt.Errorf("failed to delete message %s: %w", sid, err)
	}
	return nil
}

// WebhookValidator checks the X-Twilio-Signature header of inbound webhooks.
type WebhookValidator struct {
	validator twilioclient.RequestValidator
}

// NewWebhookValidator creates a validator for the account's auth token.
func NewWebhookValidator(authToken string) *WebhookValidator {
	return &WebhookValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the public webhook URL and form parameters.
func (v *WebhookValidator) Valid(publicURL string, form url.Values, signature string) bool {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	return v.validator.Validate(publicURL, params, signature)
}
