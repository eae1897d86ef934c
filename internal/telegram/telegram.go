// Package telegram wraps the Telegram Bot API client.
//
// The messaging package talks to Telegram only through the Bot interface, so tests can
// swap in MockBot without network access.
package telegram

import (
	"fmt"
	"log/slog"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Quackstro/opencore-sub001/internal/util"
)

// Bot is the subset of *tgbotapi.BotAPI used by the Telegram surface adapter.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ Bot = (*tgbotapi.BotAPI)(nil)

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token       string
	APIEndpoint string // override for self-hosted Bot API servers
	Debug       bool
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithAPIEndpoint points the client at a different Bot API server. The endpoint must
// contain the two %s verbs for token and method, like tgbotapi.APIEndpoint.
func WithAPIEndpoint(endpoint string) Option {
	return func(o *Opts) { o.APIEndpoint = endpoint }
}

// WithDebug enables request logging in the underlying library.
func WithDebug(debug bool) Option {
	return func(o *Opts) { o.Debug = debug }
}

// NewClient authenticates against the Bot API and returns the connected client.
func NewClient(opts ...Option) (*tgbotapi.BotAPI, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	if !cfg.Debug {
		cfg.Debug = util.ParseBoolEnv("TELEGRAM_DEBUG", false)
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	if err != nil {
		slog.Error("Telegram authentication failed", "error", err)
		return nil, fmt.Errorf("failed to authenticate telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Telegram client authorized", "username", bot.Self.UserName)
	return bot, nil
}
