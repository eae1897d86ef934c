// Command opencore runs the conversational workflow orchestrator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/Quackstro/opencore-sub001/internal/scheduler"
)

// Default configuration constants
const (
	// DefaultDataDir holds the SQLite database, the lock file and the workflows directory.
	DefaultDataDir = "/var/lib/opencore"
	// DefaultDBFileName is the SQLite database filename inside the data directory.
	DefaultDBFileName = "opencore.db"
	// DefaultWorkflowsDir is the definitions directory name inside the data directory.
	DefaultWorkflowsDir = "workflows"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("opencore failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "opencore",
		Usage: "conversational workflow orchestrator for chat surfaces",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			initializeLogger(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{runCommand(), validateCommand()},
	}
}

// initializeLogger installs the default text logger at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "serve workflows on the configured surfaces",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: DefaultDataDir, Usage: "data directory", Sources: cli.EnvVars("OPENCORE_DATA_DIR")},
			&cli.StringFlag{Name: "store-dsn", Usage: "SQLite path or Postgres DSN (default: SQLite file in the data directory)", Sources: cli.EnvVars("OPENCORE_STORE_DSN", "DATABASE_URL")},
			&cli.BoolFlag{Name: "memory-store", Usage: "keep workflow state in memory only", Sources: cli.EnvVars("OPENCORE_MEMORY_STORE")},
			&cli.StringFlag{Name: "redis-addr", Usage: "Redis address; enables the Redis store", Sources: cli.EnvVars("REDIS_ADDR")},
			&cli.StringFlag{Name: "workflows-dir", Usage: "workflow definitions directory (default: workflows in the data directory)", Sources: cli.EnvVars("OPENCORE_WORKFLOWS_DIR")},
			&cli.BoolFlag{Name: "watch-workflows", Usage: "reload definitions when files change", Sources: cli.EnvVars("OPENCORE_WATCH_WORKFLOWS")},
			&cli.StringFlag{Name: "intercepts", Usage: "YAML file mapping slash commands to workflows", Sources: cli.EnvVars("OPENCORE_INTERCEPTS")},
			&cli.StringFlag{Name: "command", Value: "workflow", Usage: "name of the workflow slash command", Sources: cli.EnvVars("OPENCORE_COMMAND")},
			&cli.StringFlag{Name: "default-reply", Usage: "reply to text sent outside any workflow", Sources: cli.EnvVars("OPENCORE_DEFAULT_REPLY")},
			&cli.StringFlag{Name: "telegram-token", Usage: "Telegram bot token; enables the Telegram surface", Sources: cli.EnvVars("TELEGRAM_BOT_TOKEN")},
			&cli.BoolFlag{Name: "whatsapp", Usage: "enable the WhatsApp surface", Sources: cli.EnvVars("OPENCORE_WHATSAPP")},
			&cli.StringFlag{Name: "whatsapp-dsn", Usage: "WhatsApp device store DSN", Sources: cli.EnvVars("WHATSAPP_DB_DSN")},
			&cli.StringFlag{Name: "qr-output", Usage: "path to write the WhatsApp login QR code"},
			&cli.BoolFlag{Name: "numeric-code", Usage: "print a numeric WhatsApp login code instead of a QR code"},
			&cli.StringFlag{Name: "twilio-account-sid", Usage: "Twilio account SID; enables the Twilio WhatsApp surface", Sources: cli.EnvVars("TWILIO_ACCOUNT_SID")},
			&cli.StringFlag{Name: "twilio-auth-token", Usage: "Twilio auth token", Sources: cli.EnvVars("TWILIO_AUTH_TOKEN")},
			&cli.StringFlag{Name: "twilio-from-number", Usage: "Twilio WhatsApp sender number", Sources: cli.EnvVars("TWILIO_FROM_NUMBER")},
			&cli.StringFlag{Name: "twilio-webhook-url", Usage: "public webhook URL; enables Twilio signature checks", Sources: cli.EnvVars("TWILIO_WEBHOOK_URL")},
			&cli.StringFlag{Name: "openai-api-key", Usage: "OpenAI API key; enables the genai.complete tool", Sources: cli.EnvVars("OPENAI_API_KEY")},
			&cli.StringFlag{Name: "openai-model", Usage: "OpenAI chat model", Sources: cli.EnvVars("OPENAI_MODEL")},
			&cli.StringFlag{Name: "api-addr", Value: ":8080", Usage: "admin API listen address", Sources: cli.EnvVars("API_ADDR")},
			&cli.StringFlag{Name: "sweep-cron", Value: scheduler.DefaultSweepSpec, Usage: "cron expression for the expiry sweep", Sources: cli.EnvVars("OPENCORE_SWEEP_CRON")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, configFrom(cmd))
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check every workflow definition in a directory",
		ArgsUsage: "<dir>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				return fmt.Errorf("validate requires a directory argument")
			}
			return validate(dir, os.Stdout)
		},
	}
}

// Config holds the resolved run settings.
type Config struct {
	DataDir          string
	StoreDSN         string
	MemoryStore      bool
	RedisAddr        string
	WorkflowsDir     string
	WatchWorkflows   bool
	InterceptsFile   string
	CommandName      string
	DefaultReply     string
	TelegramToken    string
	WhatsApp         bool
	WhatsAppDSN      string
	QROutput         string
	NumericCode      bool
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
	OpenAIKey        string
	OpenAIModel      string
	APIAddr          string
	SweepCron        string
}

func configFrom(cmd *cli.Command) Config {
	cfg := Config{
		DataDir:          cmd.String("data-dir"),
		StoreDSN:         cmd.String("store-dsn"),
		MemoryStore:      cmd.Bool("memory-store"),
		RedisAddr:        cmd.String("redis-addr"),
		WorkflowsDir:     cmd.String("workflows-dir"),
		WatchWorkflows:   cmd.Bool("watch-workflows"),
		InterceptsFile:   cmd.String("intercepts"),
		CommandName:      cmd.String("command"),
		DefaultReply:     cmd.String("default-reply"),
		TelegramToken:    cmd.String("telegram-token"),
		WhatsApp:         cmd.Bool("whatsapp"),
		WhatsAppDSN:      cmd.String("whatsapp-dsn"),
		QROutput:         cmd.String("qr-output"),
		NumericCode:      cmd.Bool("numeric-code"),
		TwilioAccountSID: cmd.String("twilio-account-sid"),
		TwilioAuthToken:  cmd.String("twilio-auth-token"),
		TwilioFrom:       cmd.String("twilio-from-number"),
		TwilioWebhookURL: cmd.String("twilio-webhook-url"),
		OpenAIKey:        cmd.String("openai-api-key"),
		OpenAIModel:      cmd.String("openai-model"),
		APIAddr:          cmd.String("api-addr"),
		SweepCron:        cmd.String("sweep-cron"),
	}
	return cfg.withDefaults()
}

// withDefaults fills paths derived from the data directory.
func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.StoreDSN == "" && !c.MemoryStore && c.RedisAddr == "" {
		c.StoreDSN = filepath.Join(c.DataDir, DefaultDBFileName)
	}
	if c.WorkflowsDir == "" {
		c.WorkflowsDir = filepath.Join(c.DataDir, DefaultWorkflowsDir)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = filepath.Join(c.DataDir, "whatsmeow.db")
	}
	if c.SweepCron == "" {
		c.SweepCron = scheduler.DefaultSweepSpec
	}
	return c
}
