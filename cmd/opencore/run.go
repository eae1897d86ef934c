package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Quackstro/opencore-sub001/internal/api"
	"github.com/Quackstro/opencore-sub001/internal/commands"
	"github.com/Quackstro/opencore-sub001/internal/dispatch"
	"github.com/Quackstro/opencore-sub001/internal/flow"
	"github.com/Quackstro/opencore-sub001/internal/genai"
	"github.com/Quackstro/opencore-sub001/internal/loader"
	"github.com/Quackstro/opencore-sub001/internal/lockfile"
	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/metrics"
	"github.com/Quackstro/opencore-sub001/internal/scheduler"
	"github.com/Quackstro/opencore-sub001/internal/store"
	"github.com/Quackstro/opencore-sub001/internal/telegram"
	"github.com/Quackstro/opencore-sub001/internal/tools"
	"github.com/Quackstro/opencore-sub001/internal/twiliowhatsapp"
	"github.com/Quackstro/opencore-sub001/internal/whatsapp"
)

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(storeOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Destroy()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	toolRegistry, err := buildTools(cfg)
	if err != nil {
		return err
	}

	engine := flow.New(st, flow.WithToolExecutor(toolRegistry), flow.WithMetrics(m))

	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	var twilio messaging.Adapter
	for _, a := range adapters {
		if err := engine.RegisterAdapter(a); err != nil {
			return err
		}
		if a.SurfaceID() == messaging.TwilioSurfaceID {
			twilio = a
		}
	}
	if len(adapters) == 0 {
		slog.Warn("No surface adapters configured; workflows can only be inspected through the API")
	}

	if err := loadWorkflows(ctx, cfg, engine); err != nil {
		return err
	}

	cmdOpts := []commands.Option{commands.WithCommandName(cfg.CommandName)}
	if cfg.InterceptsFile != "" {
		interceptor, err := commands.LoadInterceptor(cfg.InterceptsFile)
		if err != nil {
			return fmt.Errorf("load intercepts: %w", err)
		}
		cmdOpts = append(cmdOpts, commands.WithInterceptor(interceptor))
	}
	dispatcher := dispatch.New(engine,
		dispatch.WithCommands(commands.NewHandler(engine, cmdOpts...)),
		dispatch.WithDeduper(st),
		dispatch.WithMetrics(m),
		dispatch.WithDefaultReply(cfg.DefaultReply),
	)

	for _, a := range adapters {
		src, ok := a.(messaging.EventSource)
		if !ok {
			continue
		}
		if err := src.Start(ctx, dispatcher.Handler(a)); err != nil {
			return fmt.Errorf("start %s events: %w", a.SurfaceID(), err)
		}
		defer src.Stop()
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	maintenance := scheduler.NewMaintenance(engine,
		scheduler.WithSpec(cfg.SweepCron),
		scheduler.WithEventPruning(st, scheduler.DefaultEventTTL),
	)
	if err := maintenance.Schedule(ctx, sched); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}

	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr), api.WithGatherer(registry)}
	if twilio != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(twilio, dispatcher))
		if cfg.TwilioWebhookURL != "" {
			apiOpts = append(apiOpts, api.WithWebhookValidation(twiliowhatsapp.NewWebhookValidator(cfg.TwilioAuthToken), cfg.TwilioWebhookURL))
		}
	}

	slog.Info("opencore started", "workflows", len(engine.ListWorkflows()), "adapters", len(adapters))
	if err := api.NewServer(engine, apiOpts...).Run(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	slog.Info("opencore stopped")
	return nil
}

// storeOptions picks the backend settings: memory, Redis, or a SQL DSN.
func storeOptions(cfg Config) []store.Option {
	switch {
	case cfg.MemoryStore:
		return nil
	case cfg.RedisAddr != "":
		return []store.Option{store.WithRedisAddr(cfg.RedisAddr)}
	case store.DetectDSNType(cfg.StoreDSN) == "postgres":
		return []store.Option{store.WithPostgresDSN(cfg.StoreDSN)}
	default:
		return []store.Option{store.WithSQLiteDSN(cfg.StoreDSN)}
	}
}

// buildTools registers the built-in tools, plus genai.complete when an OpenAI key is set.
func buildTools(cfg Config) (*tools.Registry, error) {
	r := tools.NewRegistry()
	r.Register(tools.ToolEcho, tools.EchoTool())
	if cfg.OpenAIKey == "" {
		return r, nil
	}
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey)}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	r.Register(tools.ToolGenAIComplete, tools.GenAITool(client))
	return r, nil
}

// buildAdapters connects every configured surface.
func buildAdapters(ctx context.Context, cfg Config) ([]messaging.Adapter, error) {
	var out []messaging.Adapter

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewClient(telegram.WithToken(cfg.TelegramToken))
		if err != nil {
			return nil, err
		}
		out = append(out, messaging.NewTelegramAdapter(bot))
	}

	if cfg.WhatsApp {
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if cfg.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, err
		}
		out = append(out, messaging.NewWhatsAppAdapter(client))
	}

	if cfg.TwilioAccountSID != "" {
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, messaging.NewTwilioAdapter(client))
	}
	return out, nil
}

// loadWorkflows registers the definitions directory and optionally watches it.
func loadWorkflows(ctx context.Context, cfg Config, engine *flow.Engine) error {
	if err := os.MkdirAll(cfg.WorkflowsDir, 0o755); err != nil {
		return fmt.Errorf("create workflows directory: %w", err)
	}
	l := loader.New(cfg.WorkflowsDir, engine, loader.WithOnReload(func(path string, err error) {
		if err != nil {
			slog.Warn("Workflow reload rejected", "path", path, "error", err)
			return
		}
		slog.Info("Workflow reloaded", "path", path)
	}))
	ids, problems, err := l.LoadAll()
	if err != nil {
		return err
	}
	slog.Info("Workflows loaded", "dir", cfg.WorkflowsDir, "loaded", len(ids), "rejected", len(problems))
	if !cfg.WatchWorkflows {
		return nil
	}
	if err := l.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
