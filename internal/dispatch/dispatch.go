// Package dispatch routes raw platform events to the command surface or the workflow
// engine and acknowledges them on the originating surface.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Quackstro/opencore-sub001/internal/commands"
	"github.com/Quackstro/opencore-sub001/internal/flow"
	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/metrics"
	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/store"
)

// DefaultStaleText answers a button press on a message that no longer drives a workflow.
const DefaultStaleText = "This step has expired."

// ActionHandler is the part of *flow.Engine the dispatcher feeds.
type ActionHandler interface {
	HandleAction(ctx context.Context, userID string, action models.ParsedUserAction) (flow.ActionResult, error)
}

var _ ActionHandler = (*flow.Engine)(nil)

// Opts holds configuration options for the dispatcher.
type Opts struct {
	Commands     *commands.Handler
	Deduper      store.EventDeduper
	Metrics      *metrics.Metrics
	StaleText    string
	DefaultReply string
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithCommands routes slash commands to h before the engine sees them.
func WithCommands(h *commands.Handler) Option {
	return func(o *Opts) { o.Commands = h }
}

// WithDeduper drops events whose id was already recorded.
func WithDeduper(d store.EventDeduper) Option {
	return func(o *Opts) { o.Deduper = d }
}

// WithMetrics records duplicate events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithStaleText sets the acknowledgement shown for stale button presses.
func WithStaleText(text string) Option {
	return func(o *Opts) { o.StaleText = text }
}

// WithDefaultReply sets a message sent when a user writes outside any workflow. Empty
// (the default) stays silent.
func WithDefaultReply(text string) Option {
	return func(o *Opts) { o.DefaultReply = text }
}

// Dispatcher turns raw events into engine actions. It is safe for concurrent use.
type Dispatcher struct {
	engine       ActionHandler
	commands     *commands.Handler
	dedup        store.EventDeduper
	metrics      *metrics.Metrics
	staleText    string
	defaultReply string
}

// New creates a dispatcher feeding engine.
func New(engine ActionHandler, opts ...Option) *Dispatcher {
	cfg := Opts{StaleText: DefaultStaleText}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		engine:       engine,
		commands:     cfg.Commands,
		dedup:        cfg.Deduper,
		metrics:      cfg.Metrics,
		staleText:    cfg.StaleText,
		defaultReply: cfg.DefaultReply,
	}
}

// Handle processes one raw event received by adapter a. Events the adapter does not
// recognize are dropped silently.
func (d *Dispatcher) Handle(ctx context.Context, a messaging.Adapter, raw any) error {
	action := a.ParseAction(raw)
	if action == nil {
		slog.Debug("Dispatcher ignoring unrecognized event", "surface", a.SurfaceID(), "type", fmt.Sprintf("%T", raw))
		return nil
	}
	if action.Surface.SurfaceID == "" {
		action.Surface.SurfaceID = a.SurfaceID()
	}
	userID := action.UserID()

	if d.duplicate(ctx, a, raw, userID) {
		d.acknowledge(ctx, a, raw, "")
		return nil
	}

	if action.Kind == models.ActionText && d.commands != nil {
		handled, err := d.commands.Handle(ctx, a, action.Surface, action.Text)
		if handled {
			if err != nil {
				slog.Error("Dispatcher command failed", "user_id", userID, "error", err)
			}
			return err
		}
	}

	res, err := d.engine.HandleAction(ctx, userID, *action)
	ack := ""
	if res.Stale() && action.StepID != "" {
		ack = d.staleText
	}
	d.acknowledge(ctx, a, raw, ack)
	if err != nil {
		return fmt.Errorf("handle action: %w", err)
	}

	if res.Outcome == flow.OutcomeIgnored && res.WorkflowID == "" && action.Kind == models.ActionText && d.defaultReply != "" {
		if _, err := a.SendMessage(ctx, action.Surface, d.defaultReply); err != nil {
			slog.Error("Dispatcher failed to send default reply", "user_id", userID, "error", err)
		}
	}
	slog.Debug("Dispatcher event handled", "surface", a.SurfaceID(), "user_id", userID, "kind", action.Kind, "outcome", res.Outcome)
	return nil
}

// Handler binds the dispatcher to adapter a for use with messaging.EventSource.
func (d *Dispatcher) Handler(a messaging.Adapter) messaging.EventHandler {
	return func(ctx context.Context, raw any) {
		if err := d.Handle(ctx, a, raw); err != nil {
			slog.Error("Dispatcher failed to handle event", "surface", a.SurfaceID(), "error", err)
		}
	}
}

// duplicate records the event id and reports whether it was seen before. Dedup failures
// let the event through.
func (d *Dispatcher) duplicate(ctx context.Context, a messaging.Adapter, raw any, userID string) bool {
	if d.dedup == nil {
		return false
	}
	ei, ok := a.(messaging.EventIdentifier)
	if !ok {
		return false
	}
	id, ok := ei.EventID(raw)
	if !ok {
		return false
	}
	fresh, err := d.dedup.RecordEvent(ctx, id, userID)
	if err != nil {
		slog.Warn("Dispatcher event dedup failed", "event_id", id, "error", err)
		return false
	}
	if !fresh {
		slog.Debug("Dispatcher dropping duplicate event", "event_id", id, "user_id", userID)
		d.metrics.DuplicateEvent(a.SurfaceID())
	}
	return !fresh
}

func (d *Dispatcher) acknowledge(ctx context.Context, a messaging.Adapter, raw any, text string) {
	if err := a.AcknowledgeAction(ctx, raw, text); err != nil {
		slog.Warn("Dispatcher failed to acknowledge event", "surface", a.SurfaceID(), "error", err)
	}
}
