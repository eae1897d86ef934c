// Package scheduler runs periodic maintenance for the orchestrator: sweeping expired
// workflow instances and pruning remembered event ids.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default maintenance settings.
const (
	DefaultSweepSpec = "*/5 * * * *"
	DefaultEventTTL  = 24 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweeper removes expired workflow instances; *flow.Engine implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// EventPruner forgets old event ids; every store backend implements it.
type EventPruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

// Opts configures maintenance jobs.
type Opts struct {
	Spec     string
	EventTTL time.Duration
	Pruner   EventPruner
	Clock    func() time.Time
}

// Option defines a maintenance option.
type Option func(*Opts)

// WithSpec sets the cron expression the maintenance runs on.
func WithSpec(spec string) Option {
	return func(o *Opts) { o.Spec = spec }
}

// WithEventPruning prunes event ids older than ttl from p on every run.
func WithEventPruning(p EventPruner, ttl time.Duration) Option {
	return func(o *Opts) {
		o.Pruner = p
		o.EventTTL = ttl
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Maintenance runs the sweep and prune tasks.
type Maintenance struct {
	sweeper  Sweeper
	pruner   EventPruner
	eventTTL time.Duration
	spec     string
	now      func() time.Time
}

// NewMaintenance builds the maintenance task for sweeper.
func NewMaintenance(sweeper Sweeper, opts ...Option) *Maintenance {
	cfg := Opts{Spec: DefaultSweepSpec, EventTTL: DefaultEventTTL, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Maintenance{
		sweeper:  sweeper,
		pruner:   cfg.Pruner,
		eventTTL: cfg.EventTTL,
		spec:     cfg.Spec,
		now:      cfg.Clock,
	}
}

// Schedule registers the task on s using the configured cron expression. The ctx is
// used for every run.
func (m *Maintenance) Schedule(ctx context.Context, s *Scheduler) error {
	if err := s.AddJob(m.spec, func() { m.Run(ctx) }); err != nil {
		return err
	}
	slog.Info("Scheduler maintenance scheduled", "spec", m.spec)
	return nil
}

// Run performs one maintenance pass. Failures are logged and do not stop later passes.
func (m *Maintenance) Run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := m.sweeper.SweepExpired(ctx); err != nil {
		slog.Error("Scheduler sweep failed", "error", err)
	}
	if m.pruner == nil {
		return
	}
	n, err := m.pruner.PruneEvents(ctx, m.now().Add(-m.eventTTL))
	if err != nil {
		slog.Error("Scheduler event prune failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("Scheduler pruned event ids", "count", n)
	}
}
