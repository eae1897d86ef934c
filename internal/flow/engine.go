// Package flow implements the workflow engine: the per-user state machine that renders
// steps through surface adapters, consumes parsed user actions, runs step tool calls and
// persists instance state.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/metrics"
	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
	"github.com/Quackstro/opencore-sub001/internal/store"
	"github.com/Quackstro/opencore-sub001/internal/tools"
	"github.com/Quackstro/opencore-sub001/internal/validation"
)

// Outcome is the result kind of one handled action.
type Outcome string

const (
	OutcomeAdvanced        Outcome = "advanced"
	OutcomeCompleted       Outcome = "completed"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeValidationError Outcome = "validation-error"
	OutcomeError           Outcome = "error"
	// OutcomeIgnored marks stale, foreign or otherwise inapplicable actions. State is untouched.
	OutcomeIgnored Outcome = "ignored"
)

// ActionResult reports what HandleAction did.
type ActionResult struct {
	Outcome     Outcome
	WorkflowID  string
	CurrentStep string
	// Error describes validation failures, tool failures and the reason an action was ignored.
	Error string
}

// Reasons reported in ActionResult.Error for ignored actions.
const (
	ReasonNoActiveWorkflow = "no active workflow"
	ReasonStale            = "stale action"
)

// Stale reports whether the action was ignored because it targeted a step the user is no
// longer on, or an instance that no longer exists.
func (r ActionResult) Stale() bool {
	return r.Outcome == OutcomeIgnored && (r.Error == ReasonStale || r.Error == ReasonNoActiveWorkflow)
}

var (
	// ErrWorkflowNotFound is returned when no definition is registered under an id.
	ErrWorkflowNotFound = errors.New("workflow not registered")
	// ErrAdapterNotFound is returned when no adapter is registered for a surface.
	ErrAdapterNotFound = errors.New("no adapter registered for surface")
)

// Messages shown to users by the engine.
const (
	DefaultCancelMessage   = "Workflow cancelled."
	DefaultToolFailMessage = "Something went wrong. Please try again."
	msgPickOption          = "Please choose one of the listed options."
	msgYesNo               = "Please answer yes or no."
)

// Opts holds the engine's collaborators and settings.
type Opts struct {
	Negotiator    negotiator.Negotiator
	Executor      tools.Executor
	Metrics       *metrics.Metrics
	Clock         func() time.Time
	IDGenerator   func() string
	CancelMessage string
	Tracer        trace.Tracer
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithNegotiator replaces the default capability negotiator.
func WithNegotiator(n negotiator.Negotiator) Option {
	return func(o *Opts) { o.Negotiator = n }
}

// WithToolExecutor sets the executor for step tool calls.
func WithToolExecutor(x tools.Executor) Option {
	return func(o *Opts) { o.Executor = x }
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithIDGenerator overrides instance id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Opts) { o.IDGenerator = gen }
}

// WithCancelMessage sets the text shown when a workflow is cancelled. Empty disables it.
func WithCancelMessage(msg string) Option {
	return func(o *Opts) { o.CancelMessage = msg }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Opts) { o.Tracer = t }
}

// Engine drives workflow instances. It is safe for concurrent use; actions of one user
// are serialized, different users proceed independently.
type Engine struct {
	store         store.StateStore
	negotiator    negotiator.Negotiator
	executor      tools.Executor
	metrics       *metrics.Metrics
	now           func() time.Time
	newID         func() string
	cancelMessage string
	tracer        trace.Tracer

	mu        sync.RWMutex
	workflows map[string]*models.WorkflowDefinition
	adapters  map[string]messaging.Adapter

	locks    *keyedMutex
	inflight *inflightSet
}

// New creates an engine persisting instances in st.
func New(st store.StateStore, opts ...Option) *Engine {
	cfg := Opts{
		Negotiator:    negotiator.Default{},
		Executor:      tools.PlaceholderExecutor{},
		Clock:         time.Now,
		IDGenerator:   uuid.NewString,
		CancelMessage: DefaultCancelMessage,
		Tracer:        otel.Tracer("github.com/Quackstro/opencore-sub001/internal/flow"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		store:         st,
		negotiator:    cfg.Negotiator,
		executor:      cfg.Executor,
		metrics:       cfg.Metrics,
		now:           cfg.Clock,
		newID:         cfg.IDGenerator,
		cancelMessage: cfg.CancelMessage,
		tracer:        cfg.Tracer,
		workflows:     make(map[string]*models.WorkflowDefinition),
		adapters:      make(map[string]messaging.Adapter),
		locks:         newKeyedMutex(),
		inflight:      newInflightSet(),
	}
}

// RegisterWorkflow validates def and stores it under its id, replacing any previous
// version. An invalid definition is rejected with a *validation.Error listing every issue.
func (e *Engine) RegisterWorkflow(def *models.WorkflowDefinition) error {
	res := validation.Validate(def)
	if !res.Valid {
		id := ""
		if def != nil {
			id = def.ID
		}
		slog.Warn("Engine RegisterWorkflow rejected definition", "workflow_id", id, "issues", len(res.Errors))
		return res.AsError(id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.workflows[def.ID]; ok {
		slog.Info("Engine replacing workflow definition", "workflow_id", def.ID, "old_version", prev.Version, "new_version", def.Version)
	}
	e.workflows[def.ID] = def
	slog.Debug("Engine RegisterWorkflow succeeded", "workflow_id", def.ID, "plugin", def.Plugin, "steps", len(def.Steps))
	return nil
}

// UnregisterWorkflow removes a definition. Active instances of it are discarded on their
// next action.
func (e *Engine) UnregisterWorkflow(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.workflows[id]
	delete(e.workflows, id)
	if ok {
		slog.Info("Engine workflow unregistered", "workflow_id", id)
	}
	return ok
}

// RegisterAdapter binds an adapter under its surface id.
func (e *Engine) RegisterAdapter(a messaging.Adapter) error {
	if a == nil || a.SurfaceID() == "" {
		return fmt.Errorf("adapter must have a surface id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[a.SurfaceID()] = a
	slog.Debug("Engine RegisterAdapter succeeded", "surface", a.SurfaceID())
	return nil
}

// Adapter returns the adapter registered for surfaceID.
func (e *Engine) Adapter(surfaceID string) (messaging.Adapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.adapters[surfaceID]
	return a, ok
}

// HasWorkflow reports whether a definition is registered under id.
func (e *Engine) HasWorkflow(id string) bool {
	_, ok := e.GetWorkflowDefinition(id)
	return ok
}

// GetWorkflowDefinition returns the definition registered under id.
func (e *Engine) GetWorkflowDefinition(id string) (*models.WorkflowDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.workflows[id]
	return def, ok
}

// ListWorkflows returns every registered definition ordered by id.
func (e *Engine) ListWorkflows() []*models.WorkflowDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.WorkflowDefinition, 0, len(e.workflows))
	for _, def := range e.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetActiveWorkflow returns the user's active instance, or nil when there is none.
func (e *Engine) GetActiveWorkflow(ctx context.Context, userID string) (*models.WorkflowInstanceState, error) {
	return e.store.Get(ctx, userID)
}

// SweepExpired deletes every instance idle past its ttl.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	n, err := e.store.DeleteExpired(ctx, e.now())
	if err != nil {
		slog.Error("Engine SweepExpired failed", "error", err)
		return 0, err
	}
	if n > 0 {
		slog.Info("Engine swept expired workflow instances", "count", n)
	}
	e.metrics.ExpiredSwept(n)
	return n, nil
}
