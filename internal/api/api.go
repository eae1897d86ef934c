// Package api provides the admin HTTP server: health and metrics endpoints, read access to
// registered workflows and active instances, programmatic start and cancel, and the
// Twilio inbound webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Quackstro/opencore-sub001/internal/dispatch"
	"github.com/Quackstro/opencore-sub001/internal/flow"
	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/twiliowhatsapp"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Engine is the part of *flow.Engine the API exposes.
type Engine interface {
	ListWorkflows() []*models.WorkflowDefinition
	GetWorkflowDefinition(id string) (*models.WorkflowDefinition, bool)
	StartWorkflow(ctx context.Context, workflowID string, target models.SurfaceTarget, initialData map[string]string) (*models.WorkflowInstanceState, error)
	GetActiveWorkflow(ctx context.Context, userID string) (*models.WorkflowInstanceState, error)
	CancelWorkflow(ctx context.Context, userID, workflowID string) (bool, error)
}

var _ Engine = (*flow.Engine)(nil)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	Gatherer   prometheus.Gatherer
	Dispatcher *dispatch.Dispatcher
	Twilio     messaging.Adapter
	// WebhookValidator, when set, rejects webhook calls without a valid Twilio signature.
	WebhookValidator *twiliowhatsapp.WebhookValidator
	// PublicURL is the externally visible webhook URL Twilio signs.
	PublicURL string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// WithTwilioWebhook enables POST /twilio/webhook, routing inbound messages from adapter
// a through d.
func WithTwilioWebhook(a messaging.Adapter, d *dispatch.Dispatcher) Option {
	return func(o *Opts) {
		o.Twilio = a
		o.Dispatcher = d
	}
}

// WithWebhookValidation requires a valid Twilio signature for publicURL on the webhook.
func WithWebhookValidation(v *twiliowhatsapp.WebhookValidator, publicURL string) Option {
	return func(o *Opts) {
		o.WebhookValidator = v
		o.PublicURL = publicURL
	}
}

// Server serves the admin API.
type Server struct {
	engine     Engine
	addr       string
	gatherer   prometheus.Gatherer
	dispatcher *dispatch.Dispatcher
	twilio     messaging.Adapter
	validator  *twiliowhatsapp.WebhookValidator
	publicURL  string
}

// NewServer creates an API server over engine.
func NewServer(engine Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		engine:     engine,
		addr:       cfg.Addr,
		gatherer:   cfg.Gatherer,
		dispatcher: cfg.Dispatcher,
		twilio:     cfg.Twilio,
		validator:  cfg.WebhookValidator,
		publicURL:  cfg.PublicURL,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /workflows", s.listWorkflowsHandler)
	mux.HandleFunc("GET /workflows/{id}", s.getWorkflowHandler)
	mux.HandleFunc("POST /workflows/{id}/start", s.startWorkflowHandler)
	mux.HandleFunc("GET /instances/{userID}", s.getInstanceHandler)
	mux.HandleFunc("DELETE /instances/{userID}", s.cancelInstanceHandler)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.twilio != nil && s.dispatcher != nil {
		mux.HandleFunc("POST /twilio/webhook", s.twilioWebhookHandler)
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("API server shutting down", "addr", s.addr)
		return srv.Shutdown(shutdownCtx)
	}
}
