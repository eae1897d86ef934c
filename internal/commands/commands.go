// Package commands implements the slash-command surface: the /workflow command and the
// interceptor that starts a workflow instead of a plain command on button-capable surfaces.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Quackstro/opencore-sub001/internal/flow"
	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/models"
)

// DefaultCommand is the name of the workflow command, without the slash.
const DefaultCommand = "workflow"

// Replies sent by the workflow command.
const (
	MsgNoActive      = "You have no active workflow. Send /workflow list to see what is available."
	MsgNothingCancel = "There is no active workflow to cancel."
	MsgNoWorkflows   = "No workflows are available."
	MsgUnknown       = "Unknown workflow %q. Send /workflow list to see what is available."
	MsgActive        = "Active workflow: %s (step %s)."
)

// Command is a parsed slash command.
type Command struct {
	Name string
	// Sub is the first argument, if any.
	Sub string
	// Args holds every argument after Sub.
	Args []string
}

// Parse reads "/name [sub [args...]]". A "@botname" suffix on the name is dropped.
func Parse(text string) (Command, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") || len(fields[0]) < 2 {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return Command{}, false
	}
	cmd := Command{Name: strings.ToLower(name)}
	if len(fields) > 1 {
		cmd.Sub = fields[1]
	}
	if len(fields) > 2 {
		cmd.Args = fields[2:]
	}
	return cmd, true
}

// Engine is the part of *flow.Engine the command surface drives.
type Engine interface {
	StartWorkflow(ctx context.Context, workflowID string, target models.SurfaceTarget, initialData map[string]string) (*models.WorkflowInstanceState, error)
	CancelWorkflow(ctx context.Context, userID, workflowID string) (bool, error)
	GetActiveWorkflow(ctx context.Context, userID string) (*models.WorkflowInstanceState, error)
	ListWorkflows() []*models.WorkflowDefinition
	HasWorkflow(id string) bool
}

var _ Engine = (*flow.Engine)(nil)

// Opts holds configuration options for the command handler.
type Opts struct {
	Command     string
	Interceptor *Interceptor
}

// Option defines a configuration option for the command handler.
type Option func(*Opts)

// WithCommandName renames the workflow command.
func WithCommandName(name string) Option {
	return func(o *Opts) { o.Command = strings.TrimPrefix(name, "/") }
}

// WithInterceptor installs a command interceptor.
func WithInterceptor(i *Interceptor) Option {
	return func(o *Opts) { o.Interceptor = i }
}

// Handler answers slash commands.
type Handler struct {
	engine      Engine
	command     string
	interceptor *Interceptor
}

// NewHandler creates a command handler driving e.
func NewHandler(e Engine, opts ...Option) *Handler {
	cfg := Opts{Command: DefaultCommand}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Handler{engine: e, command: cfg.Command, interceptor: cfg.Interceptor}
}

// Handle runs text as a command from target. It reports false when text is not a command
// this handler owns, so the caller can route it elsewhere.
func (h *Handler) Handle(ctx context.Context, a messaging.Adapter, target models.SurfaceTarget, text string) (bool, error) {
	cmd, ok := Parse(text)
	if !ok {
		return false, nil
	}
	if cmd.Name == h.command {
		return true, h.workflowCommand(ctx, a, target, cmd)
	}
	if workflowID, ok := h.interceptor.Match(cmd, a.Capabilities()); ok {
		slog.Debug("Commands intercepted command", "command", cmd.Name, "sub", cmd.Sub, "workflow_id", workflowID)
		return true, h.start(ctx, a, target, workflowID)
	}
	return false, nil
}

func (h *Handler) workflowCommand(ctx context.Context, a messaging.Adapter, target models.SurfaceTarget, cmd Command) error {
	userID := target.UserKey()
	switch strings.ToLower(cmd.Sub) {
	case "":
		st, err := h.engine.GetActiveWorkflow(ctx, userID)
		if err != nil {
			return fmt.Errorf("load active workflow: %w", err)
		}
		if st == nil {
			return reply(ctx, a, target, MsgNoActive)
		}
		return reply(ctx, a, target, fmt.Sprintf(MsgActive, st.WorkflowID, st.CurrentStep))

	case "list":
		return reply(ctx, a, target, formatList(h.engine.ListWorkflows()))

	case "cancel":
		ok, err := h.engine.CancelWorkflow(ctx, userID, "")
		if err != nil {
			return err
		}
		if !ok {
			return reply(ctx, a, target, MsgNothingCancel)
		}
		return nil

	default:
		return h.start(ctx, a, target, cmd.Sub)
	}
}

func (h *Handler) start(ctx context.Context, a messaging.Adapter, target models.SurfaceTarget, workflowID string) error {
	if !h.engine.HasWorkflow(workflowID) {
		return reply(ctx, a, target, fmt.Sprintf(MsgUnknown, workflowID))
	}
	_, err := h.engine.StartWorkflow(ctx, workflowID, target, nil)
	if errors.Is(err, flow.ErrWorkflowNotFound) {
		return reply(ctx, a, target, fmt.Sprintf(MsgUnknown, workflowID))
	}
	return err
}

func formatList(defs []*models.WorkflowDefinition) string {
	if len(defs) == 0 {
		return MsgNoWorkflows
	}
	var b strings.Builder
	b.WriteString("Available workflows:")
	for _, d := range defs {
		b.WriteString("\n• ")
		b.WriteString(d.ID)
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(d.Description)
		}
	}
	return b.String()
}

func reply(ctx context.Context, a messaging.Adapter, target models.SurfaceTarget, text string) error {
	_, err := a.SendMessage(ctx, target, text)
	return err
}
