package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
)

// renderOpts tunes one render of the current step.
type renderOpts struct {
	replaceID       string
	validationError string
	// running is set while an auto step's tool call is pending; no continue is offered.
	running bool
}

// buildPrimitive turns the instance's current step into the primitive to render.
func buildPrimitive(st *models.WorkflowInstanceState, stepID string, step *models.StepDefinition, running bool) models.Primitive {
	base := models.PrimitiveBase{
		Content:       interpolate(step.Content, "", st, false),
		IncludeBack:   !step.Terminal && !running && step.BackAllowed() && len(st.History) > 0,
		IncludeCancel: !step.Terminal && step.CancelAllowed(),
	}

	switch step.Type {
	case models.KindChoice:
		return &models.Choice{PrimitiveBase: base, Options: step.Options}
	case models.KindMultiChoice:
		return &models.MultiChoice{PrimitiveBase: base, Options: step.Options, Selected: slices.Clone(st.Selections[stepID])}
	case models.KindConfirm:
		c := &models.Confirm{PrimitiveBase: base}
		for _, o := range step.Options {
			switch o.ID {
			case models.ActionIDYes:
				c.YesLabel = o.Label
			case models.ActionIDNo:
				c.NoLabel = o.Label
			}
		}
		return c
	case models.KindTextInput:
		return &models.TextInput{PrimitiveBase: base, Validation: step.Validation, Modal: step.Modal}
	case models.KindMedia:
		m := &models.Media{PrimitiveBase: base, Continue: !step.Terminal && !running}
		if step.Media != nil {
			m.Ref = step.Media.Ref
			m.MediaKind = step.Media.Kind
		}
		return m
	default:
		return &models.Info{PrimitiveBase: base, Continue: !step.Terminal && !running}
	}
}

// negotiate prefers the adapter's own negotiator when it has one.
func (e *Engine) negotiate(a messaging.Adapter, p models.Primitive) negotiator.Strategy {
	if n, ok := a.(negotiator.Negotiator); ok {
		return n.Negotiate(p, a.Capabilities())
	}
	return e.negotiator.Negotiate(p, a.Capabilities())
}

// render shows the instance's current step and records the resulting message id.
func (e *Engine) render(ctx context.Context, a messaging.Adapter, st *models.WorkflowInstanceState, step *models.StepDefinition, opts renderOpts) error {
	ctx, span := e.tracer.Start(ctx, "flow.render", trace.WithAttributes(
		attribute.String("workflow.id", st.WorkflowID),
		attribute.String("workflow.step", st.CurrentStep),
		attribute.String("surface.id", a.SurfaceID()),
	))
	defer span.End()

	p := buildPrimitive(st, st.CurrentStep, step, opts.running)
	strategy := e.negotiate(a, p)
	rc := messaging.RenderContext{
		WorkflowID:       st.WorkflowID,
		StepID:           st.CurrentStep,
		InstanceID:       st.InstanceID,
		ReplaceMessageID: opts.replaceID,
		ValidationError:  opts.validationError,
		Strategy:         strategy,
	}
	span.SetAttributes(attribute.String("render.mode", string(strategy.Mode)))

	out, err := a.Render(ctx, st.Surface, p, rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Engine render failed", "workflow_id", st.WorkflowID, "step", st.CurrentStep, "surface", a.SurfaceID(), "error", err)
		return fmt.Errorf("render step %s: %w", st.CurrentStep, err)
	}
	if out.UsedFallback {
		e.metrics.RenderFallback(a.SurfaceID(), string(strategy.Mode))
	}
	if out.MessageID != "" {
		st.LastMessageID = out.MessageID
	}
	slog.Debug("Engine render succeeded", "workflow_id", st.WorkflowID, "step", st.CurrentStep, "mode", strategy.Mode, "message_id", out.MessageID)
	return nil
}
