package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Quackstro/opencore-sub001/internal/messaging"
	"github.com/Quackstro/opencore-sub001/internal/models"
)

func resultFor(o Outcome, st *models.WorkflowInstanceState, msg string) ActionResult {
	return ActionResult{Outcome: o, WorkflowID: st.WorkflowID, CurrentStep: st.CurrentStep, Error: msg}
}

// StartWorkflow creates an instance of workflowID for the user behind target at the
// entry point and renders it. An existing instance for the user is replaced.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, target models.SurfaceTarget, initialData map[string]string) (*models.WorkflowInstanceState, error) {
	def, ok := e.GetWorkflowDefinition(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	a, ok := e.Adapter(target.SurfaceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, target.SurfaceID)
	}
	userID := target.UserKey()

	ctx, span := e.tracer.Start(ctx, "flow.StartWorkflow", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("user.id", userID),
	))
	defer span.End()

	lk := e.locks.acquire(userID)
	defer lk.unlock()

	prev, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if prev != nil {
		slog.Info("Engine replacing active workflow", "user_id", userID, "old_workflow", prev.WorkflowID, "new_workflow", workflowID)
		if pa, ok := e.Adapter(prev.Surface.SurfaceID); ok {
			e.clearActions(ctx, pa, prev)
		}
	}

	now := e.now()
	st := &models.WorkflowInstanceState{
		InstanceID:     e.newID(),
		WorkflowID:     def.ID,
		UserID:         userID,
		CurrentStep:    def.EntryPoint,
		Surface:        target,
		TTL:            def.TTL,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	for k, v := range initialData {
		st.SetVariable(k, v)
	}

	res, err := e.enter(ctx, lk, def, st, a, def.EntryPoint, "", true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	e.metrics.WorkflowStarted(def.ID, target.SurfaceID)
	slog.Info("Engine StartWorkflow succeeded", "workflow_id", def.ID, "user_id", userID, "instance_id", st.InstanceID, "step", res.CurrentStep)
	return st.Clone(), nil
}

// HandleAction applies one parsed user action to the user's active instance.
func (e *Engine) HandleAction(ctx context.Context, userID string, action models.ParsedUserAction) (ActionResult, error) {
	ctx, span := e.tracer.Start(ctx, "flow.HandleAction", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("action.kind", string(action.Kind)),
	))
	defer span.End()

	res, err := e.handleAction(ctx, userID, action)
	span.SetAttributes(attribute.String("action.outcome", string(res.Outcome)), attribute.String("workflow.id", res.WorkflowID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Engine HandleAction failed", "user_id", userID, "workflow_id", res.WorkflowID, "error", err)
	} else {
		slog.Debug("Engine HandleAction succeeded", "user_id", userID, "kind", action.Kind, "outcome", res.Outcome, "step", res.CurrentStep)
	}
	if res.Outcome != "" {
		e.metrics.ActionOutcome(res.WorkflowID, string(res.Outcome))
	}
	return res, err
}

func (e *Engine) handleAction(ctx context.Context, userID string, action models.ParsedUserAction) (ActionResult, error) {
	lk := e.locks.acquire(userID)
	defer lk.unlock()

	st, err := e.store.Get(ctx, userID)
	if err != nil {
		return ActionResult{Outcome: OutcomeError, Error: err.Error()}, fmt.Errorf("load instance: %w", err)
	}
	if st == nil {
		return ActionResult{Outcome: OutcomeIgnored, Error: ReasonNoActiveWorkflow}, nil
	}
	if action.WorkflowID != "" && (action.WorkflowID != st.WorkflowID || action.StepID != st.CurrentStep) {
		slog.Debug("Engine ignoring stale action", "user_id", userID, "action_workflow", action.WorkflowID, "action_step", action.StepID, "current_step", st.CurrentStep)
		return resultFor(OutcomeIgnored, st, ReasonStale), nil
	}
	if action.Kind != models.ActionCancel && e.inflight.busy(userID) {
		return resultFor(OutcomeIgnored, st, "a tool call is still running"), nil
	}

	def, ok := e.GetWorkflowDefinition(st.WorkflowID)
	if !ok {
		slog.Warn("Engine discarding instance of unregistered workflow", "user_id", userID, "workflow_id", st.WorkflowID)
		return resultFor(OutcomeIgnored, st, "workflow no longer registered"), e.store.Delete(ctx, userID)
	}
	step, ok := def.Step(st.CurrentStep)
	if !ok {
		slog.Warn("Engine discarding instance on removed step", "user_id", userID, "workflow_id", st.WorkflowID, "step", st.CurrentStep)
		return resultFor(OutcomeIgnored, st, "step no longer exists"), e.store.Delete(ctx, userID)
	}
	a, ok := e.Adapter(st.Surface.SurfaceID)
	if !ok {
		return resultFor(OutcomeError, st, "surface unavailable"), fmt.Errorf("%w: %s", ErrAdapterNotFound, st.Surface.SurfaceID)
	}

	// Bound actions come from a rendered message and may edit it in place.
	fromMessage := action.StepID != ""

	switch action.Kind {
	case models.ActionCancel:
		if !step.CancelAllowed() {
			return resultFor(OutcomeIgnored, st, "cancel is not allowed on this step"), nil
		}
		return resultFor(OutcomeCancelled, st, ""), e.cancel(ctx, a, st, fromMessage)
	case models.ActionBack:
		return e.back(ctx, def, st, step, a, fromMessage)
	case models.ActionSelection, models.ActionText:
		return e.submit(ctx, lk, def, st, step, a, action, fromMessage)
	default:
		return resultFor(OutcomeIgnored, st, "unsupported action"), nil
	}
}

// CancelWorkflow ends the user's active instance, if it is of workflowID (any workflow
// when empty) and its current step allows cancelling. It reports whether an instance
// was cancelled.
func (e *Engine) CancelWorkflow(ctx context.Context, userID, workflowID string) (bool, error) {
	lk := e.locks.acquire(userID)
	defer lk.unlock()

	st, err := e.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load instance: %w", err)
	}
	if st == nil || (workflowID != "" && st.WorkflowID != workflowID) {
		return false, nil
	}
	if def, ok := e.GetWorkflowDefinition(st.WorkflowID); ok {
		if step, ok := def.Step(st.CurrentStep); ok && !step.CancelAllowed() {
			return false, nil
		}
	}
	a, _ := e.Adapter(st.Surface.SurfaceID)
	err = e.cancel(ctx, a, st, false)
	e.metrics.ActionOutcome(st.WorkflowID, string(OutcomeCancelled))
	return true, err
}

// cancel deletes the instance and tells the user. A cancel pressed on the step's message
// replaces that message; otherwise its buttons are removed and a new message is sent.
func (e *Engine) cancel(ctx context.Context, a messaging.Adapter, st *models.WorkflowInstanceState, fromMessage bool) error {
	if err := e.store.Delete(ctx, st.UserID); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	slog.Info("Engine workflow cancelled", "user_id", st.UserID, "workflow_id", st.WorkflowID, "step", st.CurrentStep)
	if a == nil {
		return nil
	}
	if e.cancelMessage == "" {
		e.clearActions(ctx, a, st)
		return nil
	}
	if fromMessage && st.LastMessageID != "" {
		_, err := a.UpdateMessage(ctx, st.Surface, st.LastMessageID, e.cancelMessage)
		return err
	}
	e.clearActions(ctx, a, st)
	_, err := a.SendMessage(ctx, st.Surface, e.cancelMessage)
	return err
}

func (e *Engine) clearActions(ctx context.Context, a messaging.Adapter, st *models.WorkflowInstanceState) {
	c, ok := a.(messaging.ActionClearer)
	if !ok || st.LastMessageID == "" {
		return
	}
	if err := c.ClearActions(ctx, st.Surface, st.LastMessageID); err != nil {
		slog.Warn("Engine failed to clear message actions", "user_id", st.UserID, "message_id", st.LastMessageID, "error", err)
	}
}

// back returns to the most recent history entry. The answer, selection and tool result
// captured at that step are discarded so it is asked afresh.
func (e *Engine) back(ctx context.Context, def *models.WorkflowDefinition, st *models.WorkflowInstanceState, step *models.StepDefinition, a messaging.Adapter, fromMessage bool) (ActionResult, error) {
	if !step.BackAllowed() {
		return resultFor(OutcomeIgnored, st, "back is not allowed on this step"), nil
	}
	next := st.Clone()
	prev, ok := next.PopHistory()
	if !ok {
		return resultFor(OutcomeIgnored, st, "nothing to go back to"), nil
	}
	prevStep, ok := def.Step(prev)
	if !ok {
		return resultFor(OutcomeIgnored, st, "previous step no longer exists"), nil
	}
	delete(next.Variables, prev)
	delete(next.Variables, prev+resultSuffix)
	delete(next.Variables, prev+errorSuffix)
	delete(next.Selections, prev)
	next.CurrentStep = prev
	next.LastActivityAt = e.now()

	opts := renderOpts{}
	if fromMessage {
		opts.replaceID = st.LastMessageID
	}
	if err := e.render(ctx, a, next, prevStep, opts); err != nil {
		return resultFor(OutcomeError, st, err.Error()), err
	}
	if err := e.store.Update(ctx, next); err != nil {
		return resultFor(OutcomeError, st, err.Error()), fmt.Errorf("save instance: %w", err)
	}
	return resultFor(OutcomeAdvanced, next, ""), nil
}

// Variable key suffixes for tool outcomes.
const (
	resultSuffix = ".result"
	errorSuffix  = ".error"
)

// submit validates an answer to the current step, runs the step's tool call and moves to
// the resolved target.
func (e *Engine) submit(ctx context.Context, lk *userLock, def *models.WorkflowDefinition, st *models.WorkflowInstanceState, step *models.StepDefinition, a messaging.Adapter, action models.ParsedUserAction, fromMessage bool) (ActionResult, error) {
	stepID := st.CurrentStep
	input := action.Input()
	selection := action.Kind == models.ActionSelection
	next := st.Clone()

	replaceID := ""
	if fromMessage && selection {
		replaceID = st.LastMessageID
	}

	var key, value string
	capture := true
	switch step.Type {
	case models.KindTextInput:
		if selection {
			return resultFor(OutcomeIgnored, st, "expected a text reply"), nil
		}
		if msg, ok := checkText(step.Validation, input); !ok {
			return e.retry(ctx, a, st, step, OutcomeValidationError, msg, msg)
		}
		value = input

	case models.KindChoice:
		var opt models.Option
		var ok bool
		if selection {
			if opt, ok = step.FindOption(input); !ok {
				return resultFor(OutcomeIgnored, st, "unknown option"), nil
			}
		} else if opt, ok = matchOption(step.Options, input); !ok {
			return e.retry(ctx, a, st, step, OutcomeValidationError, msgPickOption, msgPickOption)
		}
		key, value = opt.ID, opt.ID

	case models.KindConfirm:
		if selection {
			if input != models.ActionIDYes && input != models.ActionIDNo {
				return resultFor(OutcomeIgnored, st, "unknown option"), nil
			}
			key = input
		} else {
			var ok bool
			if key, ok = matchConfirm(step, input); !ok {
				return e.retry(ctx, a, st, step, OutcomeValidationError, msgYesNo, msgYesNo)
			}
		}
		value = key

	case models.KindMultiChoice:
		switch {
		case selection && strings.HasPrefix(input, models.TogglePrefix):
			return e.toggle(ctx, a, st, step, strings.TrimPrefix(input, models.TogglePrefix), replaceID)
		case selection && input != models.ActionIDSubmit:
			return resultFor(OutcomeIgnored, st, "unknown option"), nil
		case !selection:
			ids, ok := matchOptionList(step.Options, input)
			if !ok {
				return e.retry(ctx, a, st, step, OutcomeValidationError, msgPickOption, msgPickOption)
			}
			if next.Selections == nil {
				next.Selections = make(map[string][]string)
			}
			next.Selections[stepID] = ids
		}
		key = models.ActionIDSubmit
		value = strings.Join(next.Selections[stepID], ",")

	default:
		if selection && input != models.ActionIDContinue {
			return resultFor(OutcomeIgnored, st, "unknown option"), nil
		}
		key = models.ActionIDContinue
		capture = false
	}

	if capture {
		next.SetVariable(stepID, value)
	}
	target, ok := resolveTarget(step, key)

	if step.ToolCall != nil {
		res, current, err := e.runTool(ctx, lk, guardOf(st), step.ToolCall, value, next)
		if err != nil {
			return resultFor(OutcomeError, st, err.Error()), err
		}
		if !current {
			return resultFor(OutcomeIgnored, st, "workflow changed while the tool was running"), nil
		}
		switch {
		case res.Success:
			next.SetVariable(stepID+resultSuffix, res.ResultString())
		case step.ToolCall.OnError != "":
			next.SetVariable(stepID+errorSuffix, res.Error)
			target, ok = step.ToolCall.OnError, true
		default:
			return e.retry(ctx, a, st, step, OutcomeError, DefaultToolFailMessage, res.Error)
		}
	}

	if !ok {
		slog.Error("Engine found no transition", "workflow_id", st.WorkflowID, "step", stepID, "key", key)
		return e.retry(ctx, a, st, step, OutcomeError, DefaultToolFailMessage, fmt.Sprintf("no transition for %q", key))
	}

	if !isAutoStep(step) {
		next.PushHistory(stepID)
	}
	return e.enter(ctx, lk, def, next, a, target, replaceID, false)
}

// retry re-renders the current step with a notice and keeps the user on it.
func (e *Engine) retry(ctx context.Context, a messaging.Adapter, st *models.WorkflowInstanceState, step *models.StepDefinition, outcome Outcome, notice, reason string) (ActionResult, error) {
	next := st.Clone()
	next.LastActivityAt = e.now()
	if err := e.render(ctx, a, next, step, renderOpts{validationError: notice}); err != nil {
		return resultFor(OutcomeError, st, err.Error()), err
	}
	if err := e.store.Update(ctx, next); err != nil {
		return resultFor(OutcomeError, st, err.Error()), fmt.Errorf("save instance: %w", err)
	}
	return resultFor(outcome, next, reason), nil
}

// toggle flips one option of a multi-choice step without leaving it.
func (e *Engine) toggle(ctx context.Context, a messaging.Adapter, st *models.WorkflowInstanceState, step *models.StepDefinition, optionID, replaceID string) (ActionResult, error) {
	if _, ok := step.FindOption(optionID); !ok {
		return resultFor(OutcomeIgnored, st, "unknown option"), nil
	}
	next := st.Clone()
	if next.Selections == nil {
		next.Selections = make(map[string][]string)
	}
	sel := next.Selections[st.CurrentStep]
	if i := slices.Index(sel, optionID); i >= 0 {
		sel = slices.Delete(sel, i, i+1)
	} else {
		sel = append(sel, optionID)
	}
	next.Selections[st.CurrentStep] = sel
	next.LastActivityAt = e.now()

	if err := e.render(ctx, a, next, step, renderOpts{replaceID: replaceID}); err != nil {
		return resultFor(OutcomeError, st, err.Error()), err
	}
	if err := e.store.Update(ctx, next); err != nil {
		return resultFor(OutcomeError, st, err.Error()), fmt.Errorf("save instance: %w", err)
	}
	return resultFor(OutcomeAdvanced, next, ""), nil
}

// enter moves st to stepID and renders it. Automatic steps run their tool and continue
// to the next step within the same call; terminal steps end the instance. Only the first
// render may replace replaceID.
func (e *Engine) enter(ctx context.Context, lk *userLock, def *models.WorkflowDefinition, st *models.WorkflowInstanceState, a messaging.Adapter, stepID, replaceID string, isNew bool) (ActionResult, error) {
	save := func() error {
		var err error
		if isNew {
			err = e.store.Create(ctx, st)
		} else {
			err = e.store.Update(ctx, st)
		}
		if err != nil {
			return fmt.Errorf("save instance: %w", err)
		}
		isNew = false
		return nil
	}

	for hops := 0; ; hops++ {
		step, ok := def.Step(stepID)
		if !ok {
			return resultFor(OutcomeError, st, "unknown step"), fmt.Errorf("step %q not found in workflow %s", stepID, def.ID)
		}
		st.CurrentStep = stepID
		st.LastActivityAt = e.now()
		opts := renderOpts{replaceID: replaceID}
		replaceID = ""

		if step.Terminal {
			if err := e.render(ctx, a, st, step, opts); err != nil {
				return resultFor(OutcomeError, st, err.Error()), err
			}
			if err := e.store.Delete(ctx, st.UserID); err != nil {
				return resultFor(OutcomeError, st, err.Error()), fmt.Errorf("delete instance: %w", err)
			}
			slog.Info("Engine workflow completed", "workflow_id", st.WorkflowID, "user_id", st.UserID, "step", stepID)
			return resultFor(OutcomeCompleted, st, ""), nil
		}

		if !isAutoStep(step) || hops > len(def.Steps) {
			if err := e.render(ctx, a, st, step, opts); err != nil {
				return resultFor(OutcomeError, st, err.Error()), err
			}
			if err := save(); err != nil {
				return resultFor(OutcomeError, st, err.Error()), err
			}
			if isAutoStep(step) {
				return resultFor(OutcomeError, st, "too many automatic steps"), nil
			}
			return resultFor(OutcomeAdvanced, st, ""), nil
		}

		opts.running = true
		if err := e.render(ctx, a, st, step, opts); err != nil {
			return resultFor(OutcomeError, st, err.Error()), err
		}
		if err := save(); err != nil {
			return resultFor(OutcomeError, st, err.Error()), err
		}
		res, current, err := e.runTool(ctx, lk, guardOf(st), step.ToolCall, "", st)
		if err != nil {
			return resultFor(OutcomeError, st, err.Error()), err
		}
		if !current {
			return resultFor(OutcomeIgnored, st, "workflow changed while the tool was running"), nil
		}
		switch {
		case res.Success:
			st.SetVariable(stepID+resultSuffix, res.ResultString())
			target, ok := resolveTarget(step, models.ActionIDContinue)
			if !ok {
				return e.retry(ctx, a, st, step, OutcomeError, DefaultToolFailMessage, "automatic step has no exit")
			}
			stepID = target
		case step.ToolCall.OnError != "":
			st.SetVariable(stepID+errorSuffix, res.Error)
			stepID = step.ToolCall.OnError
		default:
			return e.retry(ctx, a, st, step, OutcomeError, DefaultToolFailMessage, res.Error)
		}
	}
}

// instanceGuard identifies the stored instance a tool call was started from.
type instanceGuard struct {
	userID     string
	instanceID string
	step       string
	activity   time.Time
}

func guardOf(st *models.WorkflowInstanceState) instanceGuard {
	return instanceGuard{userID: st.UserID, instanceID: st.InstanceID, step: st.CurrentStep, activity: st.LastActivityAt}
}

// runTool executes a tool call with the user's lock released, then re-acquires it and
// checks that the stored instance is still the one the call was started from. current is
// false when the result must be discarded.
func (e *Engine) runTool(ctx context.Context, lk *userLock, g instanceGuard, tc *models.ToolCall, input string, vars *models.WorkflowInstanceState) (res *models.ToolResult, current bool, err error) {
	ctx, span := e.tracer.Start(ctx, "flow.toolCall", trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("workflow.step", g.step),
	))
	defer span.End()

	params := resolveParams(tc.ParamMap, input, vars)
	started := time.Now()

	e.inflight.add(g.userID, 1)
	lk.unlock()
	res, execErr := e.executor.Execute(ctx, tc.Name, params)
	lk.relock()
	e.inflight.add(g.userID, -1)
	elapsed := time.Since(started)

	if execErr != nil {
		slog.Error("Engine tool executor failed", "tool", tc.Name, "user_id", g.userID, "error", execErr)
		res = models.ToolFailure("%v", execErr)
	}
	if res == nil {
		res = models.ToolFailure("tool %s returned no result", tc.Name)
	}

	fresh, err := e.store.Get(ctx, g.userID)
	if err != nil {
		return nil, false, fmt.Errorf("reload instance: %w", err)
	}
	if fresh == nil || fresh.InstanceID != g.instanceID || fresh.CurrentStep != g.step || !fresh.LastActivityAt.Equal(g.activity) {
		slog.Info("Engine discarding stale tool result", "tool", tc.Name, "user_id", g.userID, "step", g.step)
		span.SetAttributes(attribute.Bool("tool.discarded", true))
		e.metrics.ToolCall(tc.Name, "discarded", elapsed)
		return nil, false, nil
	}

	status := "success"
	if !res.Success {
		status = "error"
		span.SetStatus(codes.Error, res.Error)
		slog.Warn("Engine tool call failed", "tool", tc.Name, "user_id", g.userID, "step", g.step, "error", res.Error)
	} else {
		slog.Debug("Engine tool call succeeded", "tool", tc.Name, "user_id", g.userID, "step", g.step)
	}
	e.metrics.ToolCall(tc.Name, status, elapsed)
	return res, true, nil
}
