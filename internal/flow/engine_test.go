package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/store"
	"github.com/Quackstro/opencore-sub001/internal/testutil"
	"github.com/Quackstro/opencore-sub001/internal/validation"
)

const surface = "test"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine  *Engine
	store   *store.MemoryStore
	adapter *testutil.RecordingAdapter
	tools   *testutil.StubExecutor
	clock   *fakeClock
	target  models.SurfaceTarget
}

func newHarness(t *testing.T, defs ...*models.WorkflowDefinition) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore(store.WithClock(clock.Now))
	x := testutil.NewStubExecutor()
	e := New(st, WithToolExecutor(x), WithClock(clock.Now))
	a := testutil.NewRecordingAdapter(surface, testutil.ButtonCapabilities())
	if err := e.RegisterAdapter(a); err != nil {
		t.Fatal(err)
	}
	for _, def := range defs {
		if err := e.RegisterWorkflow(def); err != nil {
			t.Fatalf("register %s: %v", def.ID, err)
		}
	}
	return &harness{engine: e, store: st, adapter: a, tools: x, clock: clock, target: testutil.Target(surface, "u1")}
}

func (h *harness) start(t *testing.T, workflowID string) *models.WorkflowInstanceState {
	t.Helper()
	st, err := h.engine.StartWorkflow(context.Background(), workflowID, h.target, nil)
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	return st
}

func (h *harness) act(t *testing.T, action models.ParsedUserAction) ActionResult {
	t.Helper()
	res, err := h.engine.HandleAction(context.Background(), h.target.UserKey(), action)
	if err != nil {
		t.Fatalf("HandleAction(%+v): %v", action, err)
	}
	return res
}

func (h *harness) state(t *testing.T) *models.WorkflowInstanceState {
	t.Helper()
	st, err := h.engine.GetActiveWorkflow(context.Background(), h.target.UserKey())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func expectOutcome(t *testing.T, res ActionResult, want Outcome, step string) {
	t.Helper()
	if res.Outcome != want {
		t.Fatalf("expected outcome %s, got %s (%s)", want, res.Outcome, res.Error)
	}
	if step != "" && res.CurrentStep != step {
		t.Fatalf("expected step %s, got %s", step, res.CurrentStep)
	}
}

func TestRegisterWorkflowRejectsInvalid(t *testing.T) {
	e := New(store.NewMemoryStore())
	def := testutil.WalletOnboarding()
	def.EntryPoint = "missing"

	err := e.RegisterWorkflow(def)
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *validation.Error, got %v", err)
	}
	if e.HasWorkflow(def.ID) {
		t.Error("invalid definition must not be registered")
	}
}

func TestRegisterWorkflowRejectsTerminalToolCall(t *testing.T) {
	e := New(store.NewMemoryStore())
	def := testutil.WalletOnboarding()
	def.Steps["complete"].ToolCall = &models.ToolCall{Name: "notify"}

	if err := e.RegisterWorkflow(def); err == nil {
		t.Fatal("expected a terminal step with a tool call to be rejected")
	}
	if e.HasWorkflow(def.ID) {
		t.Error("invalid definition must not be registered")
	}
}

func TestListAndUnregisterWorkflows(t *testing.T) {
	second := testutil.WalletOnboarding()
	second.ID = "a-first"
	h := newHarness(t, testutil.WalletOnboarding(), second)

	list := h.engine.ListWorkflows()
	if len(list) != 2 || list[0].ID != "a-first" {
		t.Fatalf("unexpected list order: %v", list)
	}
	if !h.engine.UnregisterWorkflow("a-first") || h.engine.UnregisterWorkflow("a-first") {
		t.Error("unregister should report whether the workflow existed")
	}
}

func TestStartWorkflowErrors(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	_, err := h.engine.StartWorkflow(context.Background(), "nope", h.target, nil)
	if !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
	_, err = h.engine.StartWorkflow(context.Background(), "wallet-onboarding", testutil.Target("other", "u1"), nil)
	if !errors.Is(err, ErrAdapterNotFound) {
		t.Errorf("expected ErrAdapterNotFound, got %v", err)
	}
}

func TestStartWorkflowRendersEntryPoint(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	st := h.start(t, "wallet-onboarding")

	if st.CurrentStep != "welcome" || st.InstanceID == "" {
		t.Fatalf("unexpected state %+v", st)
	}
	r := h.adapter.LastRender(t)
	info, ok := r.Primitive.(*models.Info)
	if !ok {
		t.Fatalf("expected info primitive, got %s", r.Describe())
	}
	if !info.Continue || info.IncludeBack || !info.IncludeCancel {
		t.Errorf("unexpected meta flags on entry step: %+v", info.PrimitiveBase)
	}
	if r.Context.WorkflowID != "wallet-onboarding" || r.Context.StepID != "welcome" {
		t.Errorf("render context not bound to step: %+v", r.Context)
	}
	if saved := h.state(t); saved == nil || saved.LastMessageID != r.MessageID {
		t.Errorf("expected persisted message id %s, got %+v", r.MessageID, saved)
	}
}

func TestStartWorkflowReplacesExisting(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	first := h.start(t, "wallet-onboarding")
	second := h.start(t, "wallet-onboarding")

	if first.InstanceID == second.InstanceID {
		t.Error("expected a fresh instance id")
	}
	if len(h.adapter.Cleared) != 1 || h.adapter.Cleared[0] != first.LastMessageID {
		t.Errorf("expected buttons of %s cleared, got %v", first.LastMessageID, h.adapter.Cleared)
	}
}

func TestStartWorkflowInitialData(t *testing.T) {
	def := testutil.WalletOnboarding()
	def.Steps["welcome"].Content = "Hi {{vars.name}}"
	h := newHarness(t, def)

	_, err := h.engine.StartWorkflow(context.Background(), def.ID, h.target, map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.PrimitiveContent(h.adapter.LastRender(t).Primitive); got != "Hi Ada" {
		t.Errorf("expected interpolated content, got %q", got)
	}
}

func TestHandleActionWithoutInstance(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	res := h.act(t, testutil.Text(h.target, "hello"))
	expectOutcome(t, res, OutcomeIgnored, "")
}

func TestStaleButtonIsIgnored(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	h.start(t, "wallet-onboarding")
	expectOutcome(t, h.act(t, testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDContinue)), OutcomeAdvanced, "confirm-create")

	renders := h.adapter.RenderCount()
	res := h.act(t, testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDContinue))
	expectOutcome(t, res, OutcomeIgnored, "confirm-create")
	if h.adapter.RenderCount() != renders {
		t.Error("stale actions must not render")
	}

	res = h.act(t, testutil.Press(h.target, "other-workflow", "confirm-create", models.ActionIDYes))
	expectOutcome(t, res, OutcomeIgnored, "")
}

func TestButtonPressEditsInPlace(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	st := h.start(t, "wallet-onboarding")
	h.act(t, testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDContinue))

	r := h.adapter.LastRender(t)
	if r.Context.ReplaceMessageID != st.LastMessageID {
		t.Errorf("expected edit of %s, got %q", st.LastMessageID, r.Context.ReplaceMessageID)
	}

	// Text replies are answered with a new message.
	h.act(t, testutil.Text(h.target, "yes"))
	if r := h.adapter.LastRender(t); r.Context.ReplaceMessageID != "" {
		t.Errorf("text replies should not edit, got %q", r.Context.ReplaceMessageID)
	}
}

func TestCancelFromButton(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	h.start(t, "wallet-onboarding")

	res := h.act(t, testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDCancel))
	expectOutcome(t, res, OutcomeCancelled, "welcome")
	if h.state(t) != nil {
		t.Error("instance should be deleted")
	}
	if len(h.adapter.Updates) != 1 || h.adapter.Updates[0] != DefaultCancelMessage {
		t.Errorf("expected cancel message edited in, got %v", h.adapter.Updates)
	}
}

func TestCancelFromText(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	st := h.start(t, "wallet-onboarding")

	res := h.act(t, models.ParsedUserAction{Kind: models.ActionCancel, Surface: h.target})
	expectOutcome(t, res, OutcomeCancelled, "")
	if len(h.adapter.Sent) != 1 || h.adapter.Sent[0] != DefaultCancelMessage {
		t.Errorf("expected cancel message sent, got %v", h.adapter.Sent)
	}
	if len(h.adapter.Cleared) != 1 || h.adapter.Cleared[0] != st.LastMessageID {
		t.Errorf("expected old buttons cleared, got %v", h.adapter.Cleared)
	}
}

func TestCancelNotAllowed(t *testing.T) {
	def := testutil.WalletOnboarding()
	no := false
	def.Steps["welcome"].AllowCancel = &no
	h := newHarness(t, def)
	h.start(t, def.ID)

	if r := h.adapter.LastRender(t); r.Primitive.Common().IncludeCancel {
		t.Error("cancel button must be hidden")
	}
	res := h.act(t, models.ParsedUserAction{Kind: models.ActionCancel, Surface: h.target})
	expectOutcome(t, res, OutcomeIgnored, "welcome")
	ok, err := h.engine.CancelWorkflow(context.Background(), h.target.UserKey(), "")
	if err != nil || ok {
		t.Errorf("programmatic cancel should honour allowCancel, got %v %v", ok, err)
	}
}

func TestCancelWorkflowProgrammatic(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	h.start(t, "wallet-onboarding")
	ctx := context.Background()

	if ok, _ := h.engine.CancelWorkflow(ctx, h.target.UserKey(), "another"); ok {
		t.Error("cancel of a different workflow id should not match")
	}
	ok, err := h.engine.CancelWorkflow(ctx, h.target.UserKey(), "wallet-onboarding")
	if err != nil || !ok {
		t.Fatalf("expected cancel, got %v %v", ok, err)
	}
	if h.state(t) != nil {
		t.Error("instance should be deleted")
	}
	if ok, _ := h.engine.CancelWorkflow(ctx, h.target.UserKey(), ""); ok {
		t.Error("nothing left to cancel")
	}
}

func TestBackRestoresPreviousStep(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	h.start(t, "wallet-onboarding")
	h.act(t, testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDContinue))
	expectOutcome(t, h.act(t, testutil.Text(h.target, "yes")), OutcomeAdvanced, "set-passphrase")

	if r := h.adapter.LastRender(t); !r.Primitive.Common().IncludeBack {
		t.Error("back should be offered once there is history")
	}

	res := h.act(t, testutil.Press(h.target, "wallet-onboarding", "set-passphrase", models.ActionIDBack))
	expectOutcome(t, res, OutcomeAdvanced, "confirm-create")

	st := h.state(t)
	if _, ok := st.Variables["confirm-create"]; ok {
		t.Error("answer of the re-entered step should be discarded")
	}
	if len(st.History) != 1 || st.History[0] != "welcome" {
		t.Errorf("unexpected history %v", st.History)
	}

	expectOutcome(t, h.act(t, models.ParsedUserAction{Kind: models.ActionBack, Surface: h.target}), OutcomeAdvanced, "welcome")
	expectOutcome(t, h.act(t, models.ParsedUserAction{Kind: models.ActionBack, Surface: h.target}), OutcomeIgnored, "welcome")
}

func TestSweepExpired(t *testing.T) {
	def := testutil.WalletOnboarding()
	def.TTL = models.Duration(10 * time.Minute)
	h := newHarness(t, def)
	h.start(t, def.ID)

	h.clock.Advance(5 * time.Minute)
	if n, _ := h.engine.SweepExpired(context.Background()); n != 0 {
		t.Errorf("nothing should expire yet, swept %d", n)
	}
	h.clock.Advance(6 * time.Minute)
	n, err := h.engine.SweepExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 swept instance, got %d %v", n, err)
	}
	if h.state(t) != nil {
		t.Error("instance should be gone")
	}
}

func TestActivityExtendsTTL(t *testing.T) {
	def := testutil.WalletOnboarding()
	def.TTL = models.Duration(10 * time.Minute)
	h := newHarness(t, def)
	h.start(t, def.ID)

	h.clock.Advance(8 * time.Minute)
	h.act(t, testutil.Press(h.target, def.ID, "welcome", models.ActionIDContinue))
	h.clock.Advance(8 * time.Minute)
	if h.state(t) == nil {
		t.Fatal("activity should have extended the ttl")
	}
	h.clock.Advance(3 * time.Minute)
	expectOutcome(t, h.act(t, testutil.Text(h.target, "yes")), OutcomeIgnored, "")
}

func TestUnregisteredWorkflowInstanceDiscarded(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	h.start(t, "wallet-onboarding")
	h.engine.UnregisterWorkflow("wallet-onboarding")

	res := h.act(t, testutil.Text(h.target, "yes"))
	expectOutcome(t, res, OutcomeIgnored, "")
	if h.state(t) != nil {
		t.Error("orphaned instance should be deleted")
	}
}

func TestUsersAreIsolated(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	other := testutil.Target(surface, "u2")
	h.start(t, "wallet-onboarding")
	if _, err := h.engine.StartWorkflow(context.Background(), "wallet-onboarding", other, nil); err != nil {
		t.Fatal(err)
	}
	h.act(t, testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDContinue))

	st, _ := h.engine.GetActiveWorkflow(context.Background(), other.UserKey())
	if st == nil || st.CurrentStep != "welcome" {
		t.Errorf("other user's instance should be untouched, got %+v", st)
	}
}

func TestConcurrentActionsSameUser(t *testing.T) {
	h := newHarness(t, testutil.WalletOnboarding())
	h.start(t, "wallet-onboarding")

	var wg sync.WaitGroup
	results := make(chan Outcome, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := h.engine.HandleAction(context.Background(), h.target.UserKey(),
				testutil.Press(h.target, "wallet-onboarding", "welcome", models.ActionIDContinue))
			results <- res.Outcome
		}()
	}
	wg.Wait()
	close(results)

	advanced := 0
	for o := range results {
		if o == OutcomeAdvanced {
			advanced++
		}
	}
	if advanced != 1 {
		t.Errorf("exactly one press should advance, got %d", advanced)
	}
}
