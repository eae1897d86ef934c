package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

func walletDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:         "wallet-onboarding",
		Plugin:     "wallet",
		Version:    "1.0.0",
		EntryPoint: "welcome",
		Steps: map[string]*models.StepDefinition{
			"welcome": {Type: models.KindInfo, Content: "Welcome", Next: "confirm-create"},
			"confirm-create": {
				Type:        models.KindConfirm,
				Content:     "Create a wallet?",
				Transitions: map[string]string{"yes": "set-passphrase", "no": "cancelled"},
			},
			"set-passphrase": {
				Type:       models.KindTextInput,
				Content:    "Choose a passphrase",
				Validation: &models.ValidationRule{MinLength: 8},
				ToolCall:   &models.ToolCall{Name: "wallet.create", ParamMap: map[string]string{"passphrase": models.InputRef}},
				Next:       "complete",
			},
			"complete":  {Type: models.KindInfo, Content: "Done", Terminal: true},
			"cancelled": {Type: models.KindInfo, Content: "Maybe later", Terminal: true},
		},
	}
}

func hasIssue(r Result, path, fragment string) bool {
	for _, i := range r.Errors {
		if i.Path == path && strings.Contains(i.Message, fragment) {
			return true
		}
	}
	return false
}

func TestValidateAcceptsWalletDefinition(t *testing.T) {
	r := Validate(walletDefinition())
	if !r.Valid {
		t.Fatalf("expected valid definition, got errors: %v", r.Errors)
	}
	if r.AsError("wallet-onboarding") != nil {
		t.Error("valid result should not produce an error")
	}
}

func TestValidateNilDefinition(t *testing.T) {
	r := Validate(nil)
	if r.Valid || len(r.Errors) != 1 {
		t.Fatalf("expected a single error for nil definition, got %+v", r)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	r := Validate(&models.WorkflowDefinition{})
	if r.Valid {
		t.Fatal("expected empty definition to be invalid")
	}
	for _, field := range []string{"id", "plugin", "version", "entryPoint", "steps"} {
		if !hasIssue(r, field, "") {
			t.Errorf("expected an error for missing %s, got %v", field, r.Errors)
		}
	}

	empty := walletDefinition()
	empty.Steps = map[string]*models.StepDefinition{}
	r = Validate(empty)
	if !hasIssue(r, "steps", "must not be empty") {
		t.Errorf("expected empty steps error, got %v", r.Errors)
	}
}

func TestValidateMissingEntryPoint(t *testing.T) {
	def := walletDefinition()
	def.EntryPoint = "nowhere"
	r := Validate(def)
	if !hasIssue(r, "entryPoint", "does not exist") {
		t.Errorf("expected entry point error, got %v", r.Errors)
	}
}

func TestValidateExitMechanisms(t *testing.T) {
	def := walletDefinition()
	def.Steps["welcome"].Terminal = true
	def.Steps["complete"].Terminal = false
	r := Validate(def)
	if !hasIssue(r, "steps.welcome", "found 2") {
		t.Errorf("expected duplicate exit error on welcome, got %v", r.Errors)
	}
	if !hasIssue(r, "steps.complete", "found none") {
		t.Errorf("expected missing exit error on complete, got %v", r.Errors)
	}
}

func TestValidateDanglingTargets(t *testing.T) {
	def := walletDefinition()
	def.Steps["confirm-create"].Transitions["no"] = "gone"
	def.Steps["welcome"].Next = "missing"
	def.Steps["set-passphrase"].ToolCall.OnError = "absent"
	r := Validate(def)

	for _, path := range []string{
		"steps.confirm-create.transitions.no",
		"steps.welcome.next",
		"steps.set-passphrase.toolCall.onError",
	} {
		if !hasIssue(r, path, "does not exist") {
			t.Errorf("expected dangling target error at %s, got %v", path, r.Errors)
		}
	}
}

func TestValidateOptionCount(t *testing.T) {
	tooMany := make([]models.Option, 8)
	for i := range tooMany {
		tooMany[i] = models.Option{ID: string(rune('a' + i)), Label: "opt"}
	}

	for name, opts := range map[string][]models.Option{"zero": nil, "eight": tooMany} {
		def := walletDefinition()
		def.Steps["pick"] = &models.StepDefinition{Type: models.KindChoice, Content: "Pick", Options: opts, Next: "complete"}
		def.Steps["welcome"].Next = "pick"
		r := Validate(def)
		if !hasIssue(r, "steps.pick.options", "between 1 and 7") {
			t.Errorf("%s options: expected option count error, got %v", name, r.Errors)
		}
	}
}

func TestValidateContentLength(t *testing.T) {
	def := walletDefinition()
	def.Steps["welcome"].Content = strings.Repeat("é", models.MaxContentLength)
	if r := Validate(def); !r.Valid {
		t.Fatalf("content at the limit should pass, got %v", r.Errors)
	}

	def.Steps["welcome"].Content += "x"
	r := Validate(def)
	if !hasIssue(r, "steps.welcome.content", "maximum is 2000") {
		t.Errorf("expected content length error, got %v", r.Errors)
	}
}

func TestValidateRequiresTerminal(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID: "loop", Plugin: "p", Version: "1", EntryPoint: "a",
		Steps: map[string]*models.StepDefinition{
			"a": {Type: models.KindInfo, Next: "b"},
			"b": {Type: models.KindInfo, Next: "a"},
		},
	}
	r := Validate(def)
	if !hasIssue(r, "steps", "terminal") {
		t.Errorf("expected missing terminal error, got %v", r.Errors)
	}
}

func TestValidateReportsEveryUnreachableStep(t *testing.T) {
	def := walletDefinition()
	def.Steps["orphan-a"] = &models.StepDefinition{Type: models.KindInfo, Next: "orphan-b"}
	def.Steps["orphan-b"] = &models.StepDefinition{Type: models.KindInfo, Terminal: true}
	r := Validate(def)
	for _, id := range []string{"orphan-a", "orphan-b"} {
		if !hasIssue(r, "steps."+id, "unreachable") {
			t.Errorf("expected %s to be reported unreachable, got %v", id, r.Errors)
		}
	}
}

func TestValidateOnErrorEdgeCountsForReachability(t *testing.T) {
	def := walletDefinition()
	def.Steps["wallet-error"] = &models.StepDefinition{Type: models.KindInfo, Content: "Failed", Terminal: true}
	def.Steps["set-passphrase"].ToolCall.OnError = "wallet-error"
	if r := Validate(def); !r.Valid {
		t.Fatalf("onError target should be reachable, got %v", r.Errors)
	}
}

func TestValidateStepDetails(t *testing.T) {
	def := walletDefinition()
	def.Steps["welcome"].Validation = &models.ValidationRule{MinLength: 1}
	def.Steps["set-passphrase"].Validation.Pattern = "("
	def.Steps["set-passphrase"].ToolCall.Name = " "
	def.Steps["complete"].Type = "carousel"
	r := Validate(def)

	checks := []struct{ path, fragment string }{
		{"steps.welcome.validation", "only allowed on text-input"},
		{"steps.set-passphrase.validation.pattern", "invalid pattern"},
		{"steps.set-passphrase.toolCall.name", "required"},
		{"steps.complete.type", "unknown step type"},
	}
	for _, c := range checks {
		if !hasIssue(r, c.path, c.fragment) {
			t.Errorf("expected %q at %s, got %v", c.fragment, c.path, r.Errors)
		}
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	def := walletDefinition()
	def.Version = ""
	def.EntryPoint = "nowhere"
	def.Steps["welcome"].Next = "missing"
	r := Validate(def)
	if len(r.Errors) < 3 {
		t.Fatalf("expected every problem to be reported, got %v", r.Errors)
	}

	err := r.AsError(def.ID)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(verr.Issues) != len(r.Errors) {
		t.Errorf("error should carry all %d issues, got %d", len(r.Errors), len(verr.Issues))
	}
}

func TestValidateNullStep(t *testing.T) {
	def := walletDefinition()
	def.Steps["ghost"] = nil
	r := Validate(def)
	if !hasIssue(r, "steps.ghost", "null") {
		t.Errorf("expected null step error, got %v", r.Errors)
	}
}

func TestValidateTransitionCoverage(t *testing.T) {
	def := walletDefinition()
	opts := []models.Option{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}}
	def.Steps["welcome"].Next = "pick"
	def.Steps["pick"] = &models.StepDefinition{
		Type: models.KindChoice, Content: "Pick", Options: opts,
		Transitions: map[string]string{"a": "confirm-create"},
	}
	r := Validate(def)
	if !hasIssue(r, "steps.pick.transitions", `option "b"`) {
		t.Errorf("expected missing option transition error, got %v", r.Errors)
	}

	def.Steps["pick"].Transitions[DefaultTransition] = "confirm-create"
	if r := Validate(def); !r.Valid {
		t.Errorf("default transition should cover remaining options, got %v", r.Errors)
	}

	def.Steps["pick"] = &models.StepDefinition{
		Type: models.KindMultiChoice, Content: "Pick", Options: opts,
		Transitions: map[string]string{"a": "confirm-create"},
	}
	if r := Validate(def); !hasIssue(r, "steps.pick.transitions", "submit") {
		t.Errorf("expected missing submit transition error, got %v", r.Errors)
	}
}

func TestValidateRejectsToolCallOnTerminal(t *testing.T) {
	def := walletDefinition()
	def.Steps["complete"].ToolCall = &models.ToolCall{Name: "notify"}
	if r := Validate(def); !hasIssue(r, "steps.complete.toolCall", "terminal") {
		t.Errorf("expected terminal tool call error, got %v", r.Errors)
	}
}

func TestValidateRejectsOverlongCallbackData(t *testing.T) {
	def := walletDefinition()
	long := strings.Repeat("o", 40)
	def.Steps["pick"] = &models.StepDefinition{
		Type:        models.KindChoice,
		Content:     "Pick",
		Options:     []models.Option{{ID: long, Label: "Long"}, {ID: "ok", Label: "Ok"}},
		Transitions: map[string]string{DefaultTransition: "complete"},
	}
	def.Steps["welcome"].Next = "pick"

	r := Validate(def)
	if !hasIssue(r, "steps.pick", long) {
		t.Errorf("expected overlong callback error for the long option, got %v", r.Errors)
	}
	for _, i := range r.Errors {
		if strings.Contains(i.Message, `"ok"`) {
			t.Errorf("short option should fit: %v", i)
		}
	}
}

func TestValidateCallbackLimitCoversMetaAndToggleActions(t *testing.T) {
	def := walletDefinition()
	def.ID = strings.Repeat("w", 36)
	r := Validate(def)
	if !hasIssue(r, "steps.set-passphrase", models.ActionIDCancel) {
		t.Errorf("expected the cancel button to overflow, got %v", r.Errors)
	}
	for _, i := range r.Errors {
		if strings.HasPrefix(i.Path, "steps.complete") {
			t.Errorf("terminal steps have no buttons: %v", i)
		}
	}

	off := false
	for _, id := range []string{"welcome", "confirm-create", "set-passphrase"} {
		def.Steps[id].AllowCancel = &off
		def.Steps[id].AllowBack = &off
	}
	if r := Validate(def); !r.Valid {
		t.Errorf("without meta buttons every callback should fit, got %v", r.Errors)
	}
}
