// Package validation checks the structural correctness of workflow definitions before
// they are registered.
//
// Validate never stops at the first problem: every issue found is reported with a path
// pointing into the definition (e.g. "steps.confirm.options").
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/go-playground/validator/v10"
)

// Issue is one validation failure.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Result is the outcome of validating one definition.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Issue `json:"errors,omitempty"`
}

func (r *Result) add(path, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Error is returned when a definition is rejected. It carries every issue found.
type Error struct {
	WorkflowID string
	Issues     []Issue
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, i.String())
	}
	return fmt.Sprintf("workflow %q is invalid (%d issues): %s", e.WorkflowID, len(e.Issues), strings.Join(parts, "; "))
}

// AsError returns nil for a valid result, otherwise an *Error for the given workflow id.
func (r Result) AsError(workflowID string) error {
	if r.Valid {
		return nil
	}
	return &Error{WorkflowID: workflowID, Issues: r.Errors}
}

// DefaultTransition is the transitions key used when no key matches the user's answer.
const DefaultTransition = models.DefaultTransition

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so paths match the definition documents.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks def and returns every problem found. It never panics on malformed input.
func Validate(def *models.WorkflowDefinition) Result {
	var r Result
	if def == nil {
		r.add("", "definition is nil")
		return r
	}

	checkRequiredFields(def, &r)

	_, entryOK := def.Step(def.EntryPoint)
	if def.EntryPoint != "" && !entryOK {
		r.add("entryPoint", "entry point %q does not exist in steps", def.EntryPoint)
	}

	ids := def.StepIDs()
	for _, id := range ids {
		if def.Steps[id] == nil {
			r.add(stepPath(id), "step definition is null")
		}
	}

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		if !models.IsValidPrimitiveKind(s.Type) {
			r.add(stepPath(id, "type"), "unknown step type %q", s.Type)
		}
	})

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		switch n := s.ExitCount(); {
		case n == 0:
			r.add(stepPath(id), "step must declare exactly one of transitions, next or terminal; found none")
		case n > 1:
			r.add(stepPath(id), "step must declare exactly one of transitions, next or terminal; found %d", n)
		}
		if s.Transitions != nil && len(s.Transitions) == 0 {
			r.add(stepPath(id, "transitions"), "transitions must not be empty")
		}
	})

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		for _, key := range sortedKeys(s.Transitions) {
			target := s.Transitions[key]
			if _, ok := def.Step(target); !ok {
				r.add(stepPath(id, "transitions", key), "target step %q does not exist", target)
			}
		}
		if s.Next != "" {
			if _, ok := def.Step(s.Next); !ok {
				r.add(stepPath(id, "next"), "target step %q does not exist", s.Next)
			}
		}
		if s.ToolCall != nil && s.ToolCall.OnError != "" {
			if _, ok := def.Step(s.ToolCall.OnError); !ok {
				r.add(stepPath(id, "toolCall", "onError"), "target step %q does not exist", s.ToolCall.OnError)
			}
		}
	})

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		if !s.Type.HasOptions() {
			return
		}
		n := len(s.Options)
		if n < models.MinOptions || n > models.MaxOptions {
			r.add(stepPath(id, "options"), "%s step must have between %d and %d options; found %d",
				s.Type, models.MinOptions, models.MaxOptions, n)
		}
		seen := make(map[string]bool, n)
		for i, o := range s.Options {
			if o.ID == "" {
				r.add(stepPath(id, "options", fmt.Sprint(i), "id"), "option id is required")
			} else if seen[o.ID] {
				r.add(stepPath(id, "options", fmt.Sprint(i), "id"), "duplicate option id %q", o.ID)
			}
			seen[o.ID] = true
			if o.Label == "" {
				r.add(stepPath(id, "options", fmt.Sprint(i), "label"), "option label is required")
			}
		}
	})

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		if n := utf8.RuneCountInString(s.Content); n > models.MaxContentLength {
			r.add(stepPath(id, "content"), "content is %d characters; maximum is %d", n, models.MaxContentLength)
		}
	})

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		checkStepDetails(id, s, &r)
	})

	forEachStep(def, ids, func(id string, s *models.StepDefinition) {
		checkCallbacks(def.ID, id, s, &r)
	})

	hasTerminal := false
	forEachStep(def, ids, func(_ string, s *models.StepDefinition) {
		if s.Terminal {
			hasTerminal = true
		}
	})
	if len(def.Steps) > 0 && !hasTerminal {
		r.add("steps", "at least one step must be terminal")
	}

	if entryOK {
		reached := reachable(def)
		for _, id := range ids {
			if def.Steps[id] != nil && !reached[id] {
				r.add(stepPath(id), "step is unreachable from entry point %q", def.EntryPoint)
			}
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func checkRequiredFields(def *models.WorkflowDefinition, r *Result) {
	err := structValidator.Struct(def)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		r.add("", "definition could not be checked: %v", err)
		return
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			r.add(fe.Field(), "%s is required", fe.Field())
		case "min":
			r.add(fe.Field(), "%s must not be empty", fe.Field())
		default:
			r.add(fe.Field(), "failed %q check", fe.Tag())
		}
	}
}

// checkStepDetails covers per-type requirements that are not part of the graph structure.
func checkStepDetails(id string, s *models.StepDefinition, r *Result) {
	if s.ToolCall != nil && strings.TrimSpace(s.ToolCall.Name) == "" {
		r.add(stepPath(id, "toolCall", "name"), "tool name is required")
	}
	if s.Validation != nil {
		if s.Type != models.KindTextInput {
			r.add(stepPath(id, "validation"), "validation is only allowed on text-input steps")
		}
		v := s.Validation
		if v.MinLength < 0 || v.MaxLength < 0 {
			r.add(stepPath(id, "validation"), "length limits must not be negative")
		}
		if v.MaxLength > 0 && v.MinLength > v.MaxLength {
			r.add(stepPath(id, "validation"), "minLength %d exceeds maxLength %d", v.MinLength, v.MaxLength)
		}
		if v.Pattern != "" {
			if _, err := regexp.Compile(v.Pattern); err != nil {
				r.add(stepPath(id, "validation", "pattern"), "invalid pattern: %v", err)
			}
		}
	}
	if s.Type == models.KindMedia && (s.Media == nil || s.Media.Ref == "") {
		r.add(stepPath(id, "media"), "media step requires a media reference")
	}
	if s.ToolCall != nil && s.Terminal {
		r.add(stepPath(id, "toolCall"), "tool calls are not allowed on terminal steps")
	}
	if s.Type == models.KindChoice && s.Transitions != nil {
		if _, ok := s.Transitions[DefaultTransition]; !ok {
			for _, o := range s.Options {
				if _, ok := s.Transitions[o.ID]; !ok && o.ID != "" {
					r.add(stepPath(id, "transitions"), "no transition for option %q and no %q transition", o.ID, DefaultTransition)
				}
			}
		}
	}
	if s.Type == models.KindMultiChoice && s.Transitions != nil {
		_, submit := s.Transitions[models.ActionIDSubmit]
		_, def := s.Transitions[DefaultTransition]
		if !submit && !def {
			r.add(stepPath(id, "transitions"), "multi-choice step needs a %q or %q transition", models.ActionIDSubmit, DefaultTransition)
		}
	}
	if s.Type == models.KindConfirm && s.Transitions != nil {
		for _, key := range []string{models.ActionIDYes, models.ActionIDNo} {
			if _, ok := s.Transitions[key]; !ok {
				r.add(stepPath(id, "transitions"), "confirm step is missing the %q transition", key)
			}
		}
	}
}

// buttonActions lists the action ids a step can put on inline buttons.
func buttonActions(s *models.StepDefinition) []string {
	if s.Terminal {
		return nil
	}
	var out []string
	switch s.Type {
	case models.KindChoice:
		for _, o := range s.Options {
			out = append(out, o.ID)
		}
	case models.KindMultiChoice:
		for _, o := range s.Options {
			out = append(out, models.TogglePrefix+o.ID)
		}
		out = append(out, models.ActionIDSubmit)
	case models.KindConfirm:
		out = append(out, models.ActionIDYes, models.ActionIDNo)
	case models.KindInfo, models.KindMedia:
		out = append(out, models.ActionIDContinue)
	}
	if s.BackAllowed() {
		out = append(out, models.ActionIDBack)
	}
	if s.CancelAllowed() {
		out = append(out, models.ActionIDCancel)
	}
	return out
}

// checkCallbacks reports button actions whose encoded callback data would not fit the
// platform limit and so could not be told apart once truncated.
func checkCallbacks(workflowID, id string, s *models.StepDefinition, r *Result) {
	if workflowID == "" {
		return
	}
	for _, action := range buttonActions(s) {
		if n := len(models.CallbackString(workflowID, id, action)); n > models.MaxCallbackBytes {
			r.add(stepPath(id), "callback data for action %q is %d bytes; maximum is %d, shorten the workflow, step or option id",
				action, n, models.MaxCallbackBytes)
		}
	}
}

// reachable walks the graph breadth-first from the entry point following transitions,
// next and toolCall.onError edges.
func reachable(def *models.WorkflowDefinition) map[string]bool {
	seen := map[string]bool{def.EntryPoint: true}
	queue := []string{def.EntryPoint}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		s, ok := def.Step(id)
		if !ok {
			continue
		}
		for _, next := range s.Edges() {
			if seen[next] {
				continue
			}
			if _, exists := def.Step(next); !exists {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return seen
}

func forEachStep(def *models.WorkflowDefinition, ids []string, fn func(id string, s *models.StepDefinition)) {
	for _, id := range ids {
		if s := def.Steps[id]; s != nil {
			fn(id, s)
		}
	}
}

func stepPath(id string, parts ...string) string {
	return strings.Join(append([]string{"steps", id}, parts...), ".")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
