package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Placeholders understood in ToolCall.ParamMap values.
const (
	// InputRef resolves to the input the user just submitted.
	InputRef = "{{input}}"
	// VarRefPrefix starts a reference into the instance variable bag, e.g. "{{vars.set-passphrase}}".
	VarRefPrefix = "{{vars."
)

// DefaultTransition is the transitions key followed when no other key matches the answer.
const DefaultTransition = "default"

// Duration is a time.Duration that decodes from either a Go duration string ("30m")
// or a number of seconds.
type Duration time.Duration

// MarshalJSON encodes the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "15m", "1h30m" or a plain number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ToolCall binds a step to an external tool invocation.
type ToolCall struct {
	Name string `json:"name"`
	// ParamMap maps tool parameter names to literals or placeholders (InputRef, VarRefPrefix).
	ParamMap map[string]string `json:"paramMap,omitempty"`
	// OnError is the step to move to when the tool fails.
	OnError string `json:"onError,omitempty"`
}

// MediaSpec references the payload of a media step.
type MediaSpec struct {
	Ref  string    `json:"ref"`
	Kind MediaKind `json:"kind"`
}

// StepDefinition is one node of a workflow graph. Exactly one of Transitions, Next and
// Terminal must be set.
type StepDefinition struct {
	Type        PrimitiveKind     `json:"type"`
	Content     string            `json:"content"`
	Options     []Option          `json:"options,omitempty"`
	Transitions map[string]string `json:"transitions,omitempty"`
	Next        string            `json:"next,omitempty"`
	Terminal    bool              `json:"terminal,omitempty"`
	ToolCall    *ToolCall         `json:"toolCall,omitempty"`
	Validation  *ValidationRule   `json:"validation,omitempty"`
	Media       *MediaSpec        `json:"media,omitempty"`
	Modal       bool              `json:"modal,omitempty"`
	// AllowBack and AllowCancel default to true when unset.
	AllowBack   *bool `json:"allowBack,omitempty"`
	AllowCancel *bool `json:"allowCancel,omitempty"`
}

// ExitCount returns how many exit mechanisms the step declares.
func (s *StepDefinition) ExitCount() int {
	n := 0
	if s.Transitions != nil {
		n++
	}
	if s.Next != "" {
		n++
	}
	if s.Terminal {
		n++
	}
	return n
}

// CancelAllowed reports whether a cancel action is accepted on this step.
func (s *StepDefinition) CancelAllowed() bool {
	return s.AllowCancel == nil || *s.AllowCancel
}

// BackAllowed reports whether a back action is accepted on this step.
func (s *StepDefinition) BackAllowed() bool {
	return s.AllowBack == nil || *s.AllowBack
}

// Edges returns every step id this step can lead to, in a stable order.
func (s *StepDefinition) Edges() []string {
	var out []string
	keys := make([]string, 0, len(s.Transitions))
	for k := range s.Transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, s.Transitions[k])
	}
	if s.Next != "" {
		out = append(out, s.Next)
	}
	if s.ToolCall != nil && s.ToolCall.OnError != "" {
		out = append(out, s.ToolCall.OnError)
	}
	return out
}

// FindOption returns the declared option with the given id.
func (s *StepDefinition) FindOption(id string) (Option, bool) {
	for _, o := range s.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// WorkflowDefinition is a declarative step graph owned by a plugin. It is immutable once
// validated and registered.
type WorkflowDefinition struct {
	ID          string                     `json:"id" validate:"required"`
	Plugin      string                     `json:"plugin" validate:"required"`
	Version     string                     `json:"version" validate:"required"`
	Description string                     `json:"description,omitempty"`
	TTL         Duration                   `json:"ttl,omitempty"`
	EntryPoint  string                     `json:"entryPoint" validate:"required"`
	Steps       map[string]*StepDefinition `json:"steps" validate:"required,min=1"`
}

// Step returns the step with the given id.
func (d *WorkflowDefinition) Step(id string) (*StepDefinition, bool) {
	s, ok := d.Steps[id]
	return s, ok && s != nil
}

// StepIDs returns the step ids in sorted order.
func (d *WorkflowDefinition) StepIDs() []string {
	ids := make([]string, 0, len(d.Steps))
	for id := range d.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsVarRef reports whether ref is a reference into the variable bag and returns its key.
func IsVarRef(ref string) (string, bool) {
	if strings.HasPrefix(ref, VarRefPrefix) && strings.HasSuffix(ref, "}}") {
		return strings.TrimSuffix(strings.TrimPrefix(ref, VarRefPrefix), "}}"), true
	}
	return "", false
}
