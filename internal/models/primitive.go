// Package models defines the core data structures shared across the workflow orchestrator.
//
// It includes the interaction primitives rendered by surface adapters, the declarative
// workflow definition graph, per-user instance state and the parsed user actions that
// adapters hand back to the engine.
package models

// PrimitiveKind identifies one renderable interaction primitive.
type PrimitiveKind string

const (
	// KindChoice asks the user to pick exactly one option.
	KindChoice PrimitiveKind = "choice"
	// KindMultiChoice lets the user toggle several options and submit.
	KindMultiChoice PrimitiveKind = "multi-choice"
	// KindConfirm is a yes/no question.
	KindConfirm PrimitiveKind = "confirm"
	// KindTextInput asks for free text, optionally validated.
	KindTextInput PrimitiveKind = "text-input"
	// KindInfo displays a message with no input beyond an optional continue action.
	KindInfo PrimitiveKind = "info"
	// KindMedia sends an image, file or voice note.
	KindMedia PrimitiveKind = "media"
)

// IsValidPrimitiveKind reports whether k is one of the supported primitive kinds.
func IsValidPrimitiveKind(k PrimitiveKind) bool {
	switch k {
	case KindChoice, KindMultiChoice, KindConfirm, KindTextInput, KindInfo, KindMedia:
		return true
	default:
		return false
	}
}

// HasOptions reports whether steps of this kind carry a declared option list.
func (k PrimitiveKind) HasOptions() bool {
	return k == KindChoice || k == KindMultiChoice
}

// Limits shared by the validator and the adapters.
const (
	// MaxOptions is the maximum number of options a choice step may declare.
	MaxOptions = 7
	// MinOptions is the minimum number of options a choice step must declare.
	MinOptions = 1
	// MaxContentLength is the maximum prompt length of a step, in characters.
	MaxContentLength = 2000
)

// Reserved action identifiers understood by every adapter and the engine.
const (
	ActionIDCancel   = "__cancel__"
	ActionIDBack     = "__back__"
	ActionIDContinue = "continue"
	ActionIDSubmit   = "submit"
	ActionIDYes      = "yes"
	ActionIDNo       = "no"
	// TogglePrefix prefixes multi-choice option ids that flip a selection without transitioning.
	TogglePrefix = "toggle:"
)

// OptionStyle is a rendering hint for an option button.
type OptionStyle string

const (
	OptionStyleDefault OptionStyle = ""
	OptionStylePrimary OptionStyle = "primary"
	OptionStyleDanger  OptionStyle = "danger"
)

// Option is one selectable entry of a choice or multi-choice primitive.
type Option struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	Style       OptionStyle `json:"style,omitempty"`
}

// Progress shows how far through a workflow the user is.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ValidationRule constrains a text-input answer. Zero values mean "no constraint".
type ValidationRule struct {
	MinLength    int    `json:"minLength,omitempty"`
	MaxLength    int    `json:"maxLength,omitempty"`
	Pattern      string `json:"pattern,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// MediaKind is the type of a media primitive.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaFile  MediaKind = "file"
	MediaVoice MediaKind = "voice"
)

// PrimitiveBase holds the fields every primitive shares.
type PrimitiveBase struct {
	Content       string
	IncludeBack   bool
	IncludeCancel bool
	Progress      *Progress
}

// Primitive is one renderable step. Adapters dispatch on the concrete type with a type switch.
type Primitive interface {
	Kind() PrimitiveKind
	Common() PrimitiveBase
}

// Choice asks for exactly one option.
type Choice struct {
	PrimitiveBase
	Options []Option
}

// MultiChoice lets the user toggle options; Selected holds the ids toggled on so far.
type MultiChoice struct {
	PrimitiveBase
	Options  []Option
	Selected []string
}

// Confirm is a yes/no question.
type Confirm struct {
	PrimitiveBase
	YesLabel string
	NoLabel  string
}

// TextInput asks for free text.
type TextInput struct {
	PrimitiveBase
	Validation *ValidationRule
	// Modal asks the surface for a form dialog instead of an inline prompt.
	Modal bool
}

// Info displays content. Continue is set when the user must acknowledge it to move on.
type Info struct {
	PrimitiveBase
	Continue bool
}

// Media sends an image, a file or a voice note with Content as caption.
type Media struct {
	PrimitiveBase
	Ref       string
	MediaKind MediaKind
	// Continue offers a continue action, like Info.
	Continue bool
}

func (p *Choice) Kind() PrimitiveKind      { return KindChoice }
func (p *MultiChoice) Kind() PrimitiveKind { return KindMultiChoice }
func (p *Confirm) Kind() PrimitiveKind     { return KindConfirm }
func (p *TextInput) Kind() PrimitiveKind   { return KindTextInput }
func (p *Info) Kind() PrimitiveKind        { return KindInfo }
func (p *Media) Kind() PrimitiveKind       { return KindMedia }

func (p *Choice) Common() PrimitiveBase      { return p.PrimitiveBase }
func (p *MultiChoice) Common() PrimitiveBase { return p.PrimitiveBase }
func (p *Confirm) Common() PrimitiveBase     { return p.PrimitiveBase }
func (p *TextInput) Common() PrimitiveBase   { return p.PrimitiveBase }
func (p *Info) Common() PrimitiveBase        { return p.PrimitiveBase }
func (p *Media) Common() PrimitiveBase       { return p.PrimitiveBase }

// ConfirmOptions returns the two synthesized options of a confirm primitive.
func ConfirmOptions(c *Confirm) []Option {
	yes, no := c.YesLabel, c.NoLabel
	if yes == "" {
		yes = "Yes"
	}
	if no == "" {
		no = "No"
	}
	return []Option{
		{ID: ActionIDYes, Label: yes, Style: OptionStylePrimary},
		{ID: ActionIDNo, Label: no},
	}
}

// OptionsOf returns the selectable options of p, or nil for primitives without options.
func OptionsOf(p Primitive) []Option {
	switch v := p.(type) {
	case *Choice:
		return v.Options
	case *MultiChoice:
		return v.Options
	case *Confirm:
		return ConfirmOptions(v)
	default:
		return nil
	}
}
