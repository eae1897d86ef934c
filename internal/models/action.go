package models

import "strings"

// ActionKind classifies a parsed user action.
type ActionKind string

const (
	ActionSelection ActionKind = "selection"
	ActionText      ActionKind = "text"
	ActionCancel    ActionKind = "cancel"
	ActionBack      ActionKind = "back"
)

// MaxCallbackBytes is the Telegram limit for inline button callback data.
const MaxCallbackBytes = 64

// CallbackString renders a button callback as "wf:<workflow>|s:<step>|a:<action>".
func CallbackString(workflowID, stepID, actionID string) string {
	return "wf:" + workflowID + "|s:" + stepID + "|a:" + actionID
}

// SurfaceTarget addresses one user on one surface.
type SurfaceTarget struct {
	SurfaceID     string `json:"surface_id"`
	SurfaceUserID string `json:"surface_user_id"`
	ChannelID     string `json:"channel_id,omitempty"`
}

// UserKey returns the surface-scoped user id used as the state store key.
func (t SurfaceTarget) UserKey() string {
	return t.SurfaceID + ":" + t.SurfaceUserID
}

// ParsedUserAction is a raw platform event translated into an abstract user action.
type ParsedUserAction struct {
	Kind ActionKind `json:"kind"`
	// Value is the action id for selections (option id, "yes", "toggle:<id>", "submit").
	Value string `json:"value,omitempty"`
	// Text is the free-text reply for text actions.
	Text string `json:"text,omitempty"`
	// WorkflowID and StepID identify the message the action came from. Both are empty when
	// the action is not bound to a rendered message, e.g. a plain text reply.
	WorkflowID string        `json:"workflow_id,omitempty"`
	StepID     string        `json:"step_id,omitempty"`
	Surface    SurfaceTarget `json:"surface"`
	// Raw is the originating platform event, handed back to the adapter for acknowledgement.
	Raw any `json:"-"`
}

// UserID returns the state store key of the acting user.
func (a ParsedUserAction) UserID() string {
	return a.Surface.UserKey()
}

// Input returns the user-supplied value: the text for text actions, the value otherwise.
func (a ParsedUserAction) Input() string {
	if a.Kind == ActionText {
		return a.Text
	}
	return a.Value
}

// MetaActionForText maps the free-text replies "cancel", "/cancel", "back" and "/back"
// (case-insensitive) to their action kinds.
func MetaActionForText(text string) (ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "cancel", "/cancel":
		return ActionCancel, true
	case "back", "/back":
		return ActionBack, true
	default:
		return "", false
	}
}
