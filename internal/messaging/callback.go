package messaging

import (
	"log/slog"
	"regexp"
	"unicode/utf8"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// MaxCallbackBytes is the Telegram limit for inline button callback data.
const MaxCallbackBytes = models.MaxCallbackBytes

var callbackPattern = regexp.MustCompile(`^wf:([^|]+)\|s:([^|]+)\|a:(.+)$`)

// CallbackData identifies the action behind an inline button.
type CallbackData struct {
	WorkflowID string
	StepID     string
	ActionID   string
}

// EncodeCallback renders cb as "wf:<workflow>|s:<step>|a:<action>", truncated to
// MaxCallbackBytes without splitting a UTF-8 sequence. Registered definitions never need
// truncation; the validator rejects ids that would.
func EncodeCallback(cb CallbackData) string {
	s := models.CallbackString(cb.WorkflowID, cb.StepID, cb.ActionID)
	if len(s) > MaxCallbackBytes {
		slog.Warn("Callback data truncated", "workflow_id", cb.WorkflowID, "step_id", cb.StepID, "action", cb.ActionID, "bytes", len(s))
	}
	return truncateBytes(s, MaxCallbackBytes)
}

// DecodeCallback parses data produced by EncodeCallback. ok is false on any mismatch.
func DecodeCallback(data string) (cb CallbackData, ok bool) {
	m := callbackPattern.FindStringSubmatch(data)
	if m == nil {
		return CallbackData{}, false
	}
	return CallbackData{WorkflowID: m[1], StepID: m[2], ActionID: m[3]}, true
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
