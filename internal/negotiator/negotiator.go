// Package negotiator picks a concrete rendering strategy for a primitive on a surface,
// degrading to simpler forms when the surface lacks a capability.
package negotiator

import (
	"github.com/Quackstro/opencore-sub001/internal/models"
)

// Mode is a concrete way of rendering a primitive.
type Mode string

const (
	// ModeButtons renders options as inline buttons.
	ModeButtons Mode = "buttons"
	// ModeMultiSelectButtons uses the surface's native multi-select widget.
	ModeMultiSelectButtons Mode = "multi-select-buttons"
	// ModeToggleButtons renders one toggle button per option plus a submit button.
	ModeToggleButtons Mode = "toggle-buttons"
	// ModeNumberedList renders options as a numbered text list answered by text reply.
	ModeNumberedList Mode = "numbered-list"
	// ModeTextPrompt asks for a free-text reply.
	ModeTextPrompt Mode = "text-prompt"
	// ModeModal opens a form dialog.
	ModeModal Mode = "modal"
	// ModeMedia sends the media payload natively.
	ModeMedia Mode = "media"
	// ModePlainMessage sends the content as ordinary text.
	ModePlainMessage Mode = "plain-message"
)

// Strategy is the outcome of negotiation.
type Strategy struct {
	Mode Mode
	// Fallback is set when the preferred rendering was not available.
	Fallback bool
	// Instructions tells the user how to answer by text, when the mode needs it.
	Instructions string
}

// UsesButtons reports whether the strategy renders an inline keyboard.
func (s Strategy) UsesButtons() bool {
	return s.Mode == ModeButtons || s.Mode == ModeToggleButtons || s.Mode == ModeMultiSelectButtons
}

// Negotiator maps a primitive and a surface's capabilities to a strategy. Adapters
// that implement it override the default for their surface.
type Negotiator interface {
	Negotiate(p models.Primitive, caps models.SurfaceCapabilities) Strategy
}

// Instruction texts appended to degraded renderings.
const (
	InstructionChoice   = "Reply with the number of your choice."
	InstructionMulti    = "Reply with the numbers of your choices, separated by commas."
	InstructionConfirm  = "Reply yes or no."
	InstructionContinue = "Reply with any message to continue."
	InstructionBack     = "Reply \"back\" to go back."
	InstructionCancel   = "Reply \"cancel\" to stop."
)

// Default is the conservative baseline every adapter can reuse unmodified.
type Default struct{}

// Negotiate implements Negotiator.
func (Default) Negotiate(p models.Primitive, caps models.SurfaceCapabilities) Strategy {
	budget := caps.ButtonBudget()

	switch v := p.(type) {
	case *models.Choice:
		return optionStrategy(len(v.Options), budget, InstructionChoice)

	case *models.Confirm:
		return optionStrategy(2, budget, InstructionConfirm)

	case *models.MultiChoice:
		// One extra button for submit.
		needed := len(v.Options) + 1
		switch {
		case needed > budget:
			return Strategy{Mode: ModeNumberedList, Fallback: true, Instructions: InstructionMulti}
		case caps.MultiSelectButtons:
			return Strategy{Mode: ModeMultiSelectButtons}
		default:
			return Strategy{Mode: ModeToggleButtons, Fallback: true}
		}

	case *models.TextInput:
		if v.Modal {
			if caps.Modals {
				return Strategy{Mode: ModeModal}
			}
			return Strategy{Mode: ModePlainMessage, Fallback: true}
		}
		return Strategy{Mode: ModeTextPrompt}

	case *models.Info:
		if !v.Continue {
			return Strategy{Mode: ModePlainMessage}
		}
		if budget >= 1 {
			return Strategy{Mode: ModeButtons}
		}
		return Strategy{Mode: ModePlainMessage, Fallback: true, Instructions: InstructionContinue}

	case *models.Media:
		if mediaSupported(v.MediaKind, caps) {
			if v.Continue && budget < 1 {
				return Strategy{Mode: ModeMedia, Instructions: InstructionContinue}
			}
			return Strategy{Mode: ModeMedia}
		}
		s := Strategy{Mode: ModePlainMessage, Fallback: true}
		if v.Continue {
			s.Instructions = InstructionContinue
		}
		return s

	default:
		return Strategy{Mode: ModePlainMessage, Fallback: true}
	}
}

// optionStrategy renders n options as buttons when they fit the surface's budget,
// otherwise as a numbered list.
func optionStrategy(n, budget int, instructions string) Strategy {
	if n > budget {
		return Strategy{Mode: ModeNumberedList, Fallback: true, Instructions: instructions}
	}
	return Strategy{Mode: ModeButtons}
}

func mediaSupported(kind models.MediaKind, caps models.SurfaceCapabilities) bool {
	switch kind {
	case models.MediaVoice:
		return caps.VoiceMessages
	case models.MediaImage, models.MediaFile:
		return caps.FileUpload
	default:
		return false
	}
}

// MetaInstructions returns the text-reply hints for back and cancel on surfaces where
// the strategy renders no buttons for them.
func MetaInstructions(s Strategy, base models.PrimitiveBase) []string {
	if s.UsesButtons() {
		return nil
	}
	var out []string
	if base.IncludeBack {
		out = append(out, InstructionBack)
	}
	if base.IncludeCancel {
		out = append(out, InstructionCancel)
	}
	return out
}
