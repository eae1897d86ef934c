package models

// SurfaceCapabilities declares what a messaging surface can render.
type SurfaceCapabilities struct {
	InlineButtons      bool `json:"inline_buttons"`
	MultiSelectButtons bool `json:"multi_select_buttons"`
	Reactions          bool `json:"reactions"`
	RichMessageEffects bool `json:"rich_message_effects"`
	FileUpload         bool `json:"file_upload"`
	VoiceMessages      bool `json:"voice_messages"`
	Threading          bool `json:"threading"`
	RichText           bool `json:"rich_text"`
	Modals             bool `json:"modals"`

	MaxButtonsPerRow int `json:"max_buttons_per_row"`
	MaxButtonRows    int `json:"max_button_rows"`
	MaxMessageLength int `json:"max_message_length"`
}

// ButtonBudget returns how many option buttons fit when one row is reserved for
// back/cancel meta buttons.
func (c SurfaceCapabilities) ButtonBudget() int {
	if !c.InlineButtons || c.MaxButtonsPerRow <= 0 || c.MaxButtonRows <= 1 {
		return 0
	}
	return c.MaxButtonsPerRow * (c.MaxButtonRows - 1)
}

// TextOnlyCapabilities is the baseline for surfaces that can only exchange plain text.
func TextOnlyCapabilities(maxMessageLength int) SurfaceCapabilities {
	return SurfaceCapabilities{MaxMessageLength: maxMessageLength}
}
