package messaging

import "github.com/Quackstro/opencore-sub001/internal/models"

// Keyboard limits enforced by LayoutKeyboard.
const (
	MaxButtonsPerRow = 8
	MaxOptionRows    = 9
)

// Button is one inline button before platform encoding.
type Button struct {
	Text   string
	Action string // action id, encoded into callback data by the adapter
}

// LayoutKeyboard chunks option buttons into rows of at most perRow buttons (clamped to
// 1..MaxButtonsPerRow) and at most MaxOptionRows rows, then appends meta as a final row.
// Options that do not fit are dropped.
func LayoutKeyboard(options []Button, meta []Button, perRow int) [][]Button {
	if perRow <= 0 || perRow > MaxButtonsPerRow {
		perRow = MaxButtonsPerRow
	}
	var rows [][]Button
	for i := 0; i < len(options) && len(rows) < MaxOptionRows; i += perRow {
		end := i + perRow
		if end > len(options) {
			end = len(options)
		}
		rows = append(rows, options[i:end])
	}
	if len(meta) > 0 {
		if len(meta) > perRow {
			meta = meta[:perRow]
		}
		rows = append(rows, meta)
	}
	return rows
}

// MetaButtons returns the requested back and cancel buttons.
func MetaButtons(backLabel, cancelLabel string, includeBack, includeCancel bool) []Button {
	var out []Button
	if includeBack {
		out = append(out, Button{Text: backLabel, Action: models.ActionIDBack})
	}
	if includeCancel {
		out = append(out, Button{Text: cancelLabel, Action: models.ActionIDCancel})
	}
	return out
}
