package messaging

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
)

// FormatText renders a primitive as plain text for the negotiated strategy. Button
// strategies get only the content; degraded strategies also get the numbered option list
// and reply instructions. metaButtons is set by adapters that render back and cancel as
// buttons on every strategy, which suppresses their text hints.
func FormatText(p models.Primitive, rc RenderContext, metaButtons bool) string {
	base := p.Common()
	var b strings.Builder

	if rc.ValidationError != "" {
		b.WriteString("⚠️ ")
		b.WriteString(rc.ValidationError)
		b.WriteString("\n\n")
	}
	if base.Progress != nil && base.Progress.Total > 0 {
		fmt.Fprintf(&b, "(%d/%d) ", base.Progress.Current, base.Progress.Total)
	}
	b.WriteString(base.Content)

	s := rc.Strategy
	if s.Mode == negotiator.ModeNumberedList {
		mc, multi := p.(*models.MultiChoice)
		b.WriteString("\n")
		for i, o := range models.OptionsOf(p) {
			b.WriteString("\n")
			if multi {
				if slices.Contains(mc.Selected, o.ID) {
					b.WriteString("[x] ")
				} else {
					b.WriteString("[ ] ")
				}
			}
			fmt.Fprintf(&b, "%d. %s", i+1, o.Label)
			if o.Description != "" {
				fmt.Fprintf(&b, " (%s)", o.Description)
			}
		}
	}

	if m, ok := p.(*models.Media); ok && s.Mode != negotiator.ModeMedia && m.Ref != "" {
		b.WriteString("\n")
		b.WriteString(m.Ref)
	}

	var hints []string
	if s.Instructions != "" {
		hints = append(hints, s.Instructions)
	}
	if !metaButtons {
		hints = append(hints, negotiator.MetaInstructions(s, base)...)
	}
	if len(hints) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(hints, "\n"))
	}
	return b.String()
}
