package messaging

import (
	"context"
	"strings"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// sendChunks sends text split to limit through send and returns the last message id.
func sendChunks(text string, limit int, send func(chunk string) (string, error)) (string, error) {
	var lastID string
	for _, chunk := range SplitMessage(text, limit) {
		id, err := send(chunk)
		if err != nil {
			return "", err
		}
		lastID = id
	}
	return lastID, nil
}

// renderPlain renders a primitive on a surface without interactive controls.
func renderPlain(p models.Primitive, rc RenderContext, limit int, send func(chunk string) (string, error)) (RenderedMessage, error) {
	id, err := sendChunks(FormatText(p, rc, false), limit, send)
	if err != nil {
		return RenderedMessage{}, err
	}
	return RenderedMessage{MessageID: id, UsedFallback: rc.Strategy.Fallback}, nil
}

// textAction builds the action for a free-text reply on a text-only surface.
func textAction(target models.SurfaceTarget, text string, raw any) *models.ParsedUserAction {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if kind, ok := models.MetaActionForText(text); ok {
		return &models.ParsedUserAction{Kind: kind, Surface: target, Raw: raw}
	}
	return &models.ParsedUserAction{Kind: models.ActionText, Text: text, Surface: target, Raw: raw}
}

// noAck is embedded by surfaces that have no interactive events to acknowledge.
type noAck struct{}

func (noAck) AcknowledgeAction(ctx context.Context, raw any, text string) error { return nil }
