package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
	"github.com/Quackstro/opencore-sub001/internal/telegram"
)

var tgTarget = models.SurfaceTarget{SurfaceID: TelegramSurfaceID, SurfaceUserID: "42", ChannelID: "42"}

func newTelegramFixture(t *testing.T) (*TelegramAdapter, *telegram.MockBot, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	bot := telegram.NewMockBot()
	a := NewTelegramAdapter(bot, WithTelegramClock(func() time.Time { return now }))
	return a, bot, &now
}

func confirmStep() (models.Primitive, RenderContext) {
	p := &models.Confirm{PrimitiveBase: models.PrimitiveBase{Content: "Create a wallet?", IncludeCancel: true}}
	rc := RenderContext{WorkflowID: "wallet-onboard", StepID: "confirm-create", Strategy: negotiator.Strategy{Mode: negotiator.ModeButtons}}
	return p, rc
}

func TestTelegramRenderKeyboard(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	p, rc := confirmStep()

	out, err := a.Render(context.Background(), tgTarget, p, rc)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out.MessageID != "101" {
		t.Errorf("expected message id 101, got %s", out.MessageID)
	}

	sent := bot.SentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	kb, ok := sent[0].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", sent[0].ReplyMarkup)
	}
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected option row and meta row, got %d rows", len(kb.InlineKeyboard))
	}
	yes := kb.InlineKeyboard[0][0]
	if yes.CallbackData == nil || *yes.CallbackData != "wf:wallet-onboard|s:confirm-create|a:yes" {
		t.Errorf("unexpected callback data: %v", yes.CallbackData)
	}
	cancel := kb.InlineKeyboard[1][0]
	if cancel.CallbackData == nil || !strings.HasSuffix(*cancel.CallbackData, "a:__cancel__") {
		t.Errorf("unexpected cancel callback: %v", cancel.CallbackData)
	}
}

func TestTelegramRenderSplitsLongText(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	p := &models.Info{PrimitiveBase: models.PrimitiveBase{Content: strings.Repeat("z", 5000)}, Continue: true}
	rc := RenderContext{WorkflowID: "w", StepID: "s", Strategy: negotiator.Strategy{Mode: negotiator.ModeButtons}}

	if _, err := a.Render(context.Background(), tgTarget, p, rc); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	sent := bot.SentMessages()
	if len(sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(sent))
	}
	if sent[0].ReplyMarkup != nil {
		t.Error("only the last chunk should carry the keyboard")
	}
	if sent[1].ReplyMarkup == nil {
		t.Error("last chunk should carry the keyboard")
	}
}

func TestTelegramRenderEditsInPlace(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	p, rc := confirmStep()
	first, _ := a.Render(context.Background(), tgTarget, p, rc)

	rc.ReplaceMessageID = first.MessageID
	out, err := a.Render(context.Background(), tgTarget, p, rc)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out.MessageID != first.MessageID {
		t.Errorf("expected edit of %s, got %s", first.MessageID, out.MessageID)
	}
	if len(bot.Edits()) != 1 || len(bot.SentMessages()) != 1 {
		t.Errorf("expected 1 edit and 1 send, got %d and %d", len(bot.Edits()), len(bot.SentMessages()))
	}
}

func TestTelegramEditPastWindowSendsNew(t *testing.T) {
	a, bot, now := newTelegramFixture(t)
	p, rc := confirmStep()
	first, _ := a.Render(context.Background(), tgTarget, p, rc)

	*now = now.Add(TelegramEditWindow + time.Minute)
	rc.ReplaceMessageID = first.MessageID
	out, err := a.Render(context.Background(), tgTarget, p, rc)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out.MessageID == first.MessageID {
		t.Error("expected a new message past the edit window")
	}
	if len(bot.Edits()) != 0 {
		t.Errorf("expected no edit attempt, got %d", len(bot.Edits()))
	}
}

func TestTelegramEditRejectedFallsBack(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	bot.EditErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message can't be edited"}

	id, err := a.UpdateMessage(context.Background(), tgTarget, "55", "Workflow cancelled.")
	if err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}
	if id == "55" {
		t.Error("expected a fresh message after the platform refused the edit")
	}
	if len(bot.SentMessages()) != 1 {
		t.Errorf("expected fallback send, got %d", len(bot.SentMessages()))
	}
}

func TestTelegramEditNotModifiedIsSuccess(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	bot.EditErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}

	id, err := a.UpdateMessage(context.Background(), tgTarget, "55", "same")
	if err != nil || id != "55" {
		t.Errorf("expected unchanged message 55, got %q, %v", id, err)
	}
	if len(bot.SentMessages()) != 0 {
		t.Error("no new message expected")
	}
}

func TestTelegramNetworkErrorPropagates(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	bot.EditErr = errors.New("connection reset")
	if _, err := a.UpdateMessage(context.Background(), tgTarget, "55", "x"); err == nil {
		t.Error("expected transport error to propagate")
	}
	bot.SendErr = errors.New("connection reset")
	if _, err := a.SendMessage(context.Background(), tgTarget, "x"); err == nil {
		t.Error("expected send error to propagate")
	}
}

func TestTelegramMediaCaptionOverflow(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	p := &models.Media{
		PrimitiveBase: models.PrimitiveBase{Content: strings.Repeat("c", TelegramMaxCaptionLength+1), IncludeCancel: true},
		Ref:           "https://example.com/qr.png",
		MediaKind:     models.MediaImage,
	}
	rc := RenderContext{WorkflowID: "w", StepID: "qr", Strategy: negotiator.Strategy{Mode: negotiator.ModeMedia}}
	if _, err := a.Render(context.Background(), tgTarget, p, rc); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(bot.Sent) != 2 {
		t.Fatalf("expected photo plus caption message, got %d sends", len(bot.Sent))
	}
	photo, ok := bot.Sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("expected photo first, got %T", bot.Sent[0])
	}
	if photo.Caption != "" || photo.ReplyMarkup != nil {
		t.Error("oversized caption should move to the text message with the keyboard")
	}
	if msgs := bot.SentMessages(); len(msgs) != 1 || msgs[0].ReplyMarkup == nil {
		t.Error("caption message should carry the keyboard")
	}
}

func TestTelegramLimitsCountUTF16(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	// 600 emoji fit the caption limit in runes but not in UTF-16 code units.
	p := &models.Media{
		PrimitiveBase: models.PrimitiveBase{Content: strings.Repeat("🎉", 600)},
		Ref:           "https://example.com/qr.png",
		MediaKind:     models.MediaImage,
	}
	rc := RenderContext{WorkflowID: "w", StepID: "qr", Strategy: negotiator.Strategy{Mode: negotiator.ModeMedia}}
	if _, err := a.Render(context.Background(), tgTarget, p, rc); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if photo := bot.Sent[0].(tgbotapi.PhotoConfig); photo.Caption != "" {
		t.Error("caption over the UTF-16 limit should move to a text message")
	}

	bot.Reset()
	if _, err := a.SendMessage(context.Background(), tgTarget, strings.Repeat("🎉", 3000)); err != nil {
		t.Fatal(err)
	}
	msgs := bot.SentMessages()
	if len(msgs) != 2 {
		t.Fatalf("expected the text split in two, got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if n := UTF16Length(m.Text); n > TelegramMaxMessageLength {
			t.Errorf("message of %d code units exceeds the limit", n)
		}
	}
}

func TestTelegramMediaOffersContinue(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	p := &models.Media{
		PrimitiveBase: models.PrimitiveBase{Content: "Scan this code", IncludeCancel: true},
		Ref:           "https://example.com/qr.png",
		MediaKind:     models.MediaImage,
		Continue:      true,
	}
	rc := RenderContext{WorkflowID: "w", StepID: "qr", Strategy: negotiator.Strategy{Mode: negotiator.ModeMedia}}
	if _, err := a.Render(context.Background(), tgTarget, p, rc); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	photo, ok := bot.Sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("expected photo, got %T", bot.Sent[0])
	}
	kb, ok := photo.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", photo.ReplyMarkup)
	}
	first := kb.InlineKeyboard[0][0]
	if first.Text != labelContinue || first.CallbackData == nil || *first.CallbackData != "wf:w|s:qr|a:continue" {
		t.Errorf("expected continue button first, got %q %v", first.Text, first.CallbackData)
	}

	bot.Reset()
	p.Continue = false
	if _, err := a.Render(context.Background(), tgTarget, p, rc); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	photo = bot.Sent[0].(tgbotapi.PhotoConfig)
	kb = photo.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.Text == labelContinue {
				t.Error("media without a next step should not offer continue")
			}
		}
	}
}

func TestTelegramParseAction(t *testing.T) {
	a, _, _ := newTelegramFixture(t)
	from := &tgbotapi.User{ID: 42}
	chat := &tgbotapi.Chat{ID: 42}
	callback := func(data string) tgbotapi.Update {
		return tgbotapi.Update{UpdateID: 1, CallbackQuery: &tgbotapi.CallbackQuery{
			ID: "cb1", From: from, Data: data, Message: &tgbotapi.Message{MessageID: 7, Chat: chat},
		}}
	}
	message := func(text string) tgbotapi.Update {
		return tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{MessageID: 8, From: from, Chat: chat, Text: text}}
	}

	tests := []struct {
		name     string
		raw      any
		wantKind models.ActionKind
		wantStep string
		wantNil  bool
	}{
		{"selection", callback("wf:w|s:confirm|a:yes"), models.ActionSelection, "confirm", false},
		{"cancel button", callback("wf:w|s:confirm|a:__cancel__"), models.ActionCancel, "confirm", false},
		{"back button", callback("wf:w|s:confirm|a:__back__"), models.ActionBack, "confirm", false},
		{"foreign callback", callback("like:123"), "", "", true},
		{"text", message("mysecurepass123"), models.ActionText, "", false},
		{"cancel text", message("/CANCEL"), models.ActionCancel, "", false},
		{"back text", message("Back"), models.ActionBack, "", false},
		{"empty update", tgbotapi.Update{UpdateID: 3}, "", "", true},
		{"foreign type", "hello", "", "", true},
		{"nil pointer", (*tgbotapi.Update)(nil), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.ParseAction(tt.raw)
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected an action")
			}
			if got.Kind != tt.wantKind || got.StepID != tt.wantStep {
				t.Errorf("expected %s on %q, got %s on %q", tt.wantKind, tt.wantStep, got.Kind, got.StepID)
			}
			if got.UserID() != "telegram:42" {
				t.Errorf("unexpected user key %s", got.UserID())
			}
		})
	}
}

func TestTelegramAcknowledgeAction(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	upd := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb9", From: &tgbotapi.User{ID: 1}}}
	if err := a.AcknowledgeAction(context.Background(), upd, "This step has expired."); err != nil {
		t.Fatalf("AcknowledgeAction failed: %v", err)
	}
	if len(bot.Requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(bot.Requests))
	}
	cfg, ok := bot.Requests[0].(tgbotapi.CallbackConfig)
	if !ok || cfg.CallbackQueryID != "cb9" || cfg.Text != "This step has expired." {
		t.Errorf("unexpected callback answer: %+v", bot.Requests[0])
	}

	if err := a.AcknowledgeAction(context.Background(), tgbotapi.Update{}, ""); err != nil {
		t.Errorf("plain updates need no acknowledgement: %v", err)
	}
}

func TestTelegramEventSource(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	got := make(chan string, 1)
	err := a.Start(context.Background(), func(ctx context.Context, raw any) {
		id, _ := a.EventID(raw)
		got <- id
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	bot.Push(tgbotapi.Update{UpdateID: 77})

	select {
	case id := <-got:
		if id != "telegram:update:77" {
			t.Errorf("unexpected event id %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update was not delivered")
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestTelegramClearActions(t *testing.T) {
	a, bot, _ := newTelegramFixture(t)
	if err := a.ClearActions(context.Background(), tgTarget, "12"); err != nil {
		t.Fatalf("ClearActions failed: %v", err)
	}
	if len(bot.Requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(bot.Requests))
	}
	if _, ok := bot.Requests[0].(tgbotapi.EditMessageReplyMarkupConfig); !ok {
		t.Errorf("expected reply markup edit, got %T", bot.Requests[0])
	}
}
