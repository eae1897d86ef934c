package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestNewClientRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestOptions(t *testing.T) {
	var o Opts
	WithToken("abc")(&o)
	WithAPIEndpoint("http://localhost/bot%s/%s")(&o)
	WithDebug(true)(&o)
	if o.Token != "abc" || o.APIEndpoint != "http://localhost/bot%s/%s" || !o.Debug {
		t.Errorf("options not applied: %+v", o)
	}
}

func TestMockBotAssignsIncreasingIDs(t *testing.T) {
	m := NewMockBot()
	a, _ := m.Send(tgbotapi.NewMessage(1, "a"))
	b, _ := m.Send(tgbotapi.NewMessage(1, "b"))
	if b.MessageID != a.MessageID+1 {
		t.Errorf("expected sequential ids, got %d and %d", a.MessageID, b.MessageID)
	}
	if len(m.SentMessages()) != 2 {
		t.Errorf("expected 2 recorded messages, got %d", len(m.SentMessages()))
	}
}

func TestMockBotEditError(t *testing.T) {
	m := NewMockBot()
	m.EditErr = errors.New("boom")
	if _, err := m.Send(tgbotapi.NewEditMessageText(1, 5, "x")); err == nil {
		t.Error("expected edit error")
	}
	if _, err := m.Send(tgbotapi.NewMessage(1, "y")); err != nil {
		t.Errorf("plain send should not fail: %v", err)
	}
}
