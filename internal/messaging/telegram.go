package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/Quackstro/opencore-sub001/internal/negotiator"
	"github.com/Quackstro/opencore-sub001/internal/telegram"
)

// Telegram platform limits. Lengths are in UTF-16 code units.
const (
	TelegramSurfaceID        = "telegram"
	TelegramMaxMessageLength = 4096
	TelegramMaxCaptionLength = 1024
	TelegramMaxButtonRows    = 10
	// TelegramEditWindow is how long after sending a message Telegram accepts edits.
	TelegramEditWindow = 48 * time.Hour
)

// Button labels used by the Telegram adapter.
const (
	labelBack     = "⬅️ Back"
	labelCancel   = "✖️ Cancel"
	labelSubmit   = "Submit"
	labelContinue = "Continue"
	markOn        = "✅ "
	markOff       = "⬜ "
)

const errNotModified = "message is not modified"

// TelegramOpts holds configuration options for the Telegram adapter.
type TelegramOpts struct {
	ButtonsPerRow int
	Clock         func() time.Time
}

// TelegramOption defines a configuration option for the Telegram adapter.
type TelegramOption func(*TelegramOpts)

// WithButtonsPerRow sets how many option buttons share a keyboard row (1..8).
func WithButtonsPerRow(n int) TelegramOption {
	return func(o *TelegramOpts) { o.ButtonsPerRow = n }
}

// WithTelegramClock overrides the clock used for the edit window.
func WithTelegramClock(clock func() time.Time) TelegramOption {
	return func(o *TelegramOpts) { o.Clock = clock }
}

// TelegramAdapter renders primitives as Telegram messages with inline keyboards.
type TelegramAdapter struct {
	bot     telegram.Bot
	perRow  int
	now     func() time.Time
	mu      sync.Mutex
	sentAt  map[string]time.Time // "chat:message" -> send time
	records int
	wg      sync.WaitGroup
}

var (
	_ Adapter         = (*TelegramAdapter)(nil)
	_ EventSource     = (*TelegramAdapter)(nil)
	_ EventIdentifier = (*TelegramAdapter)(nil)
	_ ActionClearer   = (*TelegramAdapter)(nil)
)

// NewTelegramAdapter creates an adapter around a connected bot.
func NewTelegramAdapter(bot telegram.Bot, opts ...TelegramOption) *TelegramAdapter {
	cfg := TelegramOpts{ButtonsPerRow: MaxButtonsPerRow, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ButtonsPerRow <= 0 || cfg.ButtonsPerRow > MaxButtonsPerRow {
		cfg.ButtonsPerRow = MaxButtonsPerRow
	}
	return &TelegramAdapter{
		bot:    bot,
		perRow: cfg.ButtonsPerRow,
		now:    cfg.Clock,
		sentAt: make(map[string]time.Time),
	}
}

func (a *TelegramAdapter) SurfaceID() string { return TelegramSurfaceID }

func (a *TelegramAdapter) Capabilities() models.SurfaceCapabilities {
	return models.SurfaceCapabilities{
		InlineButtons:    true,
		FileUpload:       true,
		VoiceMessages:    true,
		RichText:         true,
		MaxButtonsPerRow: a.perRow,
		MaxButtonRows:    TelegramMaxButtonRows,
		MaxMessageLength: TelegramMaxMessageLength,
	}
}

// Render implements Adapter.
func (a *TelegramAdapter) Render(ctx context.Context, target models.SurfaceTarget, p models.Primitive, rc RenderContext) (RenderedMessage, error) {
	chatID, err := telegramChatID(target)
	if err != nil {
		return RenderedMessage{}, err
	}
	text := FormatText(p, rc, true)
	markup := a.keyboard(p, rc)
	out := RenderedMessage{UsedFallback: rc.Strategy.Fallback}

	if m, ok := p.(*models.Media); ok && rc.Strategy.Mode == negotiator.ModeMedia {
		out.MessageID, err = a.sendMedia(chatID, m, text, markup)
		return out, err
	}

	if rc.ReplaceMessageID != "" {
		id, edited, err := a.edit(chatID, rc.ReplaceMessageID, text, markup)
		if err != nil {
			return RenderedMessage{}, err
		}
		if edited {
			out.MessageID = id
			return out, nil
		}
	}

	out.MessageID, err = a.sendText(chatID, text, markup)
	return out, err
}

// keyboard builds the inline keyboard for the strategy, or nil when nothing is clickable.
func (a *TelegramAdapter) keyboard(p models.Primitive, rc RenderContext) *tgbotapi.InlineKeyboardMarkup {
	var options []Button
	switch rc.Strategy.Mode {
	case negotiator.ModeButtons, negotiator.ModeMedia:
		if cont, ok := continueOf(p); ok {
			if cont {
				options = append(options, Button{Text: labelContinue, Action: models.ActionIDContinue})
			}
			break
		}
		for _, o := range models.OptionsOf(p) {
			options = append(options, Button{Text: o.Label, Action: o.ID})
		}
	case negotiator.ModeToggleButtons, negotiator.ModeMultiSelectButtons:
		var selected []string
		if mc, ok := p.(*models.MultiChoice); ok {
			selected = mc.Selected
		}
		for _, o := range models.OptionsOf(p) {
			mark := markOff
			if slices.Contains(selected, o.ID) {
				mark = markOn
			}
			options = append(options, Button{Text: mark + o.Label, Action: models.TogglePrefix + o.ID})
		}
		options = append(options, Button{Text: labelSubmit, Action: models.ActionIDSubmit})
	}

	base := p.Common()
	meta := MetaButtons(labelBack, labelCancel, base.IncludeBack, base.IncludeCancel)
	rows := LayoutKeyboard(options, meta, a.perRow)
	if len(rows) == 0 {
		return nil
	}

	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			data := EncodeCallback(CallbackData{WorkflowID: rc.WorkflowID, StepID: rc.StepID, ActionID: b.Action})
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, data))
		}
		kb = append(kb, btns)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(kb...)
	return &markup
}

// continueOf reports whether p is a primitive advanced by a continue action, and whether
// it currently offers one.
func continueOf(p models.Primitive) (cont, ok bool) {
	switch v := p.(type) {
	case *models.Info:
		return v.Continue, true
	case *models.Media:
		return v.Continue, true
	default:
		return false, false
	}
}

// sendText sends text split to the platform limit. Only the last chunk carries markup.
func (a *TelegramAdapter) sendText(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (string, error) {
	chunks := SplitMessageUTF16(text, TelegramMaxMessageLength)
	var lastID string
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == len(chunks)-1 && markup != nil {
			msg.ReplyMarkup = *markup
		}
		sent, err := a.bot.Send(msg)
		if err != nil {
			slog.Error("Telegram send failed", "chat_id", chatID, "chunk", i, "error", err)
			return "", fmt.Errorf("failed to send telegram message: %w", err)
		}
		a.record(chatID, sent.MessageID)
		lastID = strconv.Itoa(sent.MessageID)
	}
	return lastID, nil
}

// sendMedia sends the payload with the text as caption. Captions over the platform limit
// are sent as a separate text message that then carries the keyboard.
func (a *TelegramAdapter) sendMedia(chatID int64, m *models.Media, text string, markup *tgbotapi.InlineKeyboardMarkup) (string, error) {
	caption := text
	overflow := UTF16Length(caption) > TelegramMaxCaptionLength
	if overflow {
		caption = ""
	}
	var replyMarkup any
	if markup != nil && !overflow {
		replyMarkup = *markup
	}

	file := telegramFile(m.Ref)
	var c tgbotapi.Chattable
	switch m.MediaKind {
	case models.MediaImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		photo.ReplyMarkup = replyMarkup
		c = photo
	case models.MediaVoice:
		voice := tgbotapi.NewVoice(chatID, file)
		voice.Caption = caption
		voice.ReplyMarkup = replyMarkup
		c = voice
	default:
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption = caption
		doc.ReplyMarkup = replyMarkup
		c = doc
	}

	sent, err := a.bot.Send(c)
	if err != nil {
		slog.Error("Telegram media send failed", "chat_id", chatID, "kind", m.MediaKind, "error", err)
		return "", fmt.Errorf("failed to send telegram media: %w", err)
	}
	a.record(chatID, sent.MessageID)
	if overflow {
		return a.sendText(chatID, text, markup)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// telegramFile maps a media reference to URL, local path or Telegram file id.
func telegramFile(ref string) tgbotapi.RequestFileData {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tgbotapi.FileURL(ref)
	}
	if _, err := os.Stat(ref); err == nil {
		return tgbotapi.FilePath(ref)
	}
	return tgbotapi.FileID(ref)
}

// edit replaces a message's text and keyboard. edited is false when the caller should
// send a new message instead: the message is past the edit window, its id is not
// numeric, the text does not fit one message, or Telegram refused the edit.
func (a *TelegramAdapter) edit(chatID int64, messageID string, text string, markup *tgbotapi.InlineKeyboardMarkup) (id string, edited bool, err error) {
	msgID, convErr := strconv.Atoi(messageID)
	if convErr != nil || UTF16Length(text) > TelegramMaxMessageLength {
		return "", false, nil
	}
	if a.tooOldToEdit(chatID, msgID) {
		slog.Debug("Telegram message past edit window, sending new message", "chat_id", chatID, "message_id", msgID)
		return "", false, nil
	}

	cfg := tgbotapi.NewEditMessageText(chatID, msgID, text)
	cfg.ReplyMarkup = markup
	if _, err := a.bot.Send(cfg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			if strings.Contains(apiErr.Message, errNotModified) {
				return messageID, true, nil
			}
			slog.Warn("Telegram edit rejected, sending new message", "chat_id", chatID, "message_id", msgID, "code", apiErr.Code, "error", apiErr.Message)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to edit telegram message: %w", err)
	}
	return messageID, true, nil
}

func (a *TelegramAdapter) record(chatID int64, msgID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.sentAt[sentKey(chatID, msgID)] = now
	a.records++
	if a.records%256 == 0 {
		for k, t := range a.sentAt {
			if now.Sub(t) > TelegramEditWindow {
				delete(a.sentAt, k)
			}
		}
	}
}

// tooOldToEdit reports whether a tracked message is past the edit window. Untracked
// messages are attempted; Telegram's refusal is handled by the caller.
func (a *TelegramAdapter) tooOldToEdit(chatID int64, msgID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.sentAt[sentKey(chatID, msgID)]
	return ok && a.now().Sub(t) >= TelegramEditWindow
}

func sentKey(chatID int64, msgID int) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(msgID)
}

// SendMessage implements Adapter.
func (a *TelegramAdapter) SendMessage(ctx context.Context, target models.SurfaceTarget, text string) (string, error) {
	chatID, err := telegramChatID(target)
	if err != nil {
		return "", err
	}
	return a.sendText(chatID, text, nil)
}

// UpdateMessage implements Adapter. The inline keyboard is removed by the edit.
func (a *TelegramAdapter) UpdateMessage(ctx context.Context, target models.SurfaceTarget, messageID string, text string) (string, error) {
	chatID, err := telegramChatID(target)
	if err != nil {
		return "", err
	}
	id, edited, err := a.edit(chatID, messageID, text, nil)
	if err != nil {
		return "", err
	}
	if edited {
		return id, nil
	}
	return a.sendText(chatID, text, nil)
}

// DeleteMessage implements Adapter.
func (a *TelegramAdapter) DeleteMessage(ctx context.Context, target models.SurfaceTarget, messageID string) error {
	chatID, err := telegramChatID(target)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	if _, err := a.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("failed to delete telegram message: %w", err)
	}
	a.mu.Lock()
	delete(a.sentAt, sentKey(chatID, msgID))
	a.mu.Unlock()
	return nil
}

// ClearActions removes the inline keyboard of a message, leaving its text.
func (a *TelegramAdapter) ClearActions(ctx context.Context, target models.SurfaceTarget, messageID string) error {
	chatID, err := telegramChatID(target)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil || a.tooOldToEdit(chatID, msgID) {
		return nil
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if _, err := a.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, empty)); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			slog.Debug("Telegram keyboard removal rejected", "chat_id", chatID, "message_id", msgID, "error", apiErr.Message)
			return nil
		}
		return fmt.Errorf("failed to clear telegram keyboard: %w", err)
	}
	return nil
}

// AcknowledgeAction answers the callback query behind raw, if any.
func (a *TelegramAdapter) AcknowledgeAction(ctx context.Context, raw any, text string) error {
	cb := callbackOf(raw)
	if cb == nil {
		return nil
	}
	if _, err := a.bot.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

func callbackOf(raw any) *tgbotapi.CallbackQuery {
	switch v := raw.(type) {
	case tgbotapi.Update:
		return v.CallbackQuery
	case *tgbotapi.Update:
		if v != nil {
			return v.CallbackQuery
		}
	case *tgbotapi.CallbackQuery:
		return v
	}
	return nil
}

// ParseAction implements Adapter. It accepts tgbotapi.Update values and pointers, and
// bare *CallbackQuery or *Message values.
func (a *TelegramAdapter) ParseAction(raw any) *models.ParsedUserAction {
	switch v := raw.(type) {
	case tgbotapi.Update:
		return parseTelegramUpdate(&v, raw)
	case *tgbotapi.Update:
		if v == nil {
			return nil
		}
		return parseTelegramUpdate(v, raw)
	case *tgbotapi.CallbackQuery:
		return parseTelegramCallback(v, raw)
	case *tgbotapi.Message:
		return parseTelegramMessage(v, raw)
	default:
		return nil
	}
}

func parseTelegramUpdate(u *tgbotapi.Update, raw any) *models.ParsedUserAction {
	if u.CallbackQuery != nil {
		return parseTelegramCallback(u.CallbackQuery, raw)
	}
	if u.Message != nil {
		return parseTelegramMessage(u.Message, raw)
	}
	return nil
}

func parseTelegramCallback(cb *tgbotapi.CallbackQuery, raw any) *models.ParsedUserAction {
	if cb == nil || cb.From == nil {
		return nil
	}
	data, ok := DecodeCallback(cb.Data)
	if !ok {
		return nil
	}
	target := models.SurfaceTarget{
		SurfaceID:     TelegramSurfaceID,
		SurfaceUserID: strconv.FormatInt(cb.From.ID, 10),
	}
	if cb.Message != nil && cb.Message.Chat != nil {
		target.ChannelID = strconv.FormatInt(cb.Message.Chat.ID, 10)
	}

	action := &models.ParsedUserAction{
		Kind:       models.ActionSelection,
		Value:      data.ActionID,
		WorkflowID: data.WorkflowID,
		StepID:     data.StepID,
		Surface:    target,
		Raw:        raw,
	}
	switch data.ActionID {
	case models.ActionIDCancel:
		action.Kind = models.ActionCancel
	case models.ActionIDBack:
		action.Kind = models.ActionBack
	}
	return action
}

func parseTelegramMessage(msg *tgbotapi.Message, raw any) *models.ParsedUserAction {
	if msg == nil || msg.From == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	target := models.SurfaceTarget{
		SurfaceID:     TelegramSurfaceID,
		SurfaceUserID: strconv.FormatInt(msg.From.ID, 10),
	}
	if msg.Chat != nil {
		target.ChannelID = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if kind, ok := models.MetaActionForText(msg.Text); ok {
		return &models.ParsedUserAction{Kind: kind, Surface: target, Raw: raw}
	}
	return &models.ParsedUserAction{Kind: models.ActionText, Text: msg.Text, Surface: target, Raw: raw}
}

// EventID implements EventIdentifier.
func (a *TelegramAdapter) EventID(raw any) (string, bool) {
	switch v := raw.(type) {
	case tgbotapi.Update:
		return fmt.Sprintf("telegram:update:%d", v.UpdateID), true
	case *tgbotapi.Update:
		if v != nil {
			return fmt.Sprintf("telegram:update:%d", v.UpdateID), true
		}
	}
	return "", false
}

// Start long-polls for updates and hands each one to handler on its own goroutine.
func (a *TelegramAdapter) Start(ctx context.Context, handler EventHandler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := a.bot.GetUpdatesChan(cfg)
	slog.Info("Telegram update polling started")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				a.wg.Add(1)
				go func(u tgbotapi.Update) {
					defer a.wg.Done()
					handler(ctx, u)
				}(u)
			}
		}
	}()
	return nil
}

// Stop ends polling and waits for in-flight handlers.
func (a *TelegramAdapter) Stop() error {
	a.bot.StopReceivingUpdates()
	a.wg.Wait()
	slog.Info("Telegram update polling stopped")
	return nil
}

func telegramChatID(target models.SurfaceTarget) (int64, error) {
	raw := target.ChannelID
	if raw == "" {
		raw = target.SurfaceUserID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", raw, err)
	}
	return id, nil
}
