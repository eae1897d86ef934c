package telegram

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MockBot implements Bot in memory and records every call (for tests).
type MockBot struct {
	mu       sync.Mutex
	Sent     []tgbotapi.Chattable // everything passed to Send
	Requests []tgbotapi.Chattable // everything passed to Request
	nextID   int
	updates  chan tgbotapi.Update

	// SendErr fails every Send that is not an edit.
	SendErr error
	// EditErr fails every edit passed to Send.
	EditErr error
	// RequestErr fails every Request.
	RequestErr error
}

var _ Bot = (*MockBot)(nil)

// NewMockBot creates a MockBot whose message ids start at 100.
func NewMockBot() *MockBot {
	return &MockBot{nextID: 100, updates: make(chan tgbotapi.Update, 16)}
}

func (m *MockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, c)

	switch v := c.(type) {
	case tgbotapi.EditMessageTextConfig:
		if m.EditErr != nil {
			return tgbotapi.Message{}, m.EditErr
		}
		return tgbotapi.Message{MessageID: v.MessageID, Text: v.Text}, nil
	case tgbotapi.EditMessageReplyMarkupConfig:
		if m.EditErr != nil {
			return tgbotapi.Message{}, m.EditErr
		}
		return tgbotapi.Message{MessageID: v.MessageID}, nil
	}

	if m.SendErr != nil {
		return tgbotapi.Message{}, m.SendErr
	}
	m.nextID++
	msg := tgbotapi.Message{MessageID: m.nextID}
	if mc, ok := c.(tgbotapi.MessageConfig); ok {
		msg.Text = mc.Text
	}
	return msg, nil
}

func (m *MockBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, c)
	if m.RequestErr != nil {
		return nil, m.RequestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *MockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *MockBot) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updates != nil {
		close(m.updates)
		m.updates = nil
	}
}

// Push delivers an update to whoever is reading GetUpdatesChan.
func (m *MockBot) Push(u tgbotapi.Update) {
	m.mu.Lock()
	ch := m.updates
	m.mu.Unlock()
	if ch != nil {
		ch <- u
	}
}

// SentMessages returns the MessageConfigs passed to Send, in order.
func (m *MockBot) SentMessages() []tgbotapi.MessageConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range m.Sent {
		if mc, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, mc)
		}
	}
	return out
}

// Edits returns the text edits passed to Send, in order.
func (m *MockBot) Edits() []tgbotapi.EditMessageTextConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range m.Sent {
		if ec, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, ec)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (m *MockBot) Reset() {
	m.mu.Lock()
	m.Sent = nil
	m.Requests = nil
	m.mu.Unlock()
}
