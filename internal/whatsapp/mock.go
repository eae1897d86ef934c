package whatsapp

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one message sent through MockClient.
type SentMessage struct {
	ID   string
	To   string
	Body string
}

// MockClient implements Messenger in memory (for tests).
type MockClient struct {
	mu       sync.Mutex
	Sent     []SentMessage
	Revoked  []string
	handlers []func(IncomingMessage)
	nextID   int
	SendErr  error
}

var _ Messenger = (*MockClient)(nil)

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.nextID++
	id := fmt.Sprintf("wamid-%d", m.nextID)
	m.Sent = append(m.Sent, SentMessage{ID: id, To: to, Body: body})
	return id, nil
}

func (m *MockClient) RevokeMessage(ctx context.Context, to string, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Revoked = append(m.Revoked, messageID)
	return nil
}

func (m *MockClient) OnMessage(handler func(IncomingMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Deliver simulates an inbound message.
func (m *MockClient) Deliver(msg IncomingMessage) {
	m.mu.Lock()
	handlers := append([]func(IncomingMessage){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// Bodies returns the bodies of all sent messages.
func (m *MockClient) Bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	for i, s := range m.Sent {
		out[i] = s.Body
	}
	return out
}
