package twiliowhatsapp

import (
	"context"
	"fmt"
	"sync"
)

// SentMessage records one message sent through MockClient.
type SentMessage struct {
	SID  string
	To   string
	Body string
}

// MockClient implements Sender in memory (for tests).
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Deleted      []string
	nextID       int
	SendErr      error
}

var _ Sender = (*MockClient)(nil)

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.nextID++
	sid := fmt.Sprintf("SM%032d", m.nextID)
	m.SentMessages = append(m.SentMessages, SentMessage{SID: sid, To: to, Body: body})
	return sid, nil
}

func (m *MockClient) DeleteMessage(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, sid)
	return nil
}
