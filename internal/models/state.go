// Package models defines state management structures for in-flight workflow instances.
package models

import "time"

// WorkflowInstanceState is the persisted state of one user's active workflow.
type WorkflowInstanceState struct {
	InstanceID  string   `json:"instance_id"`
	WorkflowID  string   `json:"workflow_id"`
	UserID      string   `json:"user_id"`
	CurrentStep string   `json:"current_step"`
	History     []string `json:"history,omitempty"` // steps to return to on "back", oldest first
	// Variables holds captured answers keyed by step id, plus tool results under "<step>.result".
	Variables map[string]string `json:"variables,omitempty"`
	// Selections holds the multi-choice selection set per step.
	Selections     map[string][]string `json:"selections,omitempty"`
	Surface        SurfaceTarget       `json:"surface"`
	LastMessageID  string              `json:"last_message_id,omitempty"`
	TTL            Duration            `json:"ttl,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivityAt time.Time           `json:"last_activity_at"`
}

// ExpiresAt returns when the instance goes stale. ok is false when it never expires.
func (s *WorkflowInstanceState) ExpiresAt() (t time.Time, ok bool) {
	if s.TTL <= 0 {
		return time.Time{}, false
	}
	return s.LastActivityAt.Add(s.TTL.Std()), true
}

// Expired reports whether the instance has been idle longer than its ttl at now.
func (s *WorkflowInstanceState) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && now.After(exp)
}

// PushHistory records step as the step to return to on "back".
func (s *WorkflowInstanceState) PushHistory(step string) {
	s.History = append(s.History, step)
}

// PopHistory removes and returns the most recent history entry.
func (s *WorkflowInstanceState) PopHistory() (string, bool) {
	if len(s.History) == 0 {
		return "", false
	}
	last := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	return last, true
}

// SetVariable stores value under key, allocating the bag if needed.
func (s *WorkflowInstanceState) SetVariable(key, value string) {
	if s.Variables == nil {
		s.Variables = make(map[string]string)
	}
	s.Variables[key] = value
}

// Clone returns a deep copy so stores never share maps or slices with callers.
func (s *WorkflowInstanceState) Clone() *WorkflowInstanceState {
	if s == nil {
		return nil
	}
	c := *s
	if s.History != nil {
		c.History = append([]string(nil), s.History...)
	}
	if s.Variables != nil {
		c.Variables = make(map[string]string, len(s.Variables))
		for k, v := range s.Variables {
			c.Variables[k] = v
		}
	}
	if s.Selections != nil {
		c.Selections = make(map[string][]string, len(s.Selections))
		for k, v := range s.Selections {
			c.Selections[k] = append([]string(nil), v...)
		}
	}
	return &c
}
