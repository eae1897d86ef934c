package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// encodeState serializes the full instance for the state_data column.
func encodeState(state *models.WorkflowInstanceState) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state for %s: %w", state.UserID, err)
	}
	return string(b), nil
}

func decodeState(data []byte) (*models.WorkflowInstanceState, error) {
	var state models.WorkflowInstanceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// unixMillisOrNil converts an optional expiry for INTEGER columns.
func unixMillisOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// timeOrNil converts an optional expiry for TIMESTAMPTZ columns.
func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
