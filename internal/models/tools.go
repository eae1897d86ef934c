// Package models defines tool structures for step-bound tool calls.
package models

import "fmt"

// ToolResult is the outcome reported by a tool executor.
type ToolResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResultString renders Result for storage in the variable bag.
func (r *ToolResult) ResultString() string {
	if r == nil || r.Result == nil {
		return ""
	}
	if s, ok := r.Result.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", r.Result)
}

// ToolFailure builds an unsuccessful result.
func ToolFailure(format string, args ...any) *ToolResult {
	return &ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
