package tools

import (
	"context"
	"strings"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// Built-in tool names.
const (
	ToolGenAIComplete = "genai.complete"
	ToolEcho          = "echo"
)

// Completer produces a model completion. *genai.Client implements it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenAITool returns a tool that sends params["prompt"] (and optionally params["system"])
// to the completer and returns the answer as its result.
func GenAITool(c Completer) Func {
	return func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		prompt, ok := StringParam(params, "prompt")
		if !ok || strings.TrimSpace(prompt) == "" {
			return models.ToolFailure("missing prompt parameter"), nil
		}
		system, _ := StringParam(params, "system")
		out, err := c.Complete(ctx, system, prompt)
		if err != nil {
			return models.ToolFailure("completion failed: %v", err), nil
		}
		return &models.ToolResult{Success: true, Result: out}, nil
	}
}

// EchoTool returns params["value"] unchanged. It lets workflows exercise tool steps
// without an external runtime.
func EchoTool() Func {
	return func(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
		v, ok := params["value"]
		if !ok {
			return models.ToolFailure("missing value parameter"), nil
		}
		return &models.ToolResult{Success: true, Result: v}, nil
	}
}
