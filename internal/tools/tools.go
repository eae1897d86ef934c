// Package tools runs the external tool calls that workflow steps declare.
//
// The engine only sees the Executor interface. Registry dispatches by tool name to
// registered functions; PlaceholderExecutor stands in when no runtime is configured.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// Executor runs a named tool with resolved parameters. A returned error means the
// executor could not run the tool at all; tool-level failures are reported through
// ToolResult.Success.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (*models.ToolResult, error)
}

// Func implements one tool.
type Func func(ctx context.Context, params map[string]any) (*models.ToolResult, error)

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, name string, params map[string]any) (*models.ToolResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, name string, params map[string]any) (*models.ToolResult, error) {
	return f(ctx, name, params)
}

// PlaceholderExecutor reports failure for every call.
type PlaceholderExecutor struct{}

func (PlaceholderExecutor) Execute(ctx context.Context, name string, params map[string]any) (*models.ToolResult, error) {
	slog.Warn("Tool call with no execution runtime configured", "tool", name)
	return models.ToolFailure("tool runtime not configured: %s", name), nil
}

// Registry dispatches calls to registered tool functions.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Func
	timeout time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCallTimeout bounds each tool call. Zero disables the bound.
func WithCallTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Func), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds fn to name, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
	slog.Debug("Tool registered", "tool", name)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute implements Executor. Unknown tools and panicking tools yield a failed result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (result *models.ToolResult, err error) {
	r.mu.RLock()
	fn, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("Unknown tool requested", "tool", name)
		return models.ToolFailure("unknown tool: %s", name), nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", name, "panic", p)
			result, err = models.ToolFailure("tool %s panicked: %v", name, p), nil
		}
	}()

	slog.Debug("Tool call started", "tool", name, "params", paramKeysForLog(params))
	result, err = fn(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if result == nil {
		return models.ToolFailure("tool %s returned no result", name), nil
	}
	return result, nil
}

// paramKeysForLog lists parameter names only. Values may carry user secrets.
func paramKeysForLog(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StringParam returns params[key] as a string.
func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []string:
		return strings.Join(s, ","), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
