package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Quackstro/opencore-sub001/internal/models"
)

// Interceptor maps "<command>" or "<command>:<subcommand>" to a workflow id.
type Interceptor struct {
	routes map[string]string
}

// NewInterceptor builds an interceptor from a route table. Keys are matched
// case-insensitively and may carry a leading slash.
func NewInterceptor(routes map[string]string) *Interceptor {
	i := &Interceptor{routes: make(map[string]string, len(routes))}
	for k, v := range routes {
		i.routes[strings.ToLower(strings.TrimPrefix(k, "/"))] = v
	}
	return i
}

type interceptorFile struct {
	Intercepts map[string]string `yaml:"intercepts"`
}

// LoadInterceptor reads a route table from a YAML file:
//
//	intercepts:
//	  wallet: wallet-onboarding
//	  wallet:send: wallet-send
func LoadInterceptor(path string) (*Interceptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interceptor config: %w", err)
	}
	var f interceptorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse interceptor config %s: %w", path, err)
	}
	slog.Info("Commands interceptor loaded", "path", path, "routes", len(f.Intercepts))
	return NewInterceptor(f.Intercepts), nil
}

// Match returns the workflow to start for cmd. It only intercepts commands invoked with no
// arguments beyond an optional subcommand, and only on surfaces with inline buttons;
// everything else falls through to the plain command handler.
func (i *Interceptor) Match(cmd Command, caps models.SurfaceCapabilities) (string, bool) {
	if i == nil || len(i.routes) == 0 || !caps.InlineButtons || len(cmd.Args) > 0 {
		return "", false
	}
	if cmd.Sub != "" {
		id, ok := i.routes[cmd.Name+":"+strings.ToLower(cmd.Sub)]
		return id, ok
	}
	id, ok := i.routes[cmd.Name]
	return id, ok
}

// Len returns the number of routes.
func (i *Interceptor) Len() int {
	if i == nil {
		return 0
	}
	return len(i.routes)
}
