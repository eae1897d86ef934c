package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const echoWorkflow = `{
  "id": "echo",
  "plugin": "core",
  "version": "1",
  "entryPoint": "ask",
  "steps": {
    "ask": {"type": "text-input", "content": "Say something.", "next": "done"},
    "done": {"type": "info", "content": "You said {{vars.ask}}.", "terminal": true}
  }
}`

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{DataDir: "/srv/oc"}.withDefaults()
	if cfg.StoreDSN != filepath.Join("/srv/oc", DefaultDBFileName) {
		t.Errorf("unexpected store dsn %q", cfg.StoreDSN)
	}
	if cfg.WorkflowsDir != filepath.Join("/srv/oc", DefaultWorkflowsDir) {
		t.Errorf("unexpected workflows dir %q", cfg.WorkflowsDir)
	}
	if cfg.SweepCron == "" {
		t.Error("expected default sweep cron")
	}

	redis := Config{RedisAddr: "localhost:6379"}.withDefaults()
	if redis.StoreDSN != "" {
		t.Errorf("redis config should not default a SQL dsn, got %q", redis.StoreDSN)
	}
	if redis.DataDir != DefaultDataDir {
		t.Errorf("expected default data dir, got %q", redis.DataDir)
	}
}

func TestStoreOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"memory", Config{MemoryStore: true, StoreDSN: "x.db"}, 0},
		{"redis", Config{RedisAddr: "localhost:6379"}, 1},
		{"postgres", Config{StoreDSN: "postgres://u@h/db"}, 1},
		{"sqlite", Config{StoreDSN: "/tmp/x.db"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(storeOptions(tt.cfg)); got != tt.want {
				t.Errorf("expected %d options, got %d", tt.want, got)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "echo.json"), []byte(echoWorkflow), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := validate(dir, &out); err != nil {
		t.Fatalf("valid directory rejected: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "1 file(s) checked, 0 invalid") {
		t.Errorf("unexpected summary: %s", out.String())
	}

	broken := `{"id": "broken", "plugin": "core", "version": "1", "entryPoint": "nowhere", "steps": {"a": {"type": "info", "content": "x", "terminal": true}}}`
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	err := validate(dir, &out)
	if !errors.Is(err, errInvalidDefinitions) {
		t.Fatalf("expected invalid definitions error, got %v", err)
	}
	if !strings.Contains(out.String(), "broken.json") {
		t.Errorf("expected the broken file named in output: %s", out.String())
	}
}

func TestAppValidateRequiresDir(t *testing.T) {
	if err := newApp().Run(context.Background(), []string{"opencore", "validate"}); err == nil {
		t.Error("expected error without a directory argument")
	}
}

func TestBuildToolsWithoutGenAI(t *testing.T) {
	r, err := buildTools(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "echo" {
		t.Errorf("expected only the echo tool, got %v", names)
	}
}
