// This file implements the SQLite-backed store, the default durable backend living in
// the configured data directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/Quackstro/opencore-sub001/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists instances in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the SQLite database at the configured DSN
// and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under concurrent users.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db, now: cfg.Clock}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflow_instances
			(user_id, instance_id, workflow_id, current_step, state_data, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		state.UserID, state.InstanceID, state.WorkflowID, state.CurrentStep, data,
		unixMillisOrNil(expiryOf(state)), state.CreatedAt.UnixMilli(), now)
	if err != nil {
		slog.Error("SQLiteStore Create failed", "error", err, "userID", state.UserID, "workflowID", state.WorkflowID)
		return fmt.Errorf("failed to create instance for %s: %w", state.UserID, err)
	}
	slog.Debug("SQLiteStore Create succeeded", "userID", state.UserID, "workflowID", state.WorkflowID, "step", state.CurrentStep)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*models.WorkflowInstanceState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_data FROM workflow_instances WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load instance for %s: %w", userID, err)
	}

	state, err := decodeState([]byte(data))
	if err != nil {
		slog.Error("SQLiteStore Get decode failed", "error", err, "userID", userID)
		return nil, err
	}
	if state.Expired(s.now()) {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM workflow_instances WHERE user_id = ? AND instance_id = ?`, userID, state.InstanceID); err != nil {
			slog.Warn("SQLiteStore failed to discard expired instance", "error", err, "userID", userID)
		}
		slog.Debug("SQLiteStore Get discarded expired instance", "userID", userID, "workflowID", state.WorkflowID)
		return nil, nil
	}
	return state, nil
}

func (s *SQLiteStore) Update(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET instance_id = ?, workflow_id = ?, current_step = ?, state_data = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ?`,
		state.InstanceID, state.WorkflowID, state.CurrentStep, data,
		unixMillisOrNil(expiryOf(state)), s.now().UnixMilli(), state.UserID)
	if err != nil {
		slog.Error("SQLiteStore Update failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to update instance for %s: %w", state.UserID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	slog.Debug("SQLiteStore Update succeeded", "userID", state.UserID, "step", state.CurrentStep)
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE user_id = ?`, userID); err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete instance for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore Delete succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_instances WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UnixMilli())
	if err != nil {
		slog.Error("SQLiteStore DeleteExpired failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired instances: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_events (event_id, user_id, received_at) VALUES (?, ?, ?)`,
		eventID, userID, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("record event failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record event rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_events WHERE received_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Destroy closes the SQLite database connection.
func (s *SQLiteStore) Destroy() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
