// This file implements the PostgreSQL-backed store for deployments that share state
// across hosts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/Quackstro/opencore-sub001/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists instances in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore connects to the configured DSN and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, now: cfg.Clock}, nil
}

func (s *PostgresStore) Create(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances
			(user_id, instance_id, workflow_id, current_step, state_data, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			instance_id = EXCLUDED.instance_id,
			workflow_id = EXCLUDED.workflow_id,
			current_step = EXCLUDED.current_step,
			state_data = EXCLUDED.state_data,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		state.UserID, state.InstanceID, state.WorkflowID, state.CurrentStep, data,
		timeOrNil(expiryOf(state)), state.CreatedAt, s.now())
	if err != nil {
		slog.Error("PostgresStore Create failed", "error", err, "userID", state.UserID, "workflowID", state.WorkflowID)
		return fmt.Errorf("failed to create instance for %s: %w", state.UserID, err)
	}
	slog.Debug("PostgresStore Create succeeded", "userID", state.UserID, "workflowID", state.WorkflowID, "step", state.CurrentStep)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*models.WorkflowInstanceState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_data FROM workflow_instances WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load instance for %s: %w", userID, err)
	}

	state, err := decodeState(data)
	if err != nil {
		slog.Error("PostgresStore Get decode failed", "error", err, "userID", userID)
		return nil, err
	}
	if state.Expired(s.now()) {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM workflow_instances WHERE user_id = $1 AND instance_id = $2`, userID, state.InstanceID); err != nil {
			slog.Warn("PostgresStore failed to discard expired instance", "error", err, "userID", userID)
		}
		slog.Debug("PostgresStore Get discarded expired instance", "userID", userID, "workflowID", state.WorkflowID)
		return nil, nil
	}
	return state, nil
}

func (s *PostgresStore) Update(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET instance_id = $1, workflow_id = $2, current_step = $3, state_data = $4, expires_at = $5, updated_at = $6
		WHERE user_id = $7`,
		state.InstanceID, state.WorkflowID, state.CurrentStep, data,
		timeOrNil(expiryOf(state)), s.now(), state.UserID)
	if err != nil {
		slog.Error("PostgresStore Update failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to update instance for %s: %w", state.UserID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	slog.Debug("PostgresStore Update succeeded", "userID", state.UserID, "step", state.CurrentStep)
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE user_id = $1`, userID); err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete instance for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore Delete succeeded", "userID", userID)
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_instances WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		slog.Error("PostgresStore DeleteExpired failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired instances: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_events (event_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, userID, s.now())
	if err != nil {
		return false, fmt.Errorf("record event failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record event rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_events WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune events failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Destroy closes the Postgres connection pool.
func (s *PostgresStore) Destroy() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
