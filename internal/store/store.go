// Package store provides persistence backends for in-flight workflow instances.
//
// Every backend keys state by the surface-scoped user id, so one user's write can never
// observe or overwrite another user's instance. Instances idle past their ttl are
// discarded lazily on the next Get; DeleteExpired sweeps them in bulk.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Update when the user has no stored instance.
var ErrNotFound = errors.New("workflow instance not found")

// ErrInvalidState is returned when a nil state or a state without a user id is written.
var ErrInvalidState = errors.New("invalid workflow instance state")

// StateStore persists at most one workflow instance per user.
type StateStore interface {
	// Create stores state, replacing any existing instance for the same user.
	Create(ctx context.Context, state *models.WorkflowInstanceState) error
	// Get returns the user's instance, or nil, nil when there is none or it has expired.
	Get(ctx context.Context, userID string) (*models.WorkflowInstanceState, error)
	// Update overwrites an existing instance. It returns ErrNotFound if there is none.
	Update(ctx context.Context, state *models.WorkflowInstanceState) error
	// Delete removes the user's instance. Deleting a missing instance is not an error.
	Delete(ctx context.Context, userID string) error
	// DeleteExpired removes every instance idle past its ttl at now and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// Destroy releases the backend's resources.
	Destroy() error
}

// EventDeduper remembers platform event ids so redelivered events are processed once.
type EventDeduper interface {
	// RecordEvent returns true if eventID has not been seen before.
	RecordEvent(ctx context.Context, eventID, userID string) (bool, error)
	// PruneEvents forgets events received before the given time.
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

// Store is implemented by every backend in this package.
type Store interface {
	StateStore
	EventDeduper
}

// Compile-time checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Opts holds configuration shared by the store constructors.
type Opts struct {
	DSN         string        // SQLite file path or Postgres connection string
	RedisAddr   string        // host:port of a Redis server
	RedisClient *redis.Client // pre-built client, takes precedence over RedisAddr
	KeyPrefix   string        // Redis key prefix
	EventTTL    time.Duration // how long Redis remembers event ids
	Clock       func() time.Time
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisAddr selects the Redis backend at addr.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithRedisClient uses an existing Redis client.
func WithRedisClient(c *redis.Client) Option {
	return func(o *Opts) { o.RedisClient = c }
}

// WithKeyPrefix overrides the Redis key prefix (default "opencore").
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// WithEventTTL overrides how long Redis keeps event ids (default 24h).
func WithEventTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.EventTTL = ttl }
}

// WithClock injects the time source used for lazy expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{KeyPrefix: "opencore", EventTTL: 24 * time.Hour, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for
// connection URLs and key/value strings, "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") || strings.Contains(dsn, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks a backend from the options: Redis when an address or client is set,
// otherwise Postgres or SQLite by DSN, otherwise memory.
func Open(opts ...Option) (Store, error) {
	cfg := applyOpts(opts)
	switch {
	case cfg.RedisClient != nil || cfg.RedisAddr != "":
		slog.Info("Using Redis workflow state store", "addr", cfg.RedisAddr)
		return NewRedisStore(opts...)
	case cfg.DSN == "":
		slog.Warn("No store DSN configured, workflow state will not survive a restart")
		return NewMemoryStore(opts...), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("Using Postgres workflow state store")
		return NewPostgresStore(opts...)
	default:
		slog.Info("Using SQLite workflow state store", "path", cfg.DSN)
		return NewSQLiteStore(opts...)
	}
}

func checkState(state *models.WorkflowInstanceState) error {
	if state == nil || state.UserID == "" {
		return ErrInvalidState
	}
	return nil
}

// expiryOf returns the absolute expiry of state, or nil when it never expires.
func expiryOf(state *models.WorkflowInstanceState) *time.Time {
	if exp, ok := state.ExpiresAt(); ok {
		return &exp
	}
	return nil
}
