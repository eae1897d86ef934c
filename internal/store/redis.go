package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Quackstro/opencore-sub001/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one JSON document per user under "<prefix>:workflow:<userID>".
// Keys carry a Redis TTL equal to the instance's remaining idle time, so Redis drops
// stale instances even when nobody reads them.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	eventTTL time.Duration
	now      func() time.Time
	owned    bool
}

// NewRedisStore connects to the configured Redis server or wraps the given client.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := applyOpts(opts)
	client, owned := cfg.RedisClient, false
	if client == nil {
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis address not set")
		}
		client, owned = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		if owned {
			client.Close()
		}
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client:   client,
		prefix:   cfg.KeyPrefix,
		eventTTL: cfg.EventTTL,
		now:      cfg.Clock,
		owned:    owned,
	}, nil
}

func (s *RedisStore) instanceKey(userID string) string {
	return s.prefix + ":workflow:" + userID
}

func (s *RedisStore) eventKey(eventID string) string {
	return s.prefix + ":event:" + eventID
}

// keyTTL returns the Redis expiry for state; zero means no expiry.
func (s *RedisStore) keyTTL(state *models.WorkflowInstanceState) time.Duration {
	exp, ok := state.ExpiresAt()
	if !ok {
		return 0
	}
	ttl := exp.Sub(s.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

func (s *RedisStore) Create(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.instanceKey(state.UserID), data, s.keyTTL(state)).Err(); err != nil {
		slog.Error("RedisStore Create failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("redis set failed: %w", err)
	}
	slog.Debug("RedisStore Create succeeded", "userID", state.UserID, "workflowID", state.WorkflowID)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*models.WorkflowInstanceState, error) {
	data, err := s.client.Get(ctx, s.instanceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore Get failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	if state.Expired(s.now()) {
		if err := s.client.Del(ctx, s.instanceKey(userID)).Err(); err != nil {
			slog.Warn("RedisStore failed to discard expired instance", "error", err, "userID", userID)
		}
		return nil, nil
	}
	return state, nil
}

func (s *RedisStore) Update(ctx context.Context, state *models.WorkflowInstanceState) error {
	if err := checkState(state); err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	// SET ... XX only writes an existing key; a zero ttl clears any previous expiry.
	ok, err := s.client.SetXX(ctx, s.instanceKey(state.UserID), data, s.keyTTL(state)).Result()
	if err != nil {
		slog.Error("RedisStore Update failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("redis set failed: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.instanceKey(userID)).Err(); err != nil {
		slog.Error("RedisStore Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// DeleteExpired scans instance keys and removes those idle past their ttl at now.
// Redis key expiry normally gets there first; this covers clock skew between hosts.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+":workflow:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("redis get failed: %w", err)
		}
		state, err := decodeState(data)
		if err != nil {
			slog.Warn("RedisStore removing undecodable instance", "key", key, "error", err)
		} else if !state.Expired(now) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return n, fmt.Errorf("redis del failed: %w", err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("redis scan failed: %w", err)
	}
	return n, nil
}

func (s *RedisStore) RecordEvent(ctx context.Context, eventID, userID string) (bool, error) {
	fresh, err := s.client.SetNX(ctx, s.eventKey(eventID), userID, s.eventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return fresh, nil
}

// PruneEvents is a no-op: event keys expire on their own after the configured event ttl.
func (s *RedisStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

// Destroy closes the client if this store created it.
func (s *RedisStore) Destroy() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
