package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/azdo-boards-mcp/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=azdo-mcp:sessions:"`
}

// Host implements sessions.Store on a go-redis client.
type Host struct {
	client    *redis.Client
	keyPrefix string
}

var _ sessions.Store = (*Host)(nil)

const maxMutateAttempts = 8

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "azdo-mcp:sessions:"
	}
	return &Host{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) sessionKey(sessionID string) string { return h.keyPrefix + "sess:" + sessionID }

func (h *Host) Create(ctx context.Context, meta *sessions.Metadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := h.client.Set(ctx, h.sessionKey(meta.SessionID), b, meta.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (h *Host) Load(ctx context.Context, sessionID string) (*sessions.Metadata, error) {
	b, err := h.client.Get(ctx, h.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var m sessions.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &m, nil
}

// Mutate runs fn inside an optimistic WATCH transaction and retries when a
// concurrent writer touched the key first.
func (h *Host) Mutate(ctx context.Context, sessionID string, fn func(*sessions.Metadata) error) error {
	key := h.sessionKey(sessionID)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessions.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var m sessions.Metadata
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}
		if err := fn(&m); err != nil {
			return err
		}
		out, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, m.TTL)
			return nil
		})
		return err
	}

	for range maxMutateAttempts {
		err := h.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("mutate session %s: too much contention", sessionID)
}

func (h *Host) Delete(ctx context.Context, sessionID string) error {
	if err := h.client.Del(ctx, h.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
