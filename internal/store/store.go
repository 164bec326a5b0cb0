// SPDX-License-Identifier: MIT

// Package store is the Redis adapter for session state. It speaks raw hash
// fields and index sets; typed records live in the session package. Every
// operation is individually atomic, there are no multi-key transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/metrics"
)

// Config holds Redis connection configuration.
type Config struct {
	URL string // redis:// URL, e.g. redis://localhost:6379/0
}

// Store wraps a Redis client with the orchestrator's key schema.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// Unavailable wraps a failed store round trip. API handlers map it to 503 on
// the critical path; sweepers skip the cycle.
type Unavailable struct {
	Op  string
	Err error
}

func (e *Unavailable) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *Unavailable) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a store availability failure.
func IsUnavailable(err error) bool {
	var u *Unavailable
	return errors.As(err, &u)
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.IncStoreError(op)
	return &Unavailable{Op: op, Err: err}
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Msg("connected to Redis")

	return &Store{client: client, logger: logger}, nil
}

// NewFromClient wraps an existing client. Used by tests against miniredis.
func NewFromClient(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return unavailable("ping", s.client.Ping(ctx).Err())
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
