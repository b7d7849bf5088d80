// Package idempotency provides a Redis-backed fingerprint check so the
// consumer loop can skip messages it has already processed.
//
// # Failure policy
//
// Any error talking to Redis degrades to "accept" — the event is
// processed without dedup rather than blocking the loop. Dedup is a
// best-effort optimization, never a correctness requirement (see
// spec.md §4.1).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome is the result of a CheckAndMark call.
type Outcome int

const (
	Accept Outcome = iota
	Skip
)

// Store checks and records message fingerprints in Redis.
type Store struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration

	warnedOnce bool
}

// New creates a Redis-backed idempotency store. It pings Redis once at
// construction time to fail fast on misconfiguration (a
// FatalStartupError per spec.md §7), but a later connection drop does
// not fail CheckAndMark calls — see the package doc.
func New(redisURL string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Store{
		client: client,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// CheckAndMark implements spec.md §4.1: fingerprint the payload,
// compare against the stored fingerprint for (topic, key), and either
// skip (fingerprint matches) or accept-and-store (fingerprint is new
// or absent). Any Redis error degrades to Accept.
func (s *Store) CheckAndMark(ctx context.Context, topic, key string, payload []byte) Outcome {
	digest := fingerprint(payload)
	redisKey := fmt.Sprintf("processed:%s:%s", topic, key)

	prev, err := s.client.Get(ctx, redisKey).Result()
	switch {
	case err == redis.Nil:
		// no prior record; fall through to write
	case err != nil:
		s.warnTransient(err)
		return Accept
	case prev == digest:
		return Skip
	}

	if err := s.client.Set(ctx, redisKey, digest, s.ttl).Err(); err != nil {
		s.warnTransient(err)
	}
	return Accept
}

func (s *Store) warnTransient(err error) {
	if s.warnedOnce {
		return
	}
	s.warnedOnce = true
	s.logger.Warn("idempotency store unreachable, proceeding without dedup", "error", err)
}

func fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
