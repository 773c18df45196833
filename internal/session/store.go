// Package session persists per-address user records in Redis between
// messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

const keyPrefix = "user."

// Store reads and writes session blobs keyed by user address. Every write
// re-applies the TTL, giving sessions a sliding expiry.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// New creates a session store with the given sliding TTL.
func New(client *redis.Client, ttl time.Duration) *Store {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("survey.internal.session"),
	}
}

// Key returns the storage key for an address.
func Key(address string) string {
	return keyPrefix + address
}

// Load fetches the user record for an address. A missing or malformed blob
// yields a fresh user; only transport failures surface as errors so the
// caller can retry the message.
func (s *Store) Load(ctx context.Context, address string) (models.User, error) {
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.redis.Get(ctx, Key(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewUser(address), nil
	}
	if err != nil {
		span.RecordError(err)
		return models.User{}, fmt.Errorf("session: load %s: %w", address, err)
	}
	return models.GetOrCreateUser(address, data), nil
}

// Save writes the user record back under its address with the sliding TTL.
func (s *Store) Save(ctx context.Context, user models.User) error {
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	data, err := user.ToJSON()
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, Key(user.Address), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: save %s: %w", user.Address, err)
	}
	return nil
}

// Ping reports whether the backing Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
