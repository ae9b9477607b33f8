package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by
// CachedArtifactStore. Keeping it as an interface enables swapping clients.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// tombstone marks a deleted ID. Fills use SETNX, so a Get that read the row
// before a concurrent Delete cannot re-cache it.
const tombstone = "-"

// CachedArtifactStore is a read-through Redis cache in front of another
// ArtifactStore. Only Get is cached; rows are immutable so the only
// invalidation needed is on Delete, which leaves a tombstone for one ttl.
type CachedArtifactStore struct {
	inner  ArtifactStore
	client RedisClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedArtifactStore wraps inner with a Redis cache. A zero ttl defaults
// to five minutes.
func NewCachedArtifactStore(inner ArtifactStore, client RedisClient, prefix string, ttl time.Duration, logger *slog.Logger) *CachedArtifactStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedArtifactStore{inner: inner, client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *CachedArtifactStore) key(id uuid.UUID) string {
	return s.prefix + "artifact:" + id.String()
}

func (s *CachedArtifactStore) Create(ctx context.Context, a *Artifact) error {
	return s.inner.Create(ctx, a)
}

func (s *CachedArtifactStore) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	switch {
	case err == nil && string(raw) == tombstone:
		return nil, ErrNotFound
	case err == nil:
		var a Artifact
		if jsonErr := json.Unmarshal(raw, &a); jsonErr == nil {
			return &a, nil
		}
		s.logger.Warn("discarding undecodable cached artifact", "id", id)
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("artifact cache get failed", "id", id, "error", err)
	}

	a, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		if err := s.client.SetNX(ctx, s.key(id), data, s.ttl).Err(); err != nil {
			s.logger.Warn("artifact cache set failed", "id", id, "error", err)
		}
	}
	return a, nil
}

func (s *CachedArtifactStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.inner.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), tombstone, s.ttl).Err(); err != nil {
		s.logger.Warn("artifact cache invalidation failed", "id", id, "error", err)
	}
	return nil
}

func (s *CachedArtifactStore) List(ctx context.Context, f ArtifactFilter) ([]*Artifact, error) {
	return s.inner.List(ctx, f)
}
