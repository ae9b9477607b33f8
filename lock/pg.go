package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAdvisoryLock uses PostgreSQL session advisory locks. Each held lock pins
// one pooled connection until released. Keys are hashed to int64 lock IDs.
// The ttl argument is ignored; the lock ends with release or the session.
type PGAdvisoryLock struct {
	pool *pgxpool.Pool
}

// NewPGAdvisoryLock creates a PGAdvisoryLock on pool.
func NewPGAdvisoryLock(pool *pgxpool.Pool) *PGAdvisoryLock {
	return &PGAdvisoryLock{pool: pool}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}
	id := hashToInt64(key)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
	}
	return pgReleaser(conn, id), nil
}

func (l *PGAdvisoryLock) TryAcquire(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("try acquire lock connection for %s: %w", key, err)
	}
	id := hashToInt64(key)
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try acquire lock for %s: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}
	return pgReleaser(conn, id), true, nil
}

func pgReleaser(conn *pgxpool.Conn, id int64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled.
			_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", id)
			conn.Release()
		})
	}
}

// hashToInt64 maps a key to a non-negative int64 with FNV-1a.
func hashToInt64(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // masked to non-negative range
}
