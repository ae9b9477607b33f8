package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/GoCodeAlone/artifacts/config"
	"github.com/GoCodeAlone/artifacts/events"
	"github.com/GoCodeAlone/artifacts/lock"
	"github.com/GoCodeAlone/artifacts/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// backends holds the stateful dependencies of the service and closes them
// in reverse order of opening.
type backends struct {
	store     store.ArtifactStore
	locker    lock.Locker
	publisher events.Publisher
	closers   []func() error
}

func (b *backends) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// Close releases every opened backend.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var pool *pgxpool.Pool
	switch cfg.Database.Driver {
	case config.DatabasePostgres:
		pool, err = store.NewPGPool(ctx, store.PGConfig{URL: cfg.Database.DSN, MaxConns: int32(cfg.Database.MaxConns)}) //nolint:gosec // G115: bounded by config
		if err != nil {
			return nil, err
		}
		b.onClose(func() error { pool.Close(); return nil })
		if err := store.NewMigrator(pool).Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.store = store.NewPGArtifactStore(pool)
	case config.DatabaseSQLite:
		db, err := store.OpenSQLite(cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		b.onClose(db.Close)
		if b.store, err = store.NewSQLiteArtifactStore(ctx, db); err != nil {
			return nil, err
		}
	default:
		b.store = store.NewMemoryArtifactStore()
	}
	logger.Info("metadata store ready", "driver", cfg.Database.Driver)

	clients := map[string]*redis.Client{}
	redisClient := func(addr string) (*redis.Client, error) {
		if c, ok := clients[addr]; ok {
			return c, nil
		}
		c := redis.NewClient(&redis.Options{Addr: addr})
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		clients[addr] = c
		b.onClose(c.Close)
		return c, nil
	}

	if cfg.Cache.RedisAddr != "" {
		client, err := redisClient(cfg.Cache.RedisAddr)
		if err != nil {
			return nil, err
		}
		b.store = store.NewCachedArtifactStore(b.store, client, "artifacts:cache:", cfg.Cache.TTL, logger)
		logger.Info("metadata cache enabled", "redis", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
	}

	switch cfg.Lock.Driver {
	case config.LockPostgres:
		b.locker = lock.NewPGAdvisoryLock(pool)
	case config.LockRedis:
		client, err := redisClient(cfg.LockRedisAddr())
		if err != nil {
			return nil, err
		}
		b.locker = lock.NewRedisLock(client, "artifacts:lock:", logger)
	default:
		b.locker = lock.NewInMemoryLock()
	}

	logPublisher := events.NewLogPublisher(logger)
	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		b.onClose(nc.Close)
		b.publisher = events.Multi{nc, logPublisher}
	} else {
		b.publisher = logPublisher
	}
	return b, nil
}

// buildOwners declares the configured owner types and their collections.
func buildOwners(owners []config.OwnerConfig) *artifact.Owners {
	reg := artifact.NewOwners()
	for _, o := range owners {
		var opts []artifact.OwnerOption
		if len(o.One) > 0 {
			opts = append(opts, artifact.One(o.One...))
		}
		if len(o.Many) > 0 {
			opts = append(opts, artifact.Many(o.Many...))
		}
		reg.Register(o.Type, opts...)
	}
	return reg
}

// newLogger builds the slog handler selected by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
