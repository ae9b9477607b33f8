package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID is the pg_advisory_lock key held while migrating.
const migrationLockID = 0x61727466 // "artf"

// Migrator applies the embedded SQL migrations to PostgreSQL.
type Migrator struct {
	pool *pgxpool.Pool
}

// NewMigrator creates a new Migrator.
func NewMigrator(pool *pgxpool.Pool) *Migrator {
	return &Migrator{pool: pool}
}

// Versions returns the embedded migration versions in apply order.
func Versions() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(entry.Name(), ".sql"))
	}
	sort.Strings(versions)
	return versions, nil
}

// Migrate applies every migration not yet recorded in
// artifact_schema_migrations, each in its own transaction. Concurrent
// instances serialize on an advisory lock.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = m.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS artifact_schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create artifact_schema_migrations table: %w", err)
	}

	applied := map[string]bool{}
	rows, err := m.pool.Query(ctx, `SELECT version FROM artifact_schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	versions, err := Versions()
	if err != nil {
		return err
	}
	for _, version := range versions {
		if applied[version] {
			continue
		}
		if err := m.apply(ctx, version); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, version string) error {
	content, err := fs.ReadFile(migrationsFS, path.Join("migrations", version+".sql"))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO artifact_schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}
