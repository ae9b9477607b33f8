package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a SQLite database at dbPath with WAL
// journaling and a busy timeout suitable for concurrent request handlers.
func OpenSQLite(dbPath string, maxConns int) (*sql.DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if maxConns <= 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dbPath, err)
	}
	return db, nil
}

// sqliteTimeFormat is fixed width so created_at sorts lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteArtifactStore implements ArtifactStore on a SQLite database.
type SQLiteArtifactStore struct {
	db *sql.DB
}

// NewSQLiteArtifactStore creates the artifacts table if needed and returns a
// store backed by db.
func NewSQLiteArtifactStore(ctx context.Context, db *sql.DB) (*SQLiteArtifactStore, error) {
	s := &SQLiteArtifactStore{db: db}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteArtifactStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS artifacts (
			id          TEXT    PRIMARY KEY,
			name        TEXT    NOT NULL,
			file_name   TEXT    NOT NULL,
			mime_type   TEXT    NOT NULL,
			path        TEXT    NOT NULL,
			disk        TEXT    NOT NULL,
			file_hash   TEXT    NOT NULL,
			collection  TEXT    NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0,
			owner_type  TEXT    NOT NULL,
			owner_id    TEXT    NOT NULL,
			created_at  TEXT    NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_disk_path ON artifacts(disk, path);
		CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_type, owner_id, collection);
	`)
	if err != nil {
		return fmt.Errorf("create artifacts table: %w", err)
	}
	return nil
}

func (s *SQLiteArtifactStore) Create(ctx context.Context, a *Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, name, file_name, mime_type, path, disk, file_hash,
			collection, size, owner_type, owner_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Name, a.FileName, a.MimeType, a.Path, a.Disk, a.Hash,
		a.Collection, a.Size, a.Owner.Type, a.Owner.ID,
		a.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteArtifactStore) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, file_name, mime_type, path, disk, file_hash,
			collection, size, owner_type, owner_id, created_at
		 FROM artifacts WHERE id = ?`, id.String())
	a, err := scanSQLiteArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	return a, nil
}

func (s *SQLiteArtifactStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteArtifactStore) List(ctx context.Context, f ArtifactFilter) ([]*Artifact, error) {
	query := `SELECT id, name, file_name, mime_type, path, disk, file_hash,
			collection, size, owner_type, owner_id, created_at
		 FROM artifacts`
	var (
		conds []string
		args  []any
	)
	if f.OwnerType != "" {
		conds = append(conds, "owner_type = ?")
		args = append(args, f.OwnerType)
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Collection != "" {
		conds = append(conds, "collection = ?")
		args = append(args, f.Collection)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var result []*Artifact
	for rows.Next() {
		a, err := scanSQLiteArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return result, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteArtifact(sc sqlScanner) (*Artifact, error) {
	var (
		a         Artifact
		id        string
		createdAt string
	)
	if err := sc.Scan(&id, &a.Name, &a.FileName, &a.MimeType, &a.Path, &a.Disk, &a.Hash,
		&a.Collection, &a.Size, &a.Owner.Type, &a.Owner.ID, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse artifact id %q: %w", id, err)
	}
	a.ID = parsed
	a.CreatedAt, err = time.Parse(sqliteTimeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return &a, nil
}

func isSQLiteConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}
