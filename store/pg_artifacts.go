package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PGArtifactStore implements ArtifactStore backed by PostgreSQL using pgxpool.
// The schema is created by Migrator.
type PGArtifactStore struct {
	pool *pgxpool.Pool
}

// NewPGArtifactStore creates a new PGArtifactStore.
func NewPGArtifactStore(pool *pgxpool.Pool) *PGArtifactStore {
	return &PGArtifactStore{pool: pool}
}

const pgArtifactColumns = `id, name, file_name, mime_type, path, disk, file_hash,
	collection, size, owner_type, owner_id, created_at`

func (s *PGArtifactStore) Create(ctx context.Context, a *Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (`+pgArtifactColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Name, a.FileName, a.MimeType, a.Path, a.Disk, a.Hash,
		a.Collection, a.Size, a.Owner.Type, a.Owner.ID, a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PGArtifactStore) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgArtifactColumns+` FROM artifacts WHERE id = $1`, id)
	a, err := scanPGArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	return a, nil
}

func (s *PGArtifactStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGArtifactStore) List(ctx context.Context, f ArtifactFilter) ([]*Artifact, error) {
	query := `SELECT ` + pgArtifactColumns + ` FROM artifacts WHERE 1=1`
	var args []any
	if f.OwnerType != "" {
		args = append(args, f.OwnerType)
		query += fmt.Sprintf(" AND owner_type = $%d", len(args))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if f.Collection != "" {
		args = append(args, f.Collection)
		query += fmt.Sprintf(" AND collection = $%d", len(args))
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var result []*Artifact
	for rows.Next() {
		a, err := scanPGArtifact(rows)
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

func scanPGArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	err := row.Scan(&a.ID, &a.Name, &a.FileName, &a.MimeType, &a.Path, &a.Disk, &a.Hash,
		&a.Collection, &a.Size, &a.Owner.Type, &a.Owner.ID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
