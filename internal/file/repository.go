package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const fileColumns = `id, identifier, bucket_id, bucket_name, owner, name, size,
num_downloads, is_public, public_url, mime_type, parent_id, meta, created_at, updated_at`

// Repository provides access to file metadata storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores metadata for a new file.
func (r *Repository) Insert(ctx context.Context, entry Entry) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (id, identifier, bucket_id, bucket_name, owner, name, size, is_public, public_url, mime_type, parent_id, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + fileColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		entry.ID, entry.Identifier, entry.BucketID, entry.BucketName, entry.Owner,
		entry.Name, entry.Size, entry.IsPublic, entry.PublicURL, entry.MimeType,
		entry.ParentID, entry.Meta)

	stored, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("insert file metadata: %w", err)
	}
	return stored, nil
}

// GetByID fetches one file entry.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1;`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrFileNotFound
		}
		return Entry{}, fmt.Errorf("get file metadata: %w", err)
	}
	return entry, nil
}

// GetByIdentifier fetches a file by its remote object key. A nil entry means
// no match.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE identifier = $1;`, identifier)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get file by identifier: %w", err)
	}
	return &entry, nil
}

// Find lists files matching the query, newest first. BucketID and BucketName
// are OR-ed together so files recorded under either key match.
func (r *Repository) Find(ctx context.Context, q Query) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}

	if q.BucketID != uuid.Nil && q.BucketName != "" {
		args = append(args, q.BucketID, q.BucketName)
		conds = append(conds, fmt.Sprintf("(bucket_id = $%d OR bucket_name = $%d)", len(args)-1, len(args)))
	} else if q.BucketID != uuid.Nil {
		add("bucket_id =", q.BucketID)
	} else if q.BucketName != "" {
		add("bucket_name =", q.BucketName)
	}
	if q.Owner != "" {
		add("owner =", q.Owner)
	}
	if q.Name != "" {
		add("name =", q.Name)
	}
	if len(q.IDs) > 0 {
		args = append(args, q.IDs)
		conds = append(conds, fmt.Sprintf("id = ANY($%d)", len(args)))
	}

	query := `SELECT ` + fileColumns + ` FROM files`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC;"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find files: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file metadata: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return entries, nil
}

// Delete removes one metadata row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SetPublicURL records the public URL issued for the file.
func (r *Repository) SetPublicURL(ctx context.Context, id uuid.UUID, url string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE files SET public_url = $2, is_public = TRUE, updated_at = NOW() WHERE id = $1;`, id, url)
	if err != nil {
		return fmt.Errorf("set public url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// SetMeta replaces the file's opaque attribute bag.
func (r *Repository) SetMeta(ctx context.Context, id uuid.UUID, meta json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE files SET meta = $2, updated_at = NOW() WHERE id = $1;`, id, meta)
	if err != nil {
		return fmt.Errorf("set file meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

// IncrementDownloads atomically bumps the download counter.
func (r *Repository) IncrementDownloads(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE files SET num_downloads = num_downloads + 1, updated_at = NOW() WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var entry Entry
	err := row.Scan(&entry.ID, &entry.Identifier, &entry.BucketID, &entry.BucketName,
		&entry.Owner, &entry.Name, &entry.Size, &entry.NumDownloads, &entry.IsPublic,
		&entry.PublicURL, &entry.MimeType, &entry.ParentID, &entry.Meta,
		&entry.CreatedAt, &entry.UpdatedAt)
	return entry, err
}
