package bucket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

const entryColumns = "id, identifier, name, owner, memory_used, created_at, updated_at"

// Repository persists bucket entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a bucket repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new bucket entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO buckets (id, identifier, name, owner, memory_used)
VALUES ($1, $2, $3, $4, 0)
RETURNING ` + entryColumns + `;`

	row := r.pool.QueryRow(ctx, query, entry.ID, entry.Identifier, entry.Name, entry.Owner)

	stored, err := scanEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Entry{}, ErrBucketNameExists
		}
		return Entry{}, fmt.Errorf("insert bucket: %w", err)
	}
	return stored, nil
}

// GetByID fetches a bucket by its local id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM buckets WHERE id = $1;`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrBucketNotFound
		}
		return Entry{}, fmt.Errorf("get bucket: %w", err)
	}
	return entry, nil
}

// GetByIdentifier fetches a bucket by its remote identifier. A nil entry
// means no match.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM buckets WHERE identifier = $1;`, identifier)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bucket by identifier: %w", err)
	}
	return &entry, nil
}

// GetByOwnerName fetches a bucket by owner and user-chosen name. A nil entry
// means no match.
func (r *Repository) GetByOwnerName(ctx context.Context, owner, name string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM buckets WHERE owner = $1 AND name = $2;`, owner, name)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bucket by name: %w", err)
	}
	return &entry, nil
}

// Find lists buckets matching the query, newest first.
func (r *Repository) Find(ctx context.Context, q Query) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if q.Owner != "" {
		add("owner =", q.Owner)
	}
	if q.Name != "" {
		add("name =", q.Name)
	}
	if q.Identifier != "" {
		add("identifier =", q.Identifier)
	}
	if q.Pattern != "" {
		add("name ILIKE", "%"+q.Pattern+"%")
	}

	query := `SELECT ` + entryColumns + ` FROM buckets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC;"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find buckets: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return entries, nil
}

// AddUsage atomically applies a byte delta to the bucket's usage counter,
// clamping at zero.
func (r *Repository) AddUsage(ctx context.Context, id uuid.UUID, delta int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE buckets
SET memory_used = GREATEST(memory_used + $2, 0),
    updated_at  = NOW()
WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("update bucket usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

// Delete removes a bucket entry.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM buckets WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBucketNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var entry Entry
	err := row.Scan(&entry.ID, &entry.Identifier, &entry.Name, &entry.Owner,
		&entry.MemoryUsed, &entry.CreatedAt, &entry.UpdatedAt)
	return entry, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
