package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

// Repository persists ledger rows in the user_stats table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a quota repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert creates the user's ledger row.
func (r *Repository) Insert(ctx context.Context, stats StorageStats) (StorageStats, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO user_stats (user_id, memory_allocated, memory_used, api_calls_allocated, api_calls_used)
VALUES ($1, $2, 0, $3, 0)
RETURNING user_id, memory_allocated, memory_used, api_calls_allocated, api_calls_used, created_at, updated_at;`

	row := r.pool.QueryRow(ctx, query, stats.User, stats.MemoryAllocated, stats.APICallsAllocated)

	var stored StorageStats
	if err := row.Scan(&stored.User, &stored.MemoryAllocated, &stored.MemoryUsed,
		&stored.APICallsAllocated, &stored.APICallsUsed, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return StorageStats{}, ErrStatsExists
		}
		return StorageStats{}, fmt.Errorf("insert user stats: %w", err)
	}
	return stored, nil
}

// Get fetches the user's ledger row.
func (r *Repository) Get(ctx context.Context, user string) (StorageStats, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT user_id, memory_allocated, memory_used, api_calls_allocated, api_calls_used, created_at, updated_at
FROM user_stats
WHERE user_id = $1;`

	var stats StorageStats
	err := r.pool.QueryRow(ctx, query, user).Scan(&stats.User, &stats.MemoryAllocated,
		&stats.MemoryUsed, &stats.APICallsAllocated, &stats.APICallsUsed, &stats.CreatedAt, &stats.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StorageStats{}, ErrStatsNotFound
		}
		return StorageStats{}, fmt.Errorf("get user stats: %w", err)
	}
	return stats, nil
}

// AddUsage applies counter deltas in a single atomic update, clamping at zero
// so concurrent decrements never drive a counter negative.
func (r *Repository) AddUsage(ctx context.Context, user string, memoryDelta, callsDelta int64) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE user_stats
SET memory_used    = GREATEST(memory_used + $2, 0),
    api_calls_used = GREATEST(api_calls_used + $3, 0),
    updated_at     = NOW()
WHERE user_id = $1;`

	tag, err := r.pool.Exec(ctx, query, user, memoryDelta, callsDelta)
	if err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatsNotFound
	}
	return nil
}

// Apply absolute-sets the non-nil counters of the patch.
func (r *Repository) Apply(ctx context.Context, user string, patch StatsPatch) (StorageStats, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE user_stats
SET memory_allocated    = COALESCE($2, memory_allocated),
    memory_used         = COALESCE($3, memory_used),
    api_calls_allocated = COALESCE($4, api_calls_allocated),
    api_calls_used      = COALESCE($5, api_calls_used),
    updated_at          = NOW()
WHERE user_id = $1
RETURNING user_id, memory_allocated, memory_used, api_calls_allocated, api_calls_used, created_at, updated_at;`

	var stats StorageStats
	err := r.pool.QueryRow(ctx, query, user,
		patch.MemoryAllocated, patch.MemoryUsed, patch.APICallsAllocated, patch.APICallsUsed).
		Scan(&stats.User, &stats.MemoryAllocated, &stats.MemoryUsed,
			&stats.APICallsAllocated, &stats.APICallsUsed, &stats.CreatedAt, &stats.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StorageStats{}, ErrStatsNotFound
		}
		return StorageStats{}, fmt.Errorf("apply stats patch: %w", err)
	}
	return stats, nil
}

// Delete removes the user's ledger row.
func (r *Repository) Delete(ctx context.Context, user string) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM user_stats WHERE user_id = $1;`, user)
	if err != nil {
		return fmt.Errorf("delete user stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatsNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
