package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Operation kinds journaled before their remote side effect runs.
const (
	KindBucketCreate = "bucket.create"
	KindBucketDelete = "bucket.delete"
	KindUpload       = "file.upload"
	KindFileDelete   = "file.delete"
)

const journalTimeout = 5 * time.Second

// Entry is one journaled intent. An entry still present after its operation
// should have finished marks an interrupted multi-step sequence.
type Entry struct {
	ID        int64
	Kind      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Journal persists operation intents in the outbox table. Writers call Begin
// before touching the remote store and Done after the local commit; whatever
// is left over is picked up by the recovery sweep.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal constructs a journal over the shared pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Begin records the intent to perform an operation and returns its id.
func (j *Journal) Begin(ctx context.Context, kind string, payload any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal outbox payload: %w", err)
	}

	var id int64
	err = j.pool.QueryRow(ctx,
		`INSERT INTO outbox (kind, payload) VALUES ($1, $2) RETURNING id;`, kind, raw).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert outbox entry: %w", err)
	}
	return id, nil
}

// Done discards a completed entry.
func (j *Journal) Done(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	if _, err := j.pool.Exec(ctx, `DELETE FROM outbox WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("complete outbox entry: %w", err)
	}
	return nil
}

// Pending returns entries older than the grace period, oldest first.
func (j *Journal) Pending(ctx context.Context, olderThan time.Duration) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	rows, err := j.pool.Query(ctx, `
SELECT id, kind, payload, created_at
FROM outbox
WHERE created_at < NOW() - make_interval(secs => $1)
ORDER BY id;`, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}
