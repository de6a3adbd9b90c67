package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/event"
	"github.com/loftdrive/loft/internal/outbox"
)

type bucketStore interface {
	Insert(ctx context.Context, entry Entry) (Entry, error)
	GetByIdentifier(ctx context.Context, identifier string) (*Entry, error)
	GetByOwnerName(ctx context.Context, owner, name string) (*Entry, error)
	Find(ctx context.Context, q Query) ([]Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type remoteStore interface {
	CreateBucket(ctx context.Context, identifier string) error
	RemoveBucket(ctx context.Context, identifier string) error
}

type ledger interface {
	IncrementAPI(ctx context.Context, user string) error
}

// fileCascader empties a bucket before the bucket itself is removed.
type fileCascader interface {
	RemoveFilesByBucket(ctx context.Context, bucketID uuid.UUID, bucketName string) ([]string, error)
}

type opJournal interface {
	Begin(ctx context.Context, kind string, payload any) (int64, error)
	Done(ctx context.Context, id int64) error
}

// Service is the bucket registry and the deletion orchestrator. Remote and
// local state are reconciled by step ordering plus the operation journal;
// there are no cross-store transactions.
type Service struct {
	repo    bucketStore
	remote  remoteStore
	ledger  ledger
	files   fileCascader
	journal opJournal
	events  event.Publisher
	log     *zap.Logger
}

// NewService constructs a bucket service.
func NewService(repo bucketStore, remote remoteStore, ledger ledger, files fileCascader,
	journal opJournal, events event.Publisher, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		remote:  remote,
		ledger:  ledger,
		files:   files,
		journal: journal,
		events:  events,
		log:     log,
	}
}

type createPayload struct {
	Identifier string `json:"identifier"`
}

type removePayload struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
}

// Create registers a bucket for the owner: a fresh remote bucket keyed by a
// generated identifier, then the local metadata row. The remote bucket is not
// rolled back when the local insert fails; the journal entry left behind lets
// the recovery sweep remove the orphan.
func (s *Service) Create(ctx context.Context, name, owner string) (Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, ErrInvalidName
	}

	if existing, err := s.repo.GetByOwnerName(ctx, owner, name); err != nil {
		return Entry{}, err
	} else if existing != nil {
		return Entry{}, ErrBucketNameExists
	}

	identifier := newIdentifier()

	journalID, err := s.journal.Begin(ctx, outbox.KindBucketCreate, createPayload{Identifier: identifier})
	if err != nil {
		return Entry{}, err
	}

	if err := s.remote.CreateBucket(ctx, identifier); err != nil {
		_ = s.journal.Done(ctx, journalID)
		return Entry{}, err
	}

	entry, err := s.repo.Insert(ctx, Entry{
		ID:         uuid.New(),
		Identifier: identifier,
		Name:       name,
		Owner:      owner,
	})
	if err != nil {
		return Entry{}, err
	}

	if err := s.ledger.IncrementAPI(ctx, owner); err != nil {
		s.log.Warn("api counter increment failed after bucket create",
			zap.String("owner", owner), zap.Error(err))
	}

	if err := s.journal.Done(ctx, journalID); err != nil {
		s.log.Warn("failed to complete journal entry", zap.Int64("id", journalID), zap.Error(err))
	}

	_ = s.events.Publish(ctx, event.Event{
		Type:    event.TypeBucketCreated,
		Owner:   owner,
		Payload: event.Marshal(entry),
	})

	return entry, nil
}

// Lookup resolves a bucket either by its opaque identifier (owner empty) or
// by owner and user-chosen name. A nil entry with nil error means no match.
func (s *Service) Lookup(ctx context.Context, identifierOrName, owner string) (*Entry, error) {
	if owner != "" {
		return s.repo.GetByOwnerName(ctx, owner, identifierOrName)
	}
	return s.repo.GetByIdentifier(ctx, identifierOrName)
}

// List returns buckets matching the query.
func (s *Service) List(ctx context.Context, q Query) ([]Entry, error) {
	return s.repo.Find(ctx, q)
}

// Remove cascades deletion over every bucket matching the query, one bucket
// at a time so at most one remote call per bucket is in flight. The first
// failure aborts the batch; buckets already removed stay removed. The removed
// identifiers are returned and announced in a single event after the batch.
func (s *Service) Remove(ctx context.Context, q Query) ([]string, error) {
	entries, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if err := s.removeOne(ctx, entry); err != nil {
			return removed, fmt.Errorf("remove bucket %s: %w", entry.Identifier, err)
		}
		removed = append(removed, entry.Identifier)
	}

	if len(removed) > 0 {
		owner := entries[0].Owner
		_ = s.events.Publish(ctx, event.Event{
			Type:    event.TypeBucketRemoved,
			Owner:   owner,
			Payload: event.Marshal(map[string]any{"identifiers": removed}),
		})
	}

	return removed, nil
}

func (s *Service) removeOne(ctx context.Context, entry Entry) error {
	journalID, err := s.journal.Begin(ctx, outbox.KindBucketDelete, removePayload{
		ID:         entry.ID,
		Identifier: entry.Identifier,
		Name:       entry.Name,
		Owner:      entry.Owner,
	})
	if err != nil {
		return err
	}

	if _, err := s.files.RemoveFilesByBucket(ctx, entry.ID, entry.Name); err != nil {
		return err
	}

	if err := s.remote.RemoveBucket(ctx, entry.Identifier); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, entry.ID); err != nil {
		return err
	}

	if err := s.ledger.IncrementAPI(ctx, entry.Owner); err != nil {
		s.log.Warn("api counter increment failed after bucket remove",
			zap.String("owner", entry.Owner), zap.Error(err))
	}

	if err := s.journal.Done(ctx, journalID); err != nil {
		s.log.Warn("failed to complete journal entry", zap.Int64("id", journalID), zap.Error(err))
	}
	return nil
}

// RecoverCreate reverses an interrupted bucket creation: when no local row
// ever committed for the journaled identifier, the orphan remote bucket is
// deleted.
func (s *Service) RecoverCreate(ctx context.Context, payload json.RawMessage) error {
	var p createPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode bucket create payload: %w", err)
	}

	entry, err := s.repo.GetByIdentifier(ctx, p.Identifier)
	if err != nil {
		return err
	}
	if entry != nil {
		// creation committed, only the journal completion was lost
		return nil
	}
	return s.remote.RemoveBucket(ctx, p.Identifier)
}

// RecoverRemove re-drives an interrupted bucket removal. Every step tolerates
// already-deleted state, so replaying from the top is safe.
func (s *Service) RecoverRemove(ctx context.Context, payload json.RawMessage) error {
	var p removePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode bucket remove payload: %w", err)
	}

	entry, err := s.repo.GetByIdentifier(ctx, p.Identifier)
	if err != nil {
		return err
	}
	if entry == nil {
		// local row already gone; make sure the remote side is too
		return s.remote.RemoveBucket(ctx, p.Identifier)
	}

	if _, err := s.files.RemoveFilesByBucket(ctx, entry.ID, entry.Name); err != nil {
		return err
	}
	if err := s.remote.RemoveBucket(ctx, entry.Identifier); err != nil {
		return err
	}
	return s.repo.Delete(ctx, entry.ID)
}

// newIdentifier generates the globally-unique remote bucket key. It is
// distinct from the user-chosen name and safe as an S3 bucket name.
func newIdentifier() string {
	return "loft-" + uuid.NewString()
}
