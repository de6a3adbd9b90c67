package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/blob"
	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/event"
	"github.com/loftdrive/loft/internal/outbox"
	"github.com/loftdrive/loft/internal/quota"
)

type metadataStore interface {
	Insert(ctx context.Context, entry Entry) (Entry, error)
	GetByID(ctx context.Context, id uuid.UUID) (Entry, error)
	GetByIdentifier(ctx context.Context, identifier string) (*Entry, error)
	Find(ctx context.Context, q Query) ([]Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetPublicURL(ctx context.Context, id uuid.UUID, url string) error
	SetMeta(ctx context.Context, id uuid.UUID, meta json.RawMessage) error
	IncrementDownloads(ctx context.Context, id uuid.UUID) error
}

type bucketStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (bucket.Entry, error)
	AddUsage(ctx context.Context, id uuid.UUID, delta int64) error
}

type remoteStore interface {
	Put(ctx context.Context, bucketIdentifier, object string, r io.Reader, opts blob.PutOptions) error
	Open(ctx context.Context, bucketIdentifier, object string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucketIdentifier, object string) (blob.ObjectMeta, error)
	RemoveObject(ctx context.Context, bucketIdentifier, object string) error
	PublicURL(ctx context.Context, bucketIdentifier, object string) (string, error)
}

type ledger interface {
	CanUpload(ctx context.Context, user string, byteCount int64) (quota.StorageStats, error)
	AddUsage(ctx context.Context, user string, memoryDelta, callsDelta int64) error
}

type opJournal interface {
	Begin(ctx context.Context, kind string, payload any) (int64, error)
	Done(ctx context.Context, id int64) error
}

// Service is the file registry plus the upload, download, and file-deletion
// pipelines.
type Service struct {
	repo    metadataStore
	buckets bucketStore
	remote  remoteStore
	ledger  ledger
	journal opJournal
	events  event.Publisher
	log     *zap.Logger
}

// NewService constructs a file service.
func NewService(repo metadataStore, buckets bucketStore, remote remoteStore, ledger ledger,
	journal opJournal, events event.Publisher, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		buckets: buckets,
		remote:  remote,
		ledger:  ledger,
		journal: journal,
		events:  events,
		log:     log,
	}
}

// Get fetches one file entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns file entries matching the query.
func (s *Service) List(ctx context.Context, q Query) ([]Entry, error) {
	return s.repo.Find(ctx, q)
}

type deletePayload struct {
	FileID           uuid.UUID `json:"file_id"`
	Identifier       string    `json:"identifier"`
	BucketIdentifier string    `json:"bucket_identifier"`
}

// Delete runs the non-atomic file removal sequence: resolve the owning
// bucket, delete the remote object (tolerating an already-absent one),
// release the bucket's usage, drop the metadata row, then settle the owner's
// ledger. A failure partway through leaves earlier steps in effect; the
// journal entry lets the recovery sweep re-drive the rest.
func (s *Service) Delete(ctx context.Context, entry Entry) error {
	owning, err := s.buckets.GetByID(ctx, entry.BucketID)
	if err != nil {
		return err
	}

	journalID, err := s.journal.Begin(ctx, outbox.KindFileDelete, deletePayload{
		FileID:           entry.ID,
		Identifier:       entry.Identifier,
		BucketIdentifier: owning.Identifier,
	})
	if err != nil {
		return err
	}

	if err := s.remote.RemoveObject(ctx, owning.Identifier, entry.Identifier); err != nil {
		return err
	}

	if err := s.buckets.AddUsage(ctx, owning.ID, -entry.Size); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, entry.ID); err != nil {
		return err
	}

	if err := s.ledger.AddUsage(ctx, entry.Owner, -entry.Size, 1); err != nil {
		s.log.Warn("ledger settle failed after file delete",
			zap.String("owner", entry.Owner), zap.Error(err))
	}

	if err := s.journal.Done(ctx, journalID); err != nil {
		s.log.Warn("failed to complete journal entry", zap.Int64("id", journalID), zap.Error(err))
	}

	_ = s.events.Publish(ctx, event.Event{
		Type:    event.TypeFileRemoved,
		Owner:   entry.Owner,
		Payload: event.Marshal(map[string]string{"identifier": entry.Identifier, "name": entry.Name}),
	})
	return nil
}

// Remove deletes every file matching the query, sequentially, returning the
// identifiers removed before the first failure.
func (s *Service) Remove(ctx context.Context, q Query) ([]string, error) {
	entries, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if err := s.Delete(ctx, entry); err != nil {
			return removed, fmt.Errorf("remove file %s: %w", entry.Identifier, err)
		}
		removed = append(removed, entry.Identifier)
	}
	return removed, nil
}

// RemoveFilesByBucket empties a bucket, matching files by bucket id or by the
// recorded bucket name.
func (s *Service) RemoveFilesByBucket(ctx context.Context, bucketID uuid.UUID, bucketName string) ([]string, error) {
	return s.Remove(ctx, Query{BucketID: bucketID, BucketName: bucketName})
}

// RemoveFilesByID deletes the given entries, used to roll back a batch whose
// meta part turned out malformed.
func (s *Service) RemoveFilesByID(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.Remove(ctx, Query{IDs: ids})
}

// ApplyMeta validates the opaque attribute bag and applies it to every file
// of an upload batch. Malformed JSON fails with ErrMalformedMeta before any
// row is touched.
func (s *Service) ApplyMeta(ctx context.Context, ids []uuid.UUID, meta json.RawMessage) error {
	if !json.Valid(meta) {
		return ErrMalformedMeta
	}
	for _, id := range ids {
		if err := s.repo.SetMeta(ctx, id, meta); err != nil {
			return err
		}
	}
	return nil
}

// RecoverUpload reverses an interrupted upload: when no metadata row ever
// committed for the journaled object, the partial remote object is deleted.
func (s *Service) RecoverUpload(ctx context.Context, payload json.RawMessage) error {
	var p uploadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode upload payload: %w", err)
	}

	entry, err := s.repo.GetByIdentifier(ctx, p.Identifier)
	if err != nil {
		return err
	}
	if entry != nil {
		// commit finished, only the journal completion was lost
		return nil
	}
	return s.remote.RemoveObject(ctx, p.BucketIdentifier, p.Identifier)
}

// RecoverDelete re-drives an interrupted file removal. The remote delete
// tolerates absence, so replaying from the top is safe.
func (s *Service) RecoverDelete(ctx context.Context, payload json.RawMessage) error {
	var p deletePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode file delete payload: %w", err)
	}

	entry, err := s.repo.GetByID(ctx, p.FileID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			// local row already gone; make sure the remote side is too
			return s.remote.RemoveObject(ctx, p.BucketIdentifier, p.Identifier)
		}
		return err
	}
	return s.Delete(ctx, entry)
}
