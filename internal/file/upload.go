package file

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/blob"
	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/event"
	"github.com/loftdrive/loft/internal/metrics"
	"github.com/loftdrive/loft/internal/outbox"
)

// UploadPart is one incoming file stream with its declared attributes.
// DeclaredSize may be zero when the client did not announce a length.
type UploadPart struct {
	Name         string
	ContentType  string
	DeclaredSize int64
	Reader       io.Reader
}

type uploadPayload struct {
	Identifier       string `json:"identifier"`
	BucketIdentifier string `json:"bucket_identifier"`
}

// UploadStream ingests one part into the bucket: quota gate, remote streaming
// write with optional gzip transcoding, then metadata and ledger commit. The
// quota check and the later counter commit are separate steps, so concurrent
// uploads may jointly exceed the allocation. The only inline compensation is
// removal of the partial remote object when the source stream fails; every
// other partial state is left to the journal recovery sweep.
func (s *Service) UploadStream(ctx context.Context, part UploadPart, bkt bucket.Entry,
	user string, makePublic bool, parent *uuid.UUID) (Entry, error) {

	if _, err := s.ledger.CanUpload(ctx, user, part.DeclaredSize); err != nil {
		metrics.QuotaRejections.Inc()
		return Entry{}, err
	}

	identifier := uuid.NewString()
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	journalID, err := s.journal.Begin(ctx, outbox.KindUpload, uploadPayload{
		Identifier:       identifier,
		BucketIdentifier: bkt.Identifier,
	})
	if err != nil {
		return Entry{}, err
	}

	counter := &countingReader{r: part.Reader}

	var putErr error
	if isCompressible(contentType) {
		putErr = s.putCompressed(ctx, bkt.Identifier, identifier, contentType, counter)
	} else {
		putErr = s.remote.Put(ctx, bkt.Identifier, identifier, counter,
			blob.PutOptions{ContentType: contentType})
	}
	if putErr != nil {
		// drop whatever partial object made it to the remote store
		if err := s.remote.RemoveObject(ctx, bkt.Identifier, identifier); err != nil {
			s.log.Warn("failed to clean up partial object",
				zap.String("object", identifier), zap.Error(err))
		}
		if err := s.journal.Done(ctx, journalID); err != nil {
			s.log.Warn("failed to complete journal entry", zap.Int64("id", journalID), zap.Error(err))
		}
		return Entry{}, fmt.Errorf("upload %q: %w", part.Name, putErr)
	}

	size := counter.n

	if err := s.buckets.AddUsage(ctx, bkt.ID, size); err != nil {
		return Entry{}, err
	}
	if err := s.ledger.AddUsage(ctx, user, size, 1); err != nil {
		return Entry{}, err
	}

	entry, err := s.repo.Insert(ctx, Entry{
		ID:         uuid.New(),
		Identifier: identifier,
		BucketID:   bkt.ID,
		BucketName: bkt.Name,
		Owner:      user,
		Name:       part.Name,
		Size:       size,
		IsPublic:   makePublic,
		MimeType:   contentType,
		ParentID:   parent,
	})
	if err != nil {
		return Entry{}, err
	}

	if makePublic {
		url, err := s.remote.PublicURL(ctx, bkt.Identifier, identifier)
		if err != nil {
			// the metadata row is already committed at this point
			return Entry{}, fmt.Errorf("make %q public: %w", part.Name, err)
		}
		if err := s.repo.SetPublicURL(ctx, entry.ID, url); err != nil {
			return Entry{}, err
		}
		entry.PublicURL = url
	}

	if err := s.journal.Done(ctx, journalID); err != nil {
		s.log.Warn("failed to complete journal entry", zap.Int64("id", journalID), zap.Error(err))
	}

	metrics.UploadsTotal.Inc()
	metrics.BytesUploaded.Add(float64(size))

	_ = s.events.Publish(ctx, event.Event{
		Type:    event.TypeFileCreated,
		Owner:   user,
		Payload: event.Marshal(entry),
	})

	return entry, nil
}

// putCompressed pipes the source through a gzip stage into the remote write.
// The pipe gives natural backpressure: a slow remote sink throttles upstream
// reads, so memory stays bounded regardless of payload size.
func (s *Service) putCompressed(ctx context.Context, bucketIdentifier, object, contentType string, src io.Reader) error {
	pr, pw := io.Pipe()

	go func() {
		gz := gzip.NewWriter(pw)
		_, copyErr := io.Copy(gz, src)
		closeErr := gz.Close()
		if copyErr != nil {
			pw.CloseWithError(copyErr)
			return
		}
		pw.CloseWithError(closeErr)
	}()

	return s.remote.Put(ctx, bucketIdentifier, object, pr, blob.PutOptions{
		ContentType:     contentType,
		ContentEncoding: "gzip",
		Encoded:         true,
	})
}

// isCompressible reports whether a payload of this MIME type is worth gzip
// transcoding before the remote write.
func isCompressible(contentType string) bool {
	if mediaType, _, found := strings.Cut(contentType, ";"); found {
		contentType = strings.TrimSpace(mediaType)
	}
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch contentType {
	case "application/json",
		"application/javascript",
		"application/xml",
		"application/xhtml+xml",
		"image/svg+xml":
		return true
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
