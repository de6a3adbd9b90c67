package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/cors"
)

const metaOpTimeout = 10 * time.Second

// encodedMetaKey marks objects whose payload was gzip-transcoded on upload.
const encodedMetaKey = "Encoded"

// PutOptions describe the object written by Put.
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	Encoded         bool
}

// ObjectMeta is the subset of remote object metadata the pipelines need.
type ObjectMeta struct {
	ContentType string
	Encoded     bool
	Size        int64
}

// Store is the remote blob-store boundary backed by MinIO. Local metadata is
// the source of truth for existence; the remote store only owns the bytes.
type Store struct {
	client *minio.Client
	urlTTL time.Duration
}

// NewStore wraps a MinIO client. urlTTL bounds the lifetime of public URLs.
func NewStore(client *minio.Client, urlTTL time.Duration) *Store {
	return &Store{client: client, urlTTL: urlTTL}
}

// CreateBucket physically creates the remote bucket and attaches the fixed
// cross-origin policy allowing GET and OPTIONS from any origin.
func (s *Store) CreateBucket(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, metaOpTimeout)
	defer cancel()

	if err := s.client.MakeBucket(ctx, identifier, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create remote bucket %q: %w", identifier, err)
	}

	corsCfg := &cors.Config{
		CORSRules: []cors.Rule{
			{
				AllowedOrigin: []string{"*"},
				AllowedMethod: []string{http.MethodGet},
				AllowedHeader: []string{"*"},
				MaxAgeSeconds: 3600,
			},
		},
	}
	if err := s.client.SetBucketCors(ctx, identifier, corsCfg); err != nil {
		return fmt.Errorf("set cors on bucket %q: %w", identifier, err)
	}
	return nil
}

// RemoveBucket deletes the remote bucket. An already-absent bucket is not an
// error.
func (s *Store) RemoveBucket(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, metaOpTimeout)
	defer cancel()

	if err := s.client.RemoveBucket(ctx, identifier); err != nil && !IsNotFound(err) {
		return fmt.Errorf("remove remote bucket %q: %w", identifier, err)
	}
	return nil
}

// Put streams the reader into the remote object. The write is unsized so a
// slow remote sink throttles upstream reads.
func (s *Store) Put(ctx context.Context, bucket, object string, r io.Reader, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
	}
	if opts.Encoded {
		putOpts.UserMetadata = map[string]string{encodedMetaKey: "true"}
	}

	if _, err := s.client.PutObject(ctx, bucket, object, r, -1, putOpts); err != nil {
		return fmt.Errorf("write remote object %s/%s: %w", bucket, object, err)
	}
	return nil
}

// Open returns a streaming reader over the remote object's stored bytes.
func (s *Store) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open remote object %s/%s: %w", bucket, object, err)
	}
	return obj, nil
}

// Stat fetches the remote object's metadata.
func (s *Store) Stat(ctx context.Context, bucket, object string) (ObjectMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, metaOpTimeout)
	defer cancel()

	info, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("stat remote object %s/%s: %w", bucket, object, err)
	}

	return ObjectMeta{
		ContentType: info.ContentType,
		Encoded:     info.UserMetadata[encodedMetaKey] == "true",
		Size:        info.Size,
	}, nil
}

// RemoveObject deletes the remote object, tolerating an already-absent one.
func (s *Store) RemoveObject(ctx context.Context, bucket, object string) error {
	ctx, cancel := context.WithTimeout(ctx, metaOpTimeout)
	defer cancel()

	err := s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("remove remote object %s/%s: %w", bucket, object, err)
	}
	return nil
}

// PublicURL issues a time-limited read URL for the object.
func (s *Store) PublicURL(ctx context.Context, bucket, object string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, object, s.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, object, err)
	}
	return u.String(), nil
}

// IsNotFound reports whether err is the remote store's "already absent"
// answer, which every delete path treats as benign.
func IsNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}
