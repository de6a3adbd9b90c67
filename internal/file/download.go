package file

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/metrics"
)

// ResponseSink is the streaming response the download pipeline writes into.
// Headers must be set before the first Write.
type ResponseSink interface {
	io.Writer
	Header(key, value string)
}

// Download streams the file into the sink, re-encoding on the fly to match
// the client's accepted encodings. The stored object's gzip flag comes from
// its remote metadata; a stat failure is terminal. Every path streams with
// bounded memory.
//
// A raw-stored object requested by a gzip-accepting client is passed through
// uncompressed with no Content-Encoding header; only deflate is produced on
// the fly from raw objects.
func (s *Service) Download(ctx context.Context, acceptEncoding string, sink ResponseSink, entry Entry) error {
	owning, err := s.buckets.GetByID(ctx, entry.BucketID)
	if err != nil {
		return err
	}

	meta, err := s.remote.Stat(ctx, owning.Identifier, entry.Identifier)
	if err != nil {
		return err
	}

	rc, err := s.remote.Open(ctx, owning.Identifier, entry.Identifier)
	if err != nil {
		return err
	}
	defer rc.Close()

	acceptsGzip := strings.Contains(acceptEncoding, "gzip")
	acceptsDeflate := strings.Contains(acceptEncoding, "deflate")

	sink.Header("Content-Type", entry.MimeType)

	written, err := s.streamBody(sink, rc, meta.Encoded, acceptsGzip, acceptsDeflate, entry.Size)
	if err != nil {
		return fmt.Errorf("stream %s: %w", entry.Identifier, err)
	}

	metrics.DownloadsTotal.Inc()
	metrics.BytesDownloaded.Add(float64(written))

	if err := s.repo.IncrementDownloads(ctx, entry.ID); err != nil {
		s.log.Warn("download counter increment failed",
			zap.String("file", entry.ID.String()), zap.Error(err))
	}
	return nil
}

// streamBody selects one of the six stored-encoding/accepted-encoding paths.
// Content-Length is advertised only when the bytes on the wire are the
// identity-encoded payload whose size the entry records.
func (s *Service) streamBody(sink ResponseSink, rc io.Reader, storedGzip, acceptsGzip, acceptsDeflate bool, size int64) (int64, error) {
	switch {
	case storedGzip && acceptsGzip:
		sink.Header("Content-Encoding", "gzip")
		return io.Copy(sink, rc)

	case storedGzip && acceptsDeflate:
		sink.Header("Content-Encoding", "deflate")
		gzr, err := gzip.NewReader(rc)
		if err != nil {
			return 0, err
		}
		defer gzr.Close()
		return deflateInto(sink, gzr)

	case storedGzip:
		sink.Header("Content-Length", strconv.FormatInt(size, 10))
		gzr, err := gzip.NewReader(rc)
		if err != nil {
			return 0, err
		}
		defer gzr.Close()
		return io.Copy(sink, gzr)

	case acceptsGzip:
		// raw object for a gzip-accepting client: passed through as-is,
		// no Content-Encoding header, no on-the-fly compression
		sink.Header("Content-Length", strconv.FormatInt(size, 10))
		return io.Copy(sink, rc)

	case acceptsDeflate:
		sink.Header("Content-Encoding", "deflate")
		return deflateInto(sink, rc)

	default:
		sink.Header("Content-Length", strconv.FormatInt(size, 10))
		return io.Copy(sink, rc)
	}
}

func deflateInto(sink io.Writer, src io.Reader) (int64, error) {
	fw, err := flate.NewWriter(sink, flate.DefaultCompression)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(fw, src)
	if cerr := fw.Close(); err == nil {
		err = cerr
	}
	return n, err
}
