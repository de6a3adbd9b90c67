package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/loftdrive/loft/internal/blob"
	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/quota"
)

// --- metadata store ----

type fakeMetaStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]Entry
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{entries: make(map[uuid.UUID]Entry)}
}

func (f *fakeMetaStore) Insert(ctx context.Context, entry Entry) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ID] = entry
	return entry, nil
}

func (f *fakeMetaStore) GetByID(ctx context.Context, id uuid.UUID) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return Entry{}, ErrFileNotFound
	}
	return entry, nil
}

func (f *fakeMetaStore) GetByIdentifier(ctx context.Context, identifier string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.Identifier == identifier {
			e := entry
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeMetaStore) Find(ctx context.Context, q Query) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, entry := range f.entries {
		if q.Owner != "" && entry.Owner != q.Owner {
			continue
		}
		if q.Name != "" && entry.Name != q.Name {
			continue
		}
		if q.BucketID != uuid.Nil || q.BucketName != "" {
			if entry.BucketID != q.BucketID && (q.BucketName == "" || entry.BucketName != q.BucketName) {
				continue
			}
		}
		if len(q.IDs) > 0 {
			found := false
			for _, id := range q.IDs {
				if entry.ID == id {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (f *fakeMetaStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return ErrFileNotFound
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeMetaStore) SetPublicURL(ctx context.Context, id uuid.UUID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return ErrFileNotFound
	}
	entry.PublicURL = url
	entry.IsPublic = true
	f.entries[id] = entry
	return nil
}

func (f *fakeMetaStore) SetMeta(ctx context.Context, id uuid.UUID, meta json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return ErrFileNotFound
	}
	entry.Meta = meta
	f.entries[id] = entry
	return nil
}

func (f *fakeMetaStore) IncrementDownloads(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return ErrFileNotFound
	}
	entry.NumDownloads++
	f.entries[id] = entry
	return nil
}

// --- bucket store ----

type fakeBucketStore struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]bucket.Entry
}

func newFakeBucketStore() *fakeBucketStore {
	return &fakeBucketStore{buckets: make(map[uuid.UUID]bucket.Entry)}
}

func (f *fakeBucketStore) add(entry bucket.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[entry.ID] = entry
}

func (f *fakeBucketStore) GetByID(ctx context.Context, id uuid.UUID) (bucket.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.buckets[id]
	if !ok {
		return bucket.Entry{}, bucket.ErrBucketNotFound
	}
	return entry, nil
}

func (f *fakeBucketStore) AddUsage(ctx context.Context, id uuid.UUID, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.buckets[id]
	if !ok {
		return bucket.ErrBucketNotFound
	}
	entry.MemoryUsed += delta
	if entry.MemoryUsed < 0 {
		entry.MemoryUsed = 0
	}
	f.buckets[id] = entry
	return nil
}

// The registry-side methods let the same fake back a bucket.Service.

func (f *fakeBucketStore) Insert(ctx context.Context, entry bucket.Entry) (bucket.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.buckets {
		if existing.Owner == entry.Owner && existing.Name == entry.Name {
			return bucket.Entry{}, bucket.ErrBucketNameExists
		}
	}
	f.buckets[entry.ID] = entry
	return entry, nil
}

func (f *fakeBucketStore) GetByIdentifier(ctx context.Context, identifier string) (*bucket.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.buckets {
		if entry.Identifier == identifier {
			e := entry
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeBucketStore) GetByOwnerName(ctx context.Context, owner, name string) (*bucket.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.buckets {
		if entry.Owner == owner && entry.Name == name {
			e := entry
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeBucketStore) Find(ctx context.Context, q bucket.Query) ([]bucket.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bucket.Entry
	for _, entry := range f.buckets {
		if q.Owner != "" && entry.Owner != q.Owner {
			continue
		}
		if q.Name != "" && entry.Name != q.Name {
			continue
		}
		if q.Identifier != "" && entry.Identifier != q.Identifier {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (f *fakeBucketStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[id]; !ok {
		return bucket.ErrBucketNotFound
	}
	delete(f.buckets, id)
	return nil
}

// --- ledger ----

type fakeLedger struct {
	mu    sync.Mutex
	stats map[string]quota.StorageStats
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{stats: make(map[string]quota.StorageStats)}
}

func (f *fakeLedger) create(user string, memory, calls int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[user] = quota.StorageStats{
		User:              user,
		MemoryAllocated:   memory,
		APICallsAllocated: calls,
	}
}

func (f *fakeLedger) get(user string) quota.StorageStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[user]
}

func (f *fakeLedger) CanUpload(ctx context.Context, user string, byteCount int64) (quota.StorageStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats, ok := f.stats[user]
	if !ok {
		return quota.StorageStats{}, quota.ErrStatsNotFound
	}
	if stats.MemoryUsed+byteCount >= stats.MemoryAllocated {
		return quota.StorageStats{}, fmt.Errorf("%w: storage limit reached", quota.ErrQuotaExceeded)
	}
	if stats.APICallsUsed+1 >= stats.APICallsAllocated {
		return quota.StorageStats{}, fmt.Errorf("%w: API call limit reached", quota.ErrQuotaExceeded)
	}
	return stats, nil
}

func (f *fakeLedger) AddUsage(ctx context.Context, user string, memoryDelta, callsDelta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats, ok := f.stats[user]
	if !ok {
		return quota.ErrStatsNotFound
	}
	stats.MemoryUsed += memoryDelta
	if stats.MemoryUsed < 0 {
		stats.MemoryUsed = 0
	}
	stats.APICallsUsed += callsDelta
	if stats.APICallsUsed < 0 {
		stats.APICallsUsed = 0
	}
	f.stats[user] = stats
	return nil
}

func (f *fakeLedger) IncrementAPI(ctx context.Context, user string) error {
	return f.AddUsage(ctx, user, 0, 1)
}

// --- remote store ----

type fakeRemote struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	options map[string]blob.PutOptions
	removed []string
	failURL bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		buckets: make(map[string]bool),
		objects: make(map[string][]byte),
		options: make(map[string]blob.PutOptions),
	}
}

func objectKey(bucketIdentifier, object string) string {
	return bucketIdentifier + "/" + object
}

func (f *fakeRemote) CreateBucket(ctx context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[identifier] = true
	return nil
}

func (f *fakeRemote) RemoveBucket(ctx context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// absent bucket is tolerated, mirroring the 404 rule
	delete(f.buckets, identifier)
	return nil
}

func (f *fakeRemote) Put(ctx context.Context, bucketIdentifier, object string, r io.Reader, opts blob.PutOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		// a partial object may be left behind, like an aborted remote write
		f.mu.Lock()
		f.objects[objectKey(bucketIdentifier, object)] = data
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey(bucketIdentifier, object)] = data
	f.options[objectKey(bucketIdentifier, object)] = opts
	return nil
}

func (f *fakeRemote) Open(ctx context.Context, bucketIdentifier, object string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey(bucketIdentifier, object)]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeRemote) Stat(ctx context.Context, bucketIdentifier, object string) (blob.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(bucketIdentifier, object)
	data, ok := f.objects[key]
	if !ok {
		return blob.ObjectMeta{}, errors.New("object not found")
	}
	opts := f.options[key]
	return blob.ObjectMeta{
		ContentType: opts.ContentType,
		Encoded:     opts.Encoded,
		Size:        int64(len(data)),
	}, nil
}

func (f *fakeRemote) RemoveObject(ctx context.Context, bucketIdentifier, object string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(bucketIdentifier, object)
	// absent object is tolerated, mirroring the 404 rule
	delete(f.objects, key)
	delete(f.options, key)
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeRemote) PublicURL(ctx context.Context, bucketIdentifier, object string) (string, error) {
	if f.failURL {
		return "", errors.New("presign failed")
	}
	return "https://blobs.example/" + objectKey(bucketIdentifier, object), nil
}

func (f *fakeRemote) hasObject(bucketIdentifier, object string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[objectKey(bucketIdentifier, object)]
	return ok
}

func (f *fakeRemote) objectBytes(bucketIdentifier, object string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[objectKey(bucketIdentifier, object)]
}

// --- journal ----

type fakeJournal struct {
	mu      sync.Mutex
	next    int64
	pending map[int64]string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{pending: make(map[int64]string)}
}

func (f *fakeJournal) Begin(ctx context.Context, kind string, payload any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.pending[f.next] = kind
	return f.next, nil
}

func (f *fakeJournal) Done(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	return nil
}

func (f *fakeJournal) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// --- response sink ----

type sinkRecorder struct {
	bytes.Buffer
	headers map[string]string
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{headers: make(map[string]string)}
}

func (s *sinkRecorder) Header(key, value string) {
	s.headers[key] = value
}

// failingReader errors partway through the stream.
type failingReader struct {
	data []byte
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		n := copy(p, f.data)
		return n, nil
	}
	return 0, errors.New("source stream broke")
}
