package file

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/event"
)

// wires a real bucket service on top of the shared fakes, with the file
// service as its cascade target
func newFlowEnv(t *testing.T) (*testEnv, *bucket.Service) {
	t.Helper()
	env := newTestEnv()
	buckets := bucket.NewService(env.buckets, env.remote, env.ledger, env.service,
		env.journal, event.NewHub(), zap.NewNop())
	return env, buckets
}

func TestBucketFileLifecycleScenario(t *testing.T) {
	env, buckets := newFlowEnv(t)
	ctx := context.Background()

	env.ledger.create("alice", 500_000_000, 20_000)
	stats := env.ledger.get("alice")
	require.EqualValues(t, 0, stats.MemoryUsed)
	require.EqualValues(t, 0, stats.APICallsUsed)
	require.EqualValues(t, 500_000_000, stats.MemoryAllocated)
	require.EqualValues(t, 20_000, stats.APICallsAllocated)

	created, err := buckets.Create(ctx, "pics", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, created.Identifier)
	assert.NotEqual(t, created.Name, created.Identifier)
	assert.EqualValues(t, 0, created.MemoryUsed)

	entry, err := env.service.UploadStream(ctx, UploadPart{
		Name:        "photo.bin",
		ContentType: "application/octet-stream",
		Reader:      bytes.NewReader(make([]byte, 1024)),
	}, created, "alice", true, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, entry.Size)
	assert.True(t, entry.IsPublic)

	stats = env.ledger.get("alice")
	// bucket create spent one call, the upload another plus the bytes
	assert.EqualValues(t, 1024, stats.MemoryUsed)
	assert.EqualValues(t, 2, stats.APICallsUsed)

	removed, err := env.service.RemoveFilesByBucket(ctx, created.ID, created.Name)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	left, err := env.service.List(ctx, Query{BucketID: created.ID})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCascadingBucketDelete(t *testing.T) {
	env, buckets := newFlowEnv(t)
	ctx := context.Background()

	env.ledger.create("alice", 500_000_000, 20_000)
	created, err := buckets.Create(ctx, "cascade", "alice")
	require.NoError(t, err)

	for _, name := range []string{"f1", "f2"} {
		_, err := env.service.UploadStream(ctx, UploadPart{
			Name:        name,
			ContentType: "application/octet-stream",
			Reader:      bytes.NewReader(make([]byte, 256)),
		}, created, "alice", false, nil)
		require.NoError(t, err)
	}

	removed, err := buckets.Remove(ctx, bucket.Query{Owner: "alice", Name: "cascade"})
	require.NoError(t, err)
	require.Equal(t, []string{created.Identifier}, removed)

	files, err := env.service.List(ctx, Query{BucketID: created.ID})
	require.NoError(t, err)
	assert.Empty(t, files, "cascade must empty the bucket's files")

	entries, err := buckets.List(ctx, bucket.Query{Owner: "alice"})
	require.NoError(t, err)
	assert.Empty(t, entries, "bucket entry must be gone after cascade")

	assert.Zero(t, env.journal.pendingCount(), "all journal entries must complete")
}

func TestDuplicateBucketNamePerOwner(t *testing.T) {
	env, buckets := newFlowEnv(t)
	ctx := context.Background()

	env.ledger.create("alice", 500_000_000, 20_000)
	env.ledger.create("bob", 500_000_000, 20_000)

	_, err := buckets.Create(ctx, "x", "alice")
	require.NoError(t, err)

	_, err = buckets.Create(ctx, "x", "alice")
	assert.ErrorIs(t, err, bucket.ErrBucketNameExists)

	// the same name is fine for a different owner
	_, err = buckets.Create(ctx, "x", "bob")
	assert.NoError(t, err)
}

func TestLookupByIdentifierAndByOwnerName(t *testing.T) {
	env, buckets := newFlowEnv(t)
	ctx := context.Background()

	env.ledger.create("alice", 500_000_000, 20_000)
	created, err := buckets.Create(ctx, "shared-name", "alice")
	require.NoError(t, err)

	byIdent, err := buckets.Lookup(ctx, created.Identifier, "")
	require.NoError(t, err)
	require.NotNil(t, byIdent)
	assert.Equal(t, created.ID, byIdent.ID)

	byName, err := buckets.Lookup(ctx, "shared-name", "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, created.ID, byName.ID)

	missing, err := buckets.Lookup(ctx, "no-such-bucket", "")
	require.NoError(t, err)
	assert.Nil(t, missing, "lookup misses are nil, not errors")
}
