package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/loftdrive/loft/internal/config"
)

var testDefaults = config.QuotaConfig{
	MemoryAllocated:   500_000_000,
	APICallsAllocated: 20_000,
}

func TestCreateUserStatsAppliesDefaults(t *testing.T) {
	ledger := NewLedger(newFakeStatsStore(), testDefaults)

	stats, err := ledger.CreateUserStats(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateUserStats returned error: %v", err)
	}

	if stats.MemoryAllocated != 500_000_000 || stats.APICallsAllocated != 20_000 {
		t.Fatalf("unexpected allocations: %+v", stats)
	}
	if stats.MemoryUsed != 0 || stats.APICallsUsed != 0 {
		t.Fatalf("expected zero usage, got %+v", stats)
	}
}

func TestCreateUserStatsRejectsDuplicate(t *testing.T) {
	ledger := NewLedger(newFakeStatsStore(), testDefaults)

	if _, err := ledger.CreateUserStats(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ledger.CreateUserStats(context.Background(), "alice"); !errors.Is(err, ErrStatsExists) {
		t.Fatalf("expected ErrStatsExists, got %v", err)
	}
}

func TestCanUploadReturnsSnapshot(t *testing.T) {
	store := newFakeStatsStore()
	ledger := NewLedger(store, testDefaults)

	if _, err := ledger.CreateUserStats(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := ledger.CanUpload(context.Background(), "alice", 1024)
	if err != nil {
		t.Fatalf("CanUpload returned error: %v", err)
	}
	if stats.User != "alice" {
		t.Fatalf("expected snapshot for alice, got %+v", stats)
	}
}

func TestCanUploadMemoryExceeded(t *testing.T) {
	store := newFakeStatsStore()
	ledger := NewLedger(store, config.QuotaConfig{MemoryAllocated: 1000, APICallsAllocated: 100})

	if _, err := ledger.CreateUserStats(context.Background(), "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := ledger.CanUpload(context.Background(), "bob", 1000)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestCanUploadCallLimitExceeded(t *testing.T) {
	store := newFakeStatsStore()
	ledger := NewLedger(store, config.QuotaConfig{MemoryAllocated: 1 << 30, APICallsAllocated: 2})

	if _, err := ledger.CreateUserStats(context.Background(), "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ledger.IncrementAPI(context.Background(), "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := ledger.CanUpload(context.Background(), "bob", 10)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestAddUsageClampsAtZero(t *testing.T) {
	store := newFakeStatsStore()
	ledger := NewLedger(store, testDefaults)

	if _, err := ledger.CreateUserStats(context.Background(), "carol"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ledger.AddUsage(context.Background(), "carol", -500, -2); err != nil {
		t.Fatalf("AddUsage returned error: %v", err)
	}

	stats, err := ledger.GetUserStats(context.Background(), "carol")
	if err != nil {
		t.Fatalf("GetUserStats returned error: %v", err)
	}
	if stats.MemoryUsed != 0 || stats.APICallsUsed != 0 {
		t.Fatalf("expected clamped counters, got %+v", stats)
	}
}

func TestUpdateStorageAbsoluteSet(t *testing.T) {
	store := newFakeStatsStore()
	ledger := NewLedger(store, testDefaults)

	if _, err := ledger.CreateUserStats(context.Background(), "dave"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newLimit := int64(1 << 30)
	stats, err := ledger.UpdateStorage(context.Background(), "dave", StatsPatch{MemoryAllocated: &newLimit})
	if err != nil {
		t.Fatalf("UpdateStorage returned error: %v", err)
	}
	if stats.MemoryAllocated != newLimit {
		t.Fatalf("expected memory allocation %d, got %d", newLimit, stats.MemoryAllocated)
	}
}

func TestUpdateStorageMissingUser(t *testing.T) {
	ledger := NewLedger(newFakeStatsStore(), testDefaults)

	used := int64(1)
	if _, err := ledger.UpdateStorage(context.Background(), "ghost", StatsPatch{MemoryUsed: &used}); !errors.Is(err, ErrStatsNotFound) {
		t.Fatalf("expected ErrStatsNotFound, got %v", err)
	}
}

// --- fakes ----

type fakeStatsStore struct {
	rows map[string]StorageStats
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{rows: make(map[string]StorageStats)}
}

func (f *fakeStatsStore) Insert(ctx context.Context, stats StorageStats) (StorageStats, error) {
	if _, ok := f.rows[stats.User]; ok {
		return StorageStats{}, ErrStatsExists
	}
	f.rows[stats.User] = stats
	return stats, nil
}

func (f *fakeStatsStore) Get(ctx context.Context, user string) (StorageStats, error) {
	stats, ok := f.rows[user]
	if !ok {
		return StorageStats{}, ErrStatsNotFound
	}
	return stats, nil
}

func (f *fakeStatsStore) AddUsage(ctx context.Context, user string, memoryDelta, callsDelta int64) error {
	stats, ok := f.rows[user]
	if !ok {
		return ErrStatsNotFound
	}
	stats.MemoryUsed += memoryDelta
	if stats.MemoryUsed < 0 {
		stats.MemoryUsed = 0
	}
	stats.APICallsUsed += callsDelta
	if stats.APICallsUsed < 0 {
		stats.APICallsUsed = 0
	}
	f.rows[user] = stats
	return nil
}

func (f *fakeStatsStore) Apply(ctx context.Context, user string, patch StatsPatch) (StorageStats, error) {
	stats, ok := f.rows[user]
	if !ok {
		return StorageStats{}, ErrStatsNotFound
	}
	if patch.MemoryAllocated != nil {
		stats.MemoryAllocated = *patch.MemoryAllocated
	}
	if patch.MemoryUsed != nil {
		stats.MemoryUsed = *patch.MemoryUsed
	}
	if patch.APICallsAllocated != nil {
		stats.APICallsAllocated = *patch.APICallsAllocated
	}
	if patch.APICallsUsed != nil {
		stats.APICallsUsed = *patch.APICallsUsed
	}
	f.rows[user] = stats
	return stats, nil
}

func (f *fakeStatsStore) Delete(ctx context.Context, user string) error {
	if _, ok := f.rows[user]; !ok {
		return ErrStatsNotFound
	}
	delete(f.rows, user)
	return nil
}
