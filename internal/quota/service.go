package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loftdrive/loft/internal/config"
)

type statsStore interface {
	Insert(ctx context.Context, stats StorageStats) (StorageStats, error)
	Get(ctx context.Context, user string) (StorageStats, error)
	AddUsage(ctx context.Context, user string, memoryDelta, callsDelta int64) error
	Apply(ctx context.Context, user string, patch StatsPatch) (StorageStats, error)
	Delete(ctx context.Context, user string) error
}

// Ledger gates every storage mutation against the user's counters.
//
// CanUpload is a check only; the matching counter commit happens after the
// remote write succeeds, so two concurrent uploads that each pass the check
// can jointly exceed the allocation. The limit is a soft one.
type Ledger struct {
	store    statsStore
	defaults config.QuotaConfig
}

// NewLedger constructs a quota ledger with the configured default allocations.
func NewLedger(store statsStore, defaults config.QuotaConfig) *Ledger {
	return &Ledger{store: store, defaults: defaults}
}

// CreateUserStats inserts a fresh ledger row with default allocations. It
// fails with ErrStatsExists when a row is already present.
func (l *Ledger) CreateUserStats(ctx context.Context, user string) (StorageStats, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return StorageStats{}, fmt.Errorf("user required")
	}

	return l.store.Insert(ctx, StorageStats{
		User:              user,
		MemoryAllocated:   l.defaults.MemoryAllocated,
		APICallsAllocated: l.defaults.APICallsAllocated,
	})
}

// EnsureUserStats creates the user's ledger row if it is absent. Used by
// account registration, where an already-present row is not an error.
func (l *Ledger) EnsureUserStats(ctx context.Context, user string) error {
	_, err := l.CreateUserStats(ctx, user)
	if errors.Is(err, ErrStatsExists) {
		return nil
	}
	return err
}

// DropUserStats removes the user's ledger row, tolerating absence. Used by
// account deletion.
func (l *Ledger) DropUserStats(ctx context.Context, user string) error {
	err := l.store.Delete(ctx, user)
	if errors.Is(err, ErrStatsNotFound) {
		return nil
	}
	return err
}

// GetUserStats returns the user's ledger row.
func (l *Ledger) GetUserStats(ctx context.Context, user string) (StorageStats, error) {
	return l.store.Get(ctx, user)
}

// CanUpload checks whether an upload of byteCount bytes fits within the
// user's memory and call allocations, returning the stats snapshot it read.
func (l *Ledger) CanUpload(ctx context.Context, user string, byteCount int64) (StorageStats, error) {
	stats, err := l.store.Get(ctx, user)
	if err != nil {
		return StorageStats{}, err
	}

	if stats.MemoryUsed+byteCount >= stats.MemoryAllocated {
		return StorageStats{}, fmt.Errorf("%w: storage limit reached (%d of %d bytes used)",
			ErrQuotaExceeded, stats.MemoryUsed, stats.MemoryAllocated)
	}
	if stats.APICallsUsed+1 >= stats.APICallsAllocated {
		return StorageStats{}, fmt.Errorf("%w: API call limit reached (%d of %d calls used)",
			ErrQuotaExceeded, stats.APICallsUsed, stats.APICallsAllocated)
	}
	return stats, nil
}

// WithinAPILimit reports whether the user may spend one more API call.
func (l *Ledger) WithinAPILimit(ctx context.Context, user string) (bool, error) {
	stats, err := l.store.Get(ctx, user)
	if err != nil {
		return false, err
	}
	return stats.APICallsUsed+1 < stats.APICallsAllocated, nil
}

// IncrementAPI atomically adds one to the user's call counter.
func (l *Ledger) IncrementAPI(ctx context.Context, user string) error {
	return l.store.AddUsage(ctx, user, 0, 1)
}

// AddUsage atomically applies byte and call deltas to the user's counters.
// Negative deltas release usage; the store clamps counters at zero.
func (l *Ledger) AddUsage(ctx context.Context, user string, memoryDelta, callsDelta int64) error {
	return l.store.AddUsage(ctx, user, memoryDelta, callsDelta)
}

// UpdateStorage performs an administrative absolute-set of one or more
// counters. It fails with ErrStatsNotFound when no row matched.
func (l *Ledger) UpdateStorage(ctx context.Context, user string, patch StatsPatch) (StorageStats, error) {
	if patch.Empty() {
		return StorageStats{}, fmt.Errorf("no counters to update")
	}
	return l.store.Apply(ctx, user, patch)
}

// DeleteUserStats removes the user's ledger row when the account is removed.
func (l *Ledger) DeleteUserStats(ctx context.Context, user string) error {
	return l.store.Delete(ctx, user)
}
