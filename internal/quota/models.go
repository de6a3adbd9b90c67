package quota

import "time"

// StorageStats is the per-user quota ledger row: how much memory and how many
// API calls the user has been allocated and has consumed.
type StorageStats struct {
	User              string    `json:"user"`
	MemoryAllocated   int64     `json:"memory_allocated"`
	MemoryUsed        int64     `json:"memory_used"`
	APICallsAllocated int64     `json:"api_calls_allocated"`
	APICallsUsed      int64     `json:"api_calls_used"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// StatsPatch carries an administrative absolute-set of one or more counters.
// Nil fields are left untouched.
type StatsPatch struct {
	MemoryAllocated   *int64 `json:"memory_allocated,omitempty"`
	MemoryUsed        *int64 `json:"memory_used,omitempty"`
	APICallsAllocated *int64 `json:"api_calls_allocated,omitempty"`
	APICallsUsed      *int64 `json:"api_calls_used,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p StatsPatch) Empty() bool {
	return p.MemoryAllocated == nil && p.MemoryUsed == nil &&
		p.APICallsAllocated == nil && p.APICallsUsed == nil
}
