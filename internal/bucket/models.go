package bucket

import (
	"time"

	"github.com/google/uuid"
)

// Entry is the local metadata for one bucket, paired 1:1 with a remote
// bucket addressed by Identifier. Names are unique per owner only; the
// identifier is globally unique.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	MemoryUsed int64     `json:"memory_used"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Query selects buckets for listing or batch removal. Zero fields match
// everything; Pattern is a substring match on the name.
type Query struct {
	Owner      string
	Name       string
	Identifier string
	Pattern    string
}
