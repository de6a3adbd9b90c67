package file

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is the local metadata for one uploaded object. Identifier is the
// remote object key; the registries are the source of truth for existence,
// the remote store for bytes.
type Entry struct {
	ID           uuid.UUID       `json:"id"`
	Identifier   string          `json:"identifier"`
	BucketID     uuid.UUID       `json:"bucket_id"`
	BucketName   string          `json:"bucket_name"`
	Owner        string          `json:"owner"`
	Name         string          `json:"name"`
	Size         int64           `json:"size"`
	NumDownloads int64           `json:"num_downloads"`
	IsPublic     bool            `json:"is_public"`
	PublicURL    string          `json:"public_url,omitempty"`
	MimeType     string          `json:"mime_type"`
	// ParentID is a weak back-reference to another entry. Removing the
	// parent does not cascade here.
	ParentID  *uuid.UUID      `json:"parent_file,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Query selects files for listing or batch removal. Zero fields match
// everything. BucketID and BucketName are OR-ed, matching files recorded
// under either key.
type Query struct {
	Owner      string
	BucketID   uuid.UUID
	BucketName string
	Name       string
	IDs        []uuid.UUID
}
