package file

import "errors"

var (
	// ErrFileNotFound indicates the requested file entry does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrMalformedMeta rejects a batch whose meta part is not valid JSON.
	ErrMalformedMeta = errors.New("malformed meta attributes")
)
