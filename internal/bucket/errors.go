package bucket

import "errors"

var (
	// ErrBucketNotFound indicates the requested bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrBucketNameExists is returned when the owner already has a bucket of that name.
	ErrBucketNameExists = errors.New("bucket name already exists")
	// ErrInvalidName rejects empty or malformed bucket names.
	ErrInvalidName = errors.New("invalid bucket name")
)
