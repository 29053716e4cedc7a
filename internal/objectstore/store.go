// Package objectstore defines the thin capability interface the pipeline
// needs from a remote blob store, plus an S3-compatible implementation and
// an in-memory implementation for tests.
//
// The interface is intentionally narrow: list-with-prefix, get, put,
// conditional create, delete, and head. Cross-key transactions are never
// assumed; create-if-absent and delete are the strongest primitives.
package objectstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrAlreadyExists indicates a conditional create lost to an existing object.
	ErrAlreadyExists = errors.New("object already exists")
)

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the capability surface the pipeline requires from the object store.
type Store interface {
	// List returns all objects under prefix. Placeholder keys ending in "/"
	// are excluded. Pagination is handled internally.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Get downloads an object's full payload.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put uploads payload under key, overwriting any existing object.
	Put(ctx context.Context, key string, payload []byte) error
	// PutIfAbsent uploads payload only when key does not already exist,
	// returning ErrAlreadyExists otherwise.
	PutIfAbsent(ctx context.Context, key string, payload []byte) error
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Head returns object metadata, or ErrNotFound.
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Download streams an object to a local file, creating parent directories.
	Download(ctx context.Context, key, localPath string) error
	// Upload streams a local file to an object key.
	Upload(ctx context.Context, localPath, key string) error
}
