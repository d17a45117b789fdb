// Package archive stores immutable snapshots of published records and closed
// history bundles as JSON objects in a blob backend: local filesystem for
// development, S3 or MinIO in production, process memory for tests.
package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method string        // GET only for now
	Expiry time.Duration // default 15m
}

// ObjectInfo describes a stored archive object.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the blob abstraction the archiver writes through. Objects are
// create-only: Put fails when the key exists, which keeps archived snapshots
// immutable.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (ObjectInfo, io.ReadCloser, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes an object. Returns (false, nil) when absent.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns objects under prefix, ordered by key ascending.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// PresignURL returns a time-limited GET URL, or ErrUnsupported.
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("archive: unsupported operation")

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
