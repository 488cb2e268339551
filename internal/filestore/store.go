// Package filestore defines the unified interface for remote file storage
// backends. All providers (MinIO today) implement the Store interface;
// callers depend only on this package — never on a specific provider
// package.
package filestore

import "context"

// Store is the single interface all file storage providers must implement.
// Ingestion only ever reads from remote storage.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// ListObjects returns the objects in bucket that match opts.
	// Virtual directory entries (common prefixes) are included when
	// opts.Recursive is false.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)
}
