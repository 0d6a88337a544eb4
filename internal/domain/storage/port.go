package storage

import "context"

// ObjectStore port for photo originals and thumbnails. Put returns the
// public URL of the stored object. Remove is best-effort at call sites:
// losing a stored file must never block a session mutation.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Fetch(ctx context.Context, key string) (data []byte, contentType string, err error)
	Remove(ctx context.Context, key string) error
}
