// Package objstore is the facade over a striped object store: a logical
// object is split across chunk0..chunkN, named by a 16-hex-digit suffix,
// with metadata (checksum records, striper layout) carried as extended
// attributes on chunk zero.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by a Backend when the requested object
// (chunk) does not exist.
var ErrObjectNotFound = errors.New("objstore: object not found")

// ErrXattrNotSet is returned by a Backend when the object exists but the
// requested extended attribute has not been set.
var ErrXattrNotSet = errors.New("objstore: xattr not set")

// ErrXattrExists is returned by SetXattr when overwrite is false and the
// attribute is already present.
var ErrXattrExists = errors.New("objstore: xattr already exists")

// Info is the subset of object metadata the facade needs.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Backend is the storage primitive the facade is built on, modeled on an
// S3-style object API: a chunk is one object, and its extended attributes
// are carried as object user-metadata. Production deployments back this
// with an S3-compatible store (built by NewS3Backend); tests use
// MemBackend.
type Backend interface {
	// Stat returns size and modification time for oid in pool.
	Stat(ctx context.Context, pool, oid string) (Info, error)
	// GetXattr returns the raw value of an extended attribute.
	GetXattr(ctx context.Context, pool, oid, key string) ([]byte, error)
	// SetXattr sets an extended attribute. If overwrite is false and the
	// attribute is already set, it returns ErrXattrExists.
	SetXattr(ctx context.Context, pool, oid, key string, value []byte, overwrite bool) error
	// RemoveXattr deletes an extended attribute, if present.
	RemoveXattr(ctx context.Context, pool, oid, key string) error
	// ReadAt reads up to length bytes at offset from oid. A short read
	// (fewer bytes than length, including zero) signals end of object.
	ReadAt(ctx context.Context, pool, oid string, offset, length int64) ([]byte, error)
}

// PooledBackend is a Backend that also satisfies pool.Resource (a bare
// Close() error method), letting the connection pool (internal/objstore/pool)
// hold backend handles directly rather than a separate handle type.
type PooledBackend interface {
	Backend
	Close() error
}
