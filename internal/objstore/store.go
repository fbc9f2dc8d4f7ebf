package objstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/snafus/cephsum-server/internal/errs"
)

const (
	// chunkZeroIndex is the stripe index carrying all per-object metadata.
	chunkZeroIndex = 0
	// StriperObjectSizeXattr and StriperTotalSizeXattr are the xattr keys
	// the striping layer publishes on chunk zero.
	StriperObjectSizeXattr = "striper.layout.object_size"
	StriperTotalSizeXattr  = "striper.size"
	// DefaultXattrKey is the name under which a checksum record is stored.
	DefaultXattrKey = "XrdCks.adler32"
)

// chunkName builds the 16-hex-digit-suffixed chunk object name.
func chunkName(object string, index int) string {
	return fmt.Sprintf("%s.%016x", object, index)
}

// Store is the object-store facade: stat/xattr/chunked-read primitives
// over an injected Backend, with striper-layout-aware chunk iteration.
type Store struct {
	backend       Backend
	readBlockSize int64
}

// New returns a Store backed by b, with a default read block size used
// when callers don't specify one.
func New(b Backend, readBlockSize int64) *Store {
	if readBlockSize <= 0 {
		readBlockSize = 64 * 1024 * 1024
	}
	return &Store{backend: b, readBlockSize: readBlockSize}
}

// ReadBlockSize returns the pool-wide default chunk read size.
func (s *Store) ReadBlockSize() int64 { return s.readBlockSize }

// Stat stats chunk zero of an object.
func (s *Store) Stat(ctx context.Context, pool, object string) (Info, error) {
	info, err := s.backend.Stat(ctx, pool, chunkName(object, chunkZeroIndex))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return Info{}, errs.Wrap(errs.KindNotFound, "stat "+object, err)
		}
		return Info{}, errs.Wrap(errs.KindNotFound, "stat "+object, err)
	}
	return info, nil
}

// GetXattr reads an extended attribute from chunk zero of object. A
// missing object maps to KindNotFound; an existing object with the
// attribute unset maps to KindNoMetadata.
func (s *Store) GetXattr(ctx context.Context, pool, object, key string) ([]byte, error) {
	val, err := s.backend.GetXattr(ctx, pool, chunkName(object, chunkZeroIndex), key)
	if err != nil {
		switch {
		case errors.Is(err, ErrObjectNotFound):
			return nil, errs.Wrap(errs.KindNotFound, "object not found: "+object, err)
		case errors.Is(err, ErrXattrNotSet):
			return nil, errs.Wrap(errs.KindNoMetadata, "no metadata for "+object, err)
		default:
			return nil, errs.Wrap(errs.KindNotFound, "get xattr "+key, err)
		}
	}
	return val, nil
}

// SetXattr writes an extended attribute on chunk zero of object.
// Overwrite=false and an existing attribute maps to KindAlreadyExists.
func (s *Store) SetXattr(ctx context.Context, pool, object, key string, value []byte, overwrite bool) error {
	err := s.backend.SetXattr(ctx, pool, chunkName(object, chunkZeroIndex), key, value, overwrite)
	if err != nil {
		if errors.Is(err, ErrXattrExists) {
			return errs.Wrap(errs.KindAlreadyExists, "xattr already set: "+key, err)
		}
		return errs.Wrap(errs.KindNotFound, "set xattr "+key, err)
	}
	return nil
}

// RemoveXattr deletes an extended attribute from chunk zero of object.
func (s *Store) RemoveXattr(ctx context.Context, pool, object, key string) error {
	if err := s.backend.RemoveXattr(ctx, pool, chunkName(object, chunkZeroIndex), key); err != nil {
		return errs.Wrap(errs.KindNotFound, "remove xattr "+key, err)
	}
	return nil
}

// StriperInfo reports the striper layout for an object: the per-chunk
// object size, the total logical file size, and the derived stripe count
// and last-stripe size. ok is false when either striper xattr is absent
// (e.g. an unstriped object), in which case callers fall back to reading
// chunks until one is missing.
func (s *Store) StriperInfo(ctx context.Context, pool, object string) (objectSize, totalSize int64, numStripes int, lastStripeSize int64, ok bool, err error) {
	objSizeRaw, err := s.GetXattr(ctx, pool, object, StriperObjectSizeXattr)
	if err != nil {
		if errs.Is(err, errs.KindNoMetadata) {
			return 0, 0, 0, 0, false, nil
		}
		return 0, 0, 0, 0, false, err
	}
	totalSizeRaw, err := s.GetXattr(ctx, pool, object, StriperTotalSizeXattr)
	if err != nil {
		if errs.Is(err, errs.KindNoMetadata) {
			return 0, 0, 0, 0, false, nil
		}
		return 0, 0, 0, 0, false, err
	}

	objectSize, err = strconv.ParseInt(string(objSizeRaw), 10, 64)
	if err != nil {
		return 0, 0, 0, 0, false, errs.Wrap(errs.KindBadPath, "invalid striper object size", err)
	}
	totalSize, err = strconv.ParseInt(string(totalSizeRaw), 10, 64)
	if err != nil {
		return 0, 0, 0, 0, false, errs.Wrap(errs.KindBadPath, "invalid striper total size", err)
	}
	if objectSize <= 0 {
		return 0, 0, 0, 0, false, errs.New(errs.KindBadPath, "striper object size must be positive")
	}

	numStripes = int(math.Ceil(float64(totalSize) / float64(objectSize)))
	lastStripeSize = totalSize % objectSize
	return objectSize, totalSize, numStripes, lastStripeSize, true, nil
}

// ChunkResult is one element of a chunked read: either a data buffer or a
// terminal error. A nil-error, empty-Data result never occurs; end of
// stream is signalled by the channel closing.
type ChunkResult struct {
	Data []byte
	Err  error
}

// ReadFile streams an object's bytes as a sequence of buffers, iterating
// chunk objects in order and, within each chunk, reading in readBlockSize
// increments (clipped to the striper's per-chunk size when known). The
// returned channel is closed after the last buffer or a single error
// result. If numStripes is known (striperOK), iteration stops after that
// many chunks; otherwise it stops at the first missing chunk.
func (s *Store) ReadFile(ctx context.Context, pool, object string, readBlockSize int64, stripeSizeBytes int64, numStripes int, striperOK bool) <-chan ChunkResult {
	out := make(chan ChunkResult)
	if readBlockSize <= 0 {
		readBlockSize = s.readBlockSize
	}
	go func() {
		defer close(out)
		for idx := 0; ; idx++ {
			if striperOK && idx == numStripes {
				return
			}
			oid := chunkName(object, idx)
			if _, err := s.backend.Stat(ctx, pool, oid); err != nil {
				if errors.Is(err, ErrObjectNotFound) {
					return
				}
				out <- ChunkResult{Err: errs.Wrap(errs.KindNotFound, "stat chunk "+oid, err)}
				return
			}
			if !s.readChunk(ctx, out, pool, oid, readBlockSize, stripeSizeBytes, striperOK) {
				return
			}
		}
	}()
	return out
}

func (s *Store) readChunk(ctx context.Context, out chan<- ChunkResult, pool, oid string, readBlockSize, stripeSizeBytes int64, striperOK bool) bool {
	readLength := readBlockSize
	if striperOK && stripeSizeBytes > 0 && stripeSizeBytes < readLength {
		readLength = stripeSizeBytes
	}
	var offset int64
	for {
		buf, err := s.backend.ReadAt(ctx, pool, oid, offset, readLength)
		if err != nil {
			out <- ChunkResult{Err: errs.Wrap(errs.KindBrokenPipe, "read "+oid, err)}
			return false
		}
		n := int64(len(buf))
		if n == 0 {
			return true
		}
		select {
		case out <- ChunkResult{Data: buf}:
		case <-ctx.Done():
			out <- ChunkResult{Err: errs.Wrap(errs.KindTimeout, "read cancelled", ctx.Err())}
			return false
		}
		offset += n
		if n < readLength {
			return true
		}
		if striperOK && stripeSizeBytes > 0 && offset >= stripeSizeBytes {
			return true
		}
	}
}
