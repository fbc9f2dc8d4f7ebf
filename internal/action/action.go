// Package action implements the five checksum actions (metaonly, fileonly,
// get, inget, verify), composing the checksum engine, the metadata record
// codec, and the object-store facade.
package action

import (
	"bytes"
	"context"
	"log"
	"time"

	"github.com/snafus/cephsum-server/internal/cksrecord"
	"github.com/snafus/cephsum-server/internal/cksum"
	"github.com/snafus/cephsum-server/internal/debug"
	"github.com/snafus/cephsum-server/internal/errs"
	"github.com/snafus/cephsum-server/internal/objstore"
)

// Actions composes the object-store facade into the five checksum
// actions. Clock is overridable for deterministic tests; it defaults to
// time.Now.
type Actions struct {
	Store *objstore.Store
	Clock func() time.Time
}

// New returns Actions backed by store.
func New(store *objstore.Store) *Actions {
	return &Actions{Store: store, Clock: time.Now}
}

func (a *Actions) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now()
}

// Metaonly reads and decodes the checksum record stored as an xattr, with
// no file access. A missing object maps to KindNotFound; an existing
// object with no stored record maps to KindNoMetadata.
func (a *Actions) Metaonly(ctx context.Context, pool, object, xattrKey string) (*cksrecord.Record, error) {
	raw, err := a.Store.GetXattr(ctx, pool, object, xattrKey)
	if err != nil {
		return nil, err
	}
	rec, err := cksrecord.Decode(raw)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Fileonly computes the checksum directly from file content, never
// touching stored metadata beyond the striper layout xattrs used to
// determine the expected total size. Fails with KindTruncation if the
// number of bytes actually read disagrees with the striper-reported total
// size.
func (a *Actions) Fileonly(ctx context.Context, pool, object string, readBlockSize int64, xattrKey string) (*cksrecord.Record, error) {
	info, err := a.Store.Stat(ctx, pool, object)
	if err != nil {
		return nil, err
	}

	objSize, totalSize, numStripes, _, striperOK, err := a.Store.StriperInfo(ctx, pool, object)
	if err != nil {
		return nil, err
	}

	engine := cksum.New()
	for r := range a.Store.ReadFile(ctx, pool, object, readBlockSize, objSize, numStripes, striperOK) {
		if r.Err != nil {
			return nil, r.Err
		}
		engine.Fold(r.Data)
		if debug.Enabled() {
			log.Printf("action: folded %d bytes from %s/%s (running total %d)", len(r.Data), pool, object, engine.BytesRead())
		}
	}

	if striperOK && engine.BytesRead() != totalSize {
		return nil, errs.New(errs.KindTruncation, "mismatch in bytes read vs striped total size")
	}

	fmTime := info.ModTime
	csTime := a.now().Sub(fmTime)
	return cksrecord.New("adler32", fmTime, csTime, engine.Hex())
}

// Get tries Metaonly first; on a not-present result, falls back to
// Fileonly. Never writes back to storage.
func (a *Actions) Get(ctx context.Context, pool, object string, readBlockSize int64, xattrKey string) (*cksrecord.Record, error) {
	rec, err := a.Metaonly(ctx, pool, object, xattrKey)
	if err == nil {
		return rec, nil
	}
	if !isAbsent(err) {
		return nil, err
	}
	return a.Fileonly(ctx, pool, object, readBlockSize, xattrKey)
}

// Inget (alias check) returns the checksum record, persisting it to
// storage if it had to be computed from the file, and normalizing a
// big-endian-stored record back to little-endian. A concurrent writer
// race on the initial write is resolved by treating KindAlreadyExists as
// success: the record is re-read rather than propagated as a failure.
func (a *Actions) Inget(ctx context.Context, pool, object string, readBlockSize int64, xattrKey string) (*cksrecord.Record, error) {
	rec, err := a.Metaonly(ctx, pool, object, xattrKey)
	if err == nil {
		if rec.ReadFormat == "big" {
			if encoded, encErr := rec.Encode(); encErr == nil {
				_ = a.Store.SetXattr(ctx, pool, object, xattrKey, encoded, true)
			}
		}
		return rec, nil
	}
	if !isAbsent(err) {
		return nil, err
	}

	rec, err = a.Fileonly(ctx, pool, object, readBlockSize, xattrKey)
	if err != nil {
		return nil, err
	}
	encoded, err := rec.Encode()
	if err != nil {
		return nil, err
	}
	if writeErr := a.Store.SetXattr(ctx, pool, object, xattrKey, encoded, false); writeErr != nil {
		if errs.Is(writeErr, errs.KindAlreadyExists) {
			return a.Metaonly(ctx, pool, object, xattrKey)
		}
		return nil, writeErr
	}
	return rec, nil
}

// VerifyResult is the outcome of a Verify action.
type VerifyResult struct {
	Matched  bool
	Metadata *cksrecord.Record // nil if no stored metadata existed
	File     *cksrecord.Record // nil if the file digest was not computed
}

// Verify compares the stored checksum record against a freshly-computed
// one. If no metadata exists and forceFileRead is false, the file is not
// read and the result is an unconditional mismatch.
func (a *Actions) Verify(ctx context.Context, pool, object string, readBlockSize int64, xattrKey string, forceFileRead bool) (*VerifyResult, error) {
	metaRec, metaErr := a.Metaonly(ctx, pool, object, xattrKey)
	metaPresent := metaErr == nil
	if metaErr != nil && !isAbsent(metaErr) {
		return nil, metaErr
	}

	var fileRec *cksrecord.Record
	if metaPresent || forceFileRead {
		var err error
		fileRec, err = a.Fileonly(ctx, pool, object, readBlockSize, xattrKey)
		if err != nil {
			return nil, err
		}
	}

	matched := metaPresent && fileRec != nil && bytes.Equal(metaRec.Value, fileRec.Value)

	result := &VerifyResult{Matched: matched, File: fileRec}
	if metaPresent {
		result.Metadata = metaRec
	}
	return result, nil
}

func isAbsent(err error) bool {
	return errs.Is(err, errs.KindNoMetadata) || errs.Is(err, errs.KindNotFound)
}
