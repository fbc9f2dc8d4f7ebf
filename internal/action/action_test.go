package action_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/action"
	"github.com/snafus/cephsum-server/internal/cksum"
	"github.com/snafus/cephsum-server/internal/errs"
	"github.com/snafus/cephsum-server/internal/objstore"
)

func hex16(n int) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = digits[n&0xf]
		n >>= 4
	}
	return string(out)
}

func newStoreWithObject(t *testing.T, pool, object string, data []byte, modTime time.Time) (*objstore.Store, *objstore.MemBackend) {
	t.Helper()
	mem := objstore.NewMemBackend()
	mem.PutObject(pool, object+"."+hex16(0), data, modTime)
	return objstore.New(mem, 0), mem
}

func TestMetaonlyAbsent(t *testing.T) {
	store, _ := newStoreWithObject(t, "pool", "obj", []byte("data"), time.Now())
	a := action.New(store)

	_, err := a.Metaonly(context.Background(), "pool", "obj", objstore.DefaultXattrKey)
	require.True(t, errs.Is(err, errs.KindNoMetadata))
}

func TestFileonlyComputesDigest(t *testing.T) {
	data := []byte("hello world")
	modTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store, _ := newStoreWithObject(t, "pool", "obj", data, modTime)
	a := action.New(store)
	a.Clock = func() time.Time { return modTime.Add(3 * time.Second) }

	rec, err := a.Fileonly(context.Background(), "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.NoError(t, err)

	engine := cksum.New()
	engine.Fold(data)
	require.Equal(t, engine.Hex(), rec.HexValue())
	require.Equal(t, 3*time.Second, rec.CSTime)
}

func TestFileonlyTruncationMismatch(t *testing.T) {
	data := []byte("hello world")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	ctx := context.Background()
	require.NoError(t, store.SetXattr(ctx, "pool", "obj", objstore.StriperObjectSizeXattr, []byte("1000"), false))
	require.NoError(t, store.SetXattr(ctx, "pool", "obj", objstore.StriperTotalSizeXattr, []byte("999999"), false))

	a := action.New(store)
	_, err := a.Fileonly(ctx, "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.True(t, errs.Is(err, errs.KindTruncation))
}

func TestGetFallsBackToFile(t *testing.T) {
	data := []byte("payload")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	a := action.New(store)

	rec, err := a.Get(context.Background(), "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.NoError(t, err)
	require.NotEmpty(t, rec.HexValue())
}

func TestGetPrefersMetadata(t *testing.T) {
	data := []byte("payload")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	ctx := context.Background()

	a := action.New(store)
	rec, err := a.Fileonly(ctx, "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.NoError(t, err)
	encoded, err := rec.Encode()
	require.NoError(t, err)
	require.NoError(t, store.SetXattr(ctx, "pool", "obj", objstore.DefaultXattrKey, encoded, false))

	got, err := a.Get(ctx, "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.NoError(t, err)
	require.Equal(t, rec.HexValue(), got.HexValue())
}

func TestIngetWritesBackOnFirstComputation(t *testing.T) {
	data := []byte("payload")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	ctx := context.Background()
	a := action.New(store)

	rec, err := a.Inget(ctx, "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.NoError(t, err)

	stored, err := a.Metaonly(ctx, "pool", "obj", objstore.DefaultXattrKey)
	require.NoError(t, err)
	require.Equal(t, rec.HexValue(), stored.HexValue())
}

func TestVerifyMatches(t *testing.T) {
	data := []byte("payload")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	ctx := context.Background()
	a := action.New(store)

	rec, err := a.Fileonly(ctx, "pool", "obj", 4096, objstore.DefaultXattrKey)
	require.NoError(t, err)
	encoded, err := rec.Encode()
	require.NoError(t, err)
	require.NoError(t, store.SetXattr(ctx, "pool", "obj", objstore.DefaultXattrKey, encoded, false))

	result, err := a.Verify(ctx, "pool", "obj", 4096, objstore.DefaultXattrKey, false)
	require.NoError(t, err)
	require.True(t, result.Matched)
}

func TestVerifyAbsentMetadataSkipsFileRead(t *testing.T) {
	data := []byte("payload")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	a := action.New(store)

	result, err := a.Verify(context.Background(), "pool", "obj", 4096, objstore.DefaultXattrKey, false)
	require.NoError(t, err)
	require.False(t, result.Matched)
	require.Nil(t, result.Metadata)
	require.Nil(t, result.File)
}

func TestVerifyAbsentMetadataForcesFileRead(t *testing.T) {
	data := []byte("payload")
	store, _ := newStoreWithObject(t, "pool", "obj", data, time.Now())
	a := action.New(store)

	result, err := a.Verify(context.Background(), "pool", "obj", 4096, objstore.DefaultXattrKey, true)
	require.NoError(t, err)
	require.False(t, result.Matched)
	require.Nil(t, result.Metadata)
	require.NotNil(t, result.File)
}
