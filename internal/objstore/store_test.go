package objstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/errs"
	"github.com/snafus/cephsum-server/internal/objstore"
)

func seedObject(t *testing.T, mem *objstore.MemBackend, pool, object string, chunks [][]byte, modTime time.Time) {
	t.Helper()
	for i, data := range chunks {
		mem.PutObject(pool, object+"."+hex16(i), data, modTime)
	}
}

func hex16(n int) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = digits[n&0xf]
		n >>= 4
	}
	return string(out)
}

func TestStatNotFound(t *testing.T) {
	mem := objstore.NewMemBackend()
	store := objstore.New(mem, 0)
	_, err := store.Stat(context.Background(), "pool", "missing")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestGetXattrNoMetadata(t *testing.T) {
	mem := objstore.NewMemBackend()
	modTime := time.Now()
	seedObject(t, mem, "pool", "obj", [][]byte{[]byte("data")}, modTime)
	store := objstore.New(mem, 0)

	_, err := store.GetXattr(context.Background(), "pool", "obj", objstore.DefaultXattrKey)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindNoMetadata))
}

func TestSetGetRemoveXattr(t *testing.T) {
	mem := objstore.NewMemBackend()
	seedObject(t, mem, "pool", "obj", [][]byte{[]byte("data")}, time.Now())
	store := objstore.New(mem, 0)
	ctx := context.Background()

	require.NoError(t, store.SetXattr(ctx, "pool", "obj", "mykey", []byte("v1"), false))
	val, err := store.GetXattr(ctx, "pool", "obj", "mykey")
	require.NoError(t, err)
	require.Equal(t, "v1", string(val))

	err = store.SetXattr(ctx, "pool", "obj", "mykey", []byte("v2"), false)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindAlreadyExists))

	require.NoError(t, store.SetXattr(ctx, "pool", "obj", "mykey", []byte("v2"), true))
	val, err = store.GetXattr(ctx, "pool", "obj", "mykey")
	require.NoError(t, err)
	require.Equal(t, "v2", string(val))

	require.NoError(t, store.RemoveXattr(ctx, "pool", "obj", "mykey"))
	_, err = store.GetXattr(ctx, "pool", "obj", "mykey")
	require.True(t, errs.Is(err, errs.KindNoMetadata))
}

func TestStriperInfoComputesStripeCount(t *testing.T) {
	mem := objstore.NewMemBackend()
	seedObject(t, mem, "pool", "obj", [][]byte{[]byte("data")}, time.Now())
	store := objstore.New(mem, 0)
	ctx := context.Background()

	require.NoError(t, store.SetXattr(ctx, "pool", "obj", objstore.StriperObjectSizeXattr, []byte("1000"), false))
	require.NoError(t, store.SetXattr(ctx, "pool", "obj", objstore.StriperTotalSizeXattr, []byte("2500"), false))

	objSize, totalSize, numStripes, lastStripeSize, ok, err := store.StriperInfo(ctx, "pool", "obj")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1000, objSize)
	require.EqualValues(t, 2500, totalSize)
	require.Equal(t, 3, numStripes)
	require.EqualValues(t, 500, lastStripeSize)
}

func TestStriperInfoUnavailable(t *testing.T) {
	mem := objstore.NewMemBackend()
	seedObject(t, mem, "pool", "obj", [][]byte{[]byte("data")}, time.Now())
	store := objstore.New(mem, 0)

	_, _, _, _, ok, err := store.StriperInfo(context.Background(), "pool", "obj")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadFileAcrossChunksAndStripes(t *testing.T) {
	mem := objstore.NewMemBackend()
	chunk0 := make([]byte, 10)
	chunk1 := make([]byte, 4)
	for i := range chunk0 {
		chunk0[i] = byte(i)
	}
	for i := range chunk1 {
		chunk1[i] = byte(100 + i)
	}
	seedObject(t, mem, "pool", "obj", [][]byte{chunk0, chunk1}, time.Now())
	store := objstore.New(mem, 4) // small read block to force multiple reads per chunk

	ctx := context.Background()
	results := store.ReadFile(ctx, "pool", "obj", 4, 0, 0, false)

	var total []byte
	for r := range results {
		require.NoError(t, r.Err)
		total = append(total, r.Data...)
	}
	require.Equal(t, append(append([]byte{}, chunk0...), chunk1...), total)
}

func TestReadFileStopsAtKnownStripeCount(t *testing.T) {
	mem := objstore.NewMemBackend()
	chunk0 := []byte("abcd")
	chunk1 := []byte("efgh")
	seedObject(t, mem, "pool", "obj", [][]byte{chunk0, chunk1}, time.Now())
	store := objstore.New(mem, 0)

	ctx := context.Background()
	results := store.ReadFile(ctx, "pool", "obj", 64, 4, 1, true)

	var total []byte
	for r := range results {
		require.NoError(t, r.Err)
		total = append(total, r.Data...)
	}
	require.Equal(t, chunk0, total)
}
