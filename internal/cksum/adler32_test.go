package cksum_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/cksum"
)

func TestEngineHexKnownValue(t *testing.T) {
	e := cksum.New()
	e.Fold([]byte("Wikipedia"))
	require.Equal(t, "11e60398", e.Hex())
	require.EqualValues(t, 9, e.BytesRead())
	require.Equal(t, 1, e.NumBuffers())
}

func TestEngineChunkingIndependence(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	whole := cksum.New()
	whole.Fold(data)

	chunked := cksum.New()
	for i := 0; i < len(data); i += 7 {
		end := i + 7
		if end > len(data) {
			end = len(data)
		}
		chunked.Fold(data[i:end])
	}

	require.Equal(t, whole.Hex(), chunked.Hex())
	require.Equal(t, whole.Uint32(), chunked.Uint32())
	require.EqualValues(t, len(data), chunked.BytesRead())
}

func TestEngineEmptyInput(t *testing.T) {
	e := cksum.New()
	require.Equal(t, "00000001", e.Hex())
	require.EqualValues(t, 0, e.BytesRead())
	require.Equal(t, 0, e.NumBuffers())
}

func TestSumFromChannel(t *testing.T) {
	ch := make(chan []byte, 3)
	ch <- []byte("foo")
	ch <- []byte("bar")
	ch <- []byte("baz")
	close(ch)

	digest, bytesRead, numBuffers := cksum.Sum(ch)
	require.Len(t, digest, 8)
	require.EqualValues(t, 9, bytesRead)
	require.Equal(t, 3, numBuffers)
}
