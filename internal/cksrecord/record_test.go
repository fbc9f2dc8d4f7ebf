package cksrecord_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snafus/cephsum-server/internal/cksrecord"
)

func TestRoundTripLittleEndian(t *testing.T) {
	fm := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	rec, err := cksrecord.New("adler32", fm, 2*time.Second, "0b1f028e")
	require.NoError(t, err)

	encoded, err := rec.Encode()
	require.NoError(t, err)
	require.Len(t, encoded, cksrecord.Size)

	decoded, err := cksrecord.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "adler32", decoded.Name)
	require.Equal(t, "0b1f028e", decoded.HexValue())
	require.Equal(t, fm.Unix(), decoded.FMTime.Unix())
	require.Equal(t, 2*time.Second, decoded.CSTime)
	require.Equal(t, "little", decoded.ReadFormat)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := cksrecord.Decode(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeBigEndianFallback(t *testing.T) {
	fm := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	rec, err := cksrecord.New("adler32", fm, time.Second, "deadbeef")
	require.NoError(t, err)

	little, err := rec.Encode()
	require.NoError(t, err)

	// Byte-swap the 8-byte FMTime field in place to simulate a
	// big-endian-written record, leaving the rest as-is: the little-endian
	// interpretation of the swapped bytes should be implausible, forcing
	// the big-endian fallback path.
	swapped := append([]byte(nil), little...)
	for i, j := 16, 16+7; i < j; i, j = i+1, j-1 {
		swapped[i], swapped[j] = swapped[j], swapped[i]
	}

	decoded, err := cksrecord.Decode(swapped)
	require.NoError(t, err)
	require.Equal(t, "big", decoded.ReadFormat)
	require.Equal(t, fm.Unix(), decoded.FMTime.Unix())
}

func TestEncodeMatchesReferenceLayout(t *testing.T) {
	fm := time.Unix(1700000000, 0).UTC()
	rec, err := cksrecord.New("adler32", fm, 5*time.Second, "0b1f028e")
	require.NoError(t, err)

	encoded, err := rec.Encode()
	require.NoError(t, err)
	require.Len(t, encoded, 92)

	require.Equal(t, "adler32", string(bytesTrim(encoded[0:16])))
	require.EqualValues(t, 1700000000, int64(leUint64(encoded[16:24])))
	require.EqualValues(t, 5, int32(leUint32(encoded[24:28])))
	require.Equal(t, byte(0x04), encoded[30])
	require.Equal(t, []byte{0x0b, 0x1f, 0x02, 0x8e}, encoded[31:35])
	for _, b := range encoded[35:] {
		require.Zero(t, b)
	}
}

func bytesTrim(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return b[:i]
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	_, err := cksrecord.New("md5", time.Now(), 0, "ab")
	require.Error(t, err)
}

func TestStringFormat(t *testing.T) {
	fm := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := cksrecord.New("adler32", fm, 0, "abcd")
	require.NoError(t, err)
	require.Contains(t, rec.String(), "adler32: abcd")
}
