// Package cksrecord implements the binary checksum metadata record stored
// as an extended attribute on chunk zero of an object, compatible with the XrdCksData
// layout (see https://github.com/xrootd/xrootd XrdCks/XrdCksData.hh):
//
//	char      Name[16];   // checksum algorithm name, NUL-padded
//	int64     FMTime;     // file mtime when checksum was computed
//	int32     CSTime;     // delta from FMTime when checksum was computed
//	byte      Reserved[2];// reserved, always zero
//	int8      Length;     // length in bytes of the checksum value
//	byte      Value[61];  // binary checksum value, left-justified
//
// 92 bytes total.
package cksrecord

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/snafus/cephsum-server/internal/errs"
)

const (
	nameSize = 16
	valuSize = 61
	// Size is the total encoded length of a Record, in bytes.
	Size = nameSize + 8 + 4 + 2 + 1 + valuSize
)

// Record is the decoded form of a 92-byte checksum metadata record.
type Record struct {
	Name       string // lower-case checksum algorithm name, e.g. "adler32"
	FMTime     time.Time
	CSTime     time.Duration
	Value      []byte // raw binary checksum value, Length bytes long
	ReadFormat string // "little" or "big"; set by Decode, empty for freshly-built records
}

// New builds a Record from an algorithm name, file mtime, checksum
// computation time, and a hex-encoded checksum value.
func New(algName string, fmTime time.Time, csTime time.Duration, hexValue string) (*Record, error) {
	if algName != "adler32" {
		return nil, errs.New(errs.KindUnknownAlgorithm, "only adler32 is supported: "+algName)
	}
	if len(algName) > nameSize-1 {
		return nil, errs.New(errs.KindBadPath, "algorithm name too long")
	}
	value, err := decodeHex(hexValue)
	if err != nil {
		return nil, errs.Wrap(errs.KindBadPath, "invalid checksum hex value", err)
	}
	if len(value) > valuSize {
		return nil, errs.New(errs.KindTruncation, "checksum value exceeds capacity")
	}
	return &Record{
		Name:   algName,
		FMTime: fmTime,
		CSTime: csTime,
		Value:  value,
	}, nil
}

// HexValue returns the checksum value as a lowercase hex string.
func (r *Record) HexValue() string {
	return fmt.Sprintf("%x", r.Value)
}

// String renders a short diagnostic line, modeled on the original record's
// __str__ method.
func (r *Record) String() string {
	return fmt.Sprintf("%s: %s; fm=%s; cs=%s; len=%d",
		r.Name, r.HexValue(), r.FMTime.Format(time.RFC3339), r.CSTime, len(r.Value))
}

// wireLayout is the fixed-size struct matching the 92-byte binary format,
// used for both endian variants by swapping the byte order at pack/unpack
// time rather than duplicating the struct definition.
type wireLayout struct {
	Name     [nameSize]byte
	FMTime   int64
	CSTime   int32
	Reserved [2]byte
	Length   int8
	Value    [valuSize]byte
}

// Encode packs the record into its 92-byte little-endian wire form. The
// original implementation always writes little-endian and only falls back
// to big-endian on decode, so encoding has a single fixed order.
func (r *Record) Encode() ([]byte, error) {
	return r.encodeOrder(binary.LittleEndian)
}

func (r *Record) encodeOrder(order binary.ByteOrder) ([]byte, error) {
	var w wireLayout
	if len(r.Name) > nameSize-1 {
		return nil, errs.New(errs.KindBadPath, "algorithm name too long")
	}
	copy(w.Name[:], r.Name)
	w.FMTime = r.FMTime.Unix()
	w.CSTime = int32(r.CSTime / time.Second)
	if len(r.Value) > valuSize {
		return nil, errs.New(errs.KindTruncation, "checksum value exceeds capacity")
	}
	w.Length = int8(len(r.Value))
	copy(w.Value[:], r.Value)

	buf := new(bytes.Buffer)
	buf.Grow(Size)
	if err := binary.Write(buf, order, &w); err != nil {
		return nil, errs.Wrap(errs.KindTruncation, "encode checksum record", err)
	}
	return buf.Bytes(), nil
}

// Decode unpacks a 92-byte checksum record, trying little-endian first and
// falling back to big-endian if the little-endian file-mtime field decodes
// to an implausible timestamp. This replaces the original's
// try/except-on-unpack-error fallback: Go's binary.Read does not itself
// fail on an implausible value, so the fallback trigger here is an
// explicit plausibility check on the decoded FMTime (REDESIGN FLAGS item
// "exception-driven control flow becomes explicit checks").
func Decode(data []byte) (*Record, error) {
	if len(data) != Size {
		return nil, errs.New(errs.KindTruncation, fmt.Sprintf("checksum record must be %d bytes, got %d", Size, len(data)))
	}

	rec, ok := decodeOrder(data, binary.LittleEndian, "little")
	if ok {
		return rec, nil
	}
	rec, ok = decodeOrder(data, binary.BigEndian, "big")
	if ok {
		return rec, nil
	}
	return nil, errs.New(errs.KindTruncation, "checksum record unpacks to an implausible timestamp in both byte orders")
}

func decodeOrder(data []byte, order binary.ByteOrder, label string) (*Record, bool) {
	var w wireLayout
	if err := binary.Read(bytes.NewReader(data), order, &w); err != nil {
		return nil, false
	}

	fmTime := time.Unix(w.FMTime, 0).UTC()
	if !plausibleTimestamp(fmTime) {
		return nil, false
	}

	length := int(w.Length)
	if length < 0 || length > valuSize {
		return nil, false
	}

	name := string(bytes.TrimRight(w.Name[:], "\x00"))
	value := make([]byte, length)
	copy(value, w.Value[:length])

	return &Record{
		Name:       name,
		FMTime:     fmTime,
		CSTime:     time.Duration(w.CSTime) * time.Second,
		Value:      value,
		ReadFormat: label,
	}, true
}

// plausibleTimestamp rejects file-mtime values outside a sane operational
// range (the year 2000 through ten years from now), the signal the
// original implementation got for free from datetime.fromtimestamp raising
// on an out-of-range value when the wrong endianness was tried.
func plausibleTimestamp(t time.Time) bool {
	lo := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	hi := time.Now().AddDate(10, 0, 0)
	return t.After(lo) && t.Before(hi)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexDigit(s[i*2])
		lo, ok2 := hexDigit(s[i*2+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid hex digit")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
