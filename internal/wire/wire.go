// Package wire implements the length-prefixed JSON frame protocol used
// over the TCP connection, after the HMAC handshake completes: each frame
// is a 4-byte big-endian length followed by that many bytes of UTF-8
// JSON. A zero length is the end-of-stream sentinel and carries no
// payload.
package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/snafus/cephsum-server/internal/errs"
)

// maxInnerRead bounds the size of a single underlying Read call while
// draining a frame's payload, matching the original's MAX_READ constant.
const maxInnerRead = 4048

// MaxFrameSize caps the accepted length prefix, guarding against a
// malicious or corrupt peer requesting an unbounded allocation.
const MaxFrameSize = 64 * 1024 * 1024

// Send writes msg as one length-prefixed JSON frame. A nil msg sends the
// end-of-stream sentinel (a bare zero-length frame).
func Send(w io.Writer, msg interface{}) error {
	if msg == nil {
		var lenPrefix [4]byte
		_, err := w.Write(lenPrefix[:])
		if err != nil {
			return errs.Wrap(errs.KindBrokenPipe, "write sentinel frame", err)
		}
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.KindBadPath, "marshal frame payload", err)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "write frame", err)
	}
	return nil
}

// Recv reads one frame. A zero-length frame (the sentinel) is reported by
// returning ok=false with a nil error. ctx is consulted only for
// cancellation between inner reads, not to interrupt a blocking Read
// already in flight.
func Recv(ctx context.Context, r io.Reader) (msg map[string]interface{}, ok bool, err error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, false, errs.Wrap(errs.KindBrokenPipe, "read frame length", err)
	}
	length := binary.BigEndian.Uint32(lenPrefix[:])
	if length == 0 {
		return nil, false, nil
	}
	if length > MaxFrameSize {
		return nil, false, errs.New(errs.KindBadPath, "frame exceeds maximum size")
	}

	payload := new(bytes.Buffer)
	remaining := int(length)
	chunk := make([]byte, maxInnerRead)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return nil, false, errs.Wrap(errs.KindTimeout, "frame read cancelled", ctx.Err())
		default:
		}
		readLen := maxInnerRead
		if remaining < readLen {
			readLen = remaining
		}
		n, err := r.Read(chunk[:readLen])
		if n > 0 {
			payload.Write(chunk[:n])
			remaining -= n
		}
		if err != nil {
			if err == io.EOF && remaining == 0 {
				break
			}
			return nil, false, errs.Wrap(errs.KindBrokenPipe, "read frame payload", err)
		}
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload.Bytes(), &decoded); err != nil {
		return nil, false, errs.Wrap(errs.KindBadPath, "decode frame json", err)
	}
	return decoded, true, nil
}
