// Package auth implements the HMAC-MD5 challenge/response handshake that
// precedes all framed traffic on a connection. The handshake is
// deliberately unframed: no length prefixes, just raw marker bytes.
package auth

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"io"
	"os"
	"strings"

	"github.com/snafus/cephsum-server/internal/errs"
)

const (
	nonceSize = 20
	// maxResponseSize bounds the handshake response read, rejecting an
	// oversized reply outright rather than buffering it.
	maxResponseSize = 256
)

var (
	challengeMarker = []byte("#CHALLENGE#")
	welcomeMarker   = []byte("#WELCOME#")
	failureMarker   = []byte("#FAILURE#")
)

// LoadKey reads the shared authentication key from authfile: the first
// non-empty, non-comment ('#'-prefixed) line, UTF-8, whitespace-trimmed.
func LoadKey(authfile string) ([]byte, error) {
	f, err := os.Open(authfile)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "open auth key file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return []byte(line), nil
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "read auth key file", err)
	}
	return nil, errs.New(errs.KindAuthFailure, "auth key file has no key line")
}

// DeliverChallenge runs the server side of the handshake over conn: send
// a fresh nonce, read the peer's HMAC-MD5 response, and send a welcome or
// failure marker accordingly. Returns an auth-failure error on mismatch.
func DeliverChallenge(conn io.ReadWriter, authKey []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.KindAuthFailure, "generate nonce", err)
	}

	if _, err := conn.Write(append(append([]byte{}, challengeMarker...), nonce...)); err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "send challenge", err)
	}

	expected := hmacMD5(authKey, nonce)

	response := make([]byte, maxResponseSize)
	n, err := conn.Read(response)
	if err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "read challenge response", err)
	}
	response = response[:n]

	if !hmac.Equal(response, expected) {
		_, _ = conn.Write(failureMarker)
		return errs.New(errs.KindAuthFailure, "challenge response mismatch")
	}
	if _, err := conn.Write(welcomeMarker); err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "send welcome", err)
	}
	return nil
}

// AnswerChallenge runs the client side of the handshake over conn: read
// the server's challenge, reply with the HMAC-MD5 digest, and confirm the
// welcome marker.
func AnswerChallenge(conn io.ReadWriter, authKey []byte) error {
	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "read challenge", err)
	}
	buf = buf[:n]

	if !bytes.HasPrefix(buf, challengeMarker) {
		return errs.New(errs.KindAuthFailure, "malformed challenge")
	}
	nonce := buf[len(challengeMarker):]

	digest := hmacMD5(authKey, nonce)
	if _, err := conn.Write(digest); err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "send digest", err)
	}

	response := make([]byte, len(welcomeMarker))
	if _, err := io.ReadFull(conn, response); err != nil {
		return errs.Wrap(errs.KindBrokenPipe, "read welcome", err)
	}
	if !bytes.Equal(response, welcomeMarker) {
		return errs.New(errs.KindAuthFailure, "challenge response rejected")
	}
	return nil
}

func hmacMD5(key, message []byte) []byte {
	h := hmac.New(md5.New, key)
	h.Write(message)
	return h.Sum(nil)
}
