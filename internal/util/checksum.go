package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Checksum utilities for blob integrity validation.
// Digests are SHA-256 over the exact blob bytes, rendered as lowercase hex.

const (
	// DigestSize is the length of a rendered digest in hex characters
	DigestSize = sha256.Size * 2

	// EmptyDigest is the SHA-256 digest of the empty byte sequence
	EmptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// EncodeDigest renders the current sum of h
func EncodeDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// ParseDigest normalizes a stored digest and checks that it is well formed
func ParseDigest(raw string) (string, error) {
	digest := strings.ToLower(strings.TrimSpace(raw))
	if len(digest) != DigestSize {
		return "", fmt.Errorf("digest must be %d hex characters, got %d", DigestSize, len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("digest is not hex: %w", err)
	}
	return digest, nil
}

// HashingWriter tees everything written to it through SHA-256
type HashingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewHashingWriter wraps w; a nil w only hashes
func NewHashingWriter(w io.Writer) *HashingWriter {
	if w == nil {
		w = io.Discard
	}
	return &HashingWriter{w: w, h: sha256.New()}
}

// Write writes p to the underlying writer and hashes the accepted bytes
func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
		hw.n += int64(n)
	}
	return n, err
}

// Digest returns the digest of all bytes written so far
func (hw *HashingWriter) Digest() string {
	return EncodeDigest(hw.h)
}

// Size returns the number of bytes written so far
func (hw *HashingWriter) Size() int64 {
	return hw.n
}
