// Package hashutil provides the SHA-1 primitives used throughout the
// daemon for content addressing: streaming digests, hex encoding, and a
// constant-time comparison for verifying expected hashes.
package hashutil

import (
	"crypto/sha1" //nolint:gosec // content addressing, not a security boundary by itself
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"io"
)

// Size is the length in bytes of a SHA-1 digest.
const Size = sha1.Size

// HexSize is the length of a SHA-1 digest in lowercase hex.
const HexSize = Size * 2

// Digest wraps an incremental SHA-1 hash.Hash for streaming updates.
type Digest struct {
	h hash.Hash
}

// NewDigest returns a fresh streaming SHA-1 digest.
func NewDigest() *Digest {
	return &Digest{h: sha1.New()} //nolint:gosec
}

// Write feeds more bytes into the digest. Never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Hex returns the current digest as lowercase hex.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// SumHex computes the SHA-1 hex digest of a full in-memory buffer in one
// call.
func SumHex(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// SumReaderHex streams r fully and returns its SHA-1 hex digest.
func SumReaderHex(r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EqualHex reports whether two hex-encoded digests are equal, using a
// constant-time comparison once decoded so digest comparisons made on
// attacker-influenced input (bucket downloads) don't leak timing.
func EqualHex(a, b string) bool {
	da, err1 := hex.DecodeString(a)
	db, err2 := hex.DecodeString(b)
	if err1 != nil || err2 != nil || len(da) != len(db) {
		return false
	}
	return subtle.ConstantTimeCompare(da, db) == 1
}

// ShardPath splits a lowercase hex sha1 into its three 2-hex-char shard
// prefixes, as used for the on-disk and bucket fan-out layouts.
func ShardPath(sha1Hex string) (aa, bb, cc string, ok bool) {
	if len(sha1Hex) != HexSize {
		return "", "", "", false
	}
	return sha1Hex[0:2], sha1Hex[2:4], sha1Hex[4:6], true
}

// ShardPrefix splits any sufficiently long lowercase hex string (a sha1,
// but also a feedId/subfeedHash which are hex encodings of other fixed-
// size values) into its first three 2-hex-char shard prefixes.
func ShardPrefix(hexStr string) (aa, bb, cc string, ok bool) {
	if len(hexStr) < 6 {
		return "", "", "", false
	}
	return hexStr[0:2], hexStr[2:4], hexStr[4:6], true
}
