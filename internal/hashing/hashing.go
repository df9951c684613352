// Package hashing derives the content digests and composite cache keys used
// throughout the pipeline. All functions are pure; two byte sequences with
// equal content always produce equal digests regardless of filename or
// timestamps.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CompositeKey combines an ordered sequence of parts into one digest. Each
// part is length-prefixed before hashing so that part boundaries are
// unambiguous: CompositeKey("ab", "c") never collides with
// CompositeKey("a", "bc"), and reordering parts changes the result.
func CompositeKey(parts ...string) string {
	h := sha256.New()
	var prefix [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(part)))
		h.Write(prefix[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
