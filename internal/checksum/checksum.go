// Package checksum fingerprints note contents so unchanged notes can be
// skipped when the index is refreshed.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data hashes to stored. An empty stored value
// never matches.
func Matches(stored string, data []byte) bool {
	return stored != "" && stored == Sum(data)
}
