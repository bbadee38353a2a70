// Package fingerprint computes the content digest used as the document
// dedup key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Of returns the lowercase hex SHA-256 digest of data.
func Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
