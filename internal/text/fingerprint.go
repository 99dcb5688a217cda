package text

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint generates a deterministic hash for a query, computed over the
// normalized (lower-cased, trimmed) text rather than the keyword sequence.
// It is used strictly as an equality key for exact-match lookup.
func Fingerprint(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}
