package gateway

import (
	"crypto/sha256"
	"encoding/hex"
)

// DescriptionHash fingerprints an issue description for cache keying. Cached
// results are only served while the stored hash matches the current text.
func DescriptionHash(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}
