package crypto

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// EvidenceDigest returns the hex BLAKE2b-256 digest of the joined parts.
// Parts are separated by a NUL byte so that ("ab","c") and ("a","bc") differ.
func EvidenceDigest(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
