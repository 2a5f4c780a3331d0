// ABOUTME: Random access code generation
// ABOUTME: Produces 16-character uppercase alphanumeric codes

package code

import (
	"crypto/rand"
)

// alphabet is the set of symbols a code may contain. The ledger file format
// depends on codes never containing spaces or brackets.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the fixed length of every generated code.
const Length = 16

// maxUnbiased is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are discarded so every symbol is equally likely.
const maxUnbiased = 252

// Generate returns a new random code: Length characters drawn uniformly
// from A-Z0-9. No uniqueness check is performed against existing codes;
// with 36^16 possible values, collisions are not a practical concern.
func Generate() string {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length)
	for len(out) < Length {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand only fails if the OS entropy source is broken,
			// in which case nothing else in the process works either.
			panic("code: reading random bytes: " + err.Error())
		}
		for _, b := range buf {
			if b >= maxUnbiased || len(out) == Length {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
		}
	}
	return string(out)
}
