// ABOUTME: Tests for the access code generator.
// ABOUTME: Validates length, alphabet, and repeated invocation.

package code

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_Length(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Len(t, Generate(), Length)
	}
}

func TestGenerate_Alphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		c := Generate()
		for _, r := range c {
			assert.True(t, strings.ContainsRune(alphabet, r),
				"code %q contains symbol %q outside alphabet", c, r)
		}
	}
}

func TestGenerate_NotOneShot(t *testing.T) {
	// The generator must be reusable indefinitely, and two draws colliding
	// would indicate a broken randomness source rather than bad luck.
	a := Generate()
	b := Generate()
	assert.NotEqual(t, a, b)
}
