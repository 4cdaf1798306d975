package paircode

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Run("length and alphabet", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			code, err := Generate()
			require.NoError(t, err)
			assert.Len(t, code, CodeLength)
			for _, c := range code {
				assert.True(t, strings.ContainsRune(Alphabet, c),
					"character %q should be in the alphabet, code %s", c, code)
			}
		}
	})

	t.Run("always mixes letters and digits", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			code, err := Generate()
			require.NoError(t, err)
			letters, digits := 0, 0
			for _, c := range code {
				if c >= 'A' && c <= 'Z' {
					letters++
				} else {
					digits++
				}
			}
			assert.GreaterOrEqual(t, letters, 2, "code %s", code)
			assert.GreaterOrEqual(t, digits, 2, "code %s", code)
		}
	})

	t.Run("excludes ambiguous characters", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			code, err := Generate()
			require.NoError(t, err)
			assert.NotContains(t, code, "O")
			assert.NotContains(t, code, "I")
			assert.NotContains(t, code, "0")
			assert.NotContains(t, code, "1")
		}
	})

	t.Run("codes are distinct in practice", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 500; i++ {
			code, err := Generate()
			require.NoError(t, err)
			assert.False(t, seen[code], "duplicate code generated: %s", code)
			seen[code] = true
		}
	})
}

func TestFormatDisplay(t *testing.T) {
	assert.Equal(t, "A2B3-C4D5", FormatDisplay("A2B3C4D5"))
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}$`), FormatDisplay("XY89QRS7"))
	assert.Equal(t, "X", FormatDisplay("X"))
}

func TestNormalizeLookup(t *testing.T) {
	t.Run("round trips display formatting", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			code, err := Generate()
			require.NoError(t, err)
			assert.Equal(t, code, NormalizeLookup(FormatDisplay(code)))
		}
	})

	t.Run("strips separators and uppercases", func(t *testing.T) {
		assert.Equal(t, "A2B3C4D5", NormalizeLookup(" a2b3-c4d5 "))
		assert.Equal(t, "A2B3C4D5", NormalizeLookup("a2 b3 c4 d5"))
		assert.Equal(t, "", NormalizeLookup("--- "))
	})
}

func TestAlphabet(t *testing.T) {
	// 24 letters plus 8 digits.
	assert.Len(t, Alphabet, 32)
	assert.NotContains(t, Alphabet, "O")
	assert.NotContains(t, Alphabet, "I")
	assert.NotContains(t, Alphabet, "0")
	assert.NotContains(t, Alphabet, "1")
}

func TestHasClassMix(t *testing.T) {
	assert.True(t, hasClassMix("A2B3C4D5"))
	assert.False(t, hasClassMix("ABCDEFGH"))
	assert.False(t, hasClassMix("23456789"))
	assert.False(t, hasClassMix("A2345678"))
	assert.True(t, hasClassMix("AB234567"))
}
