// Package paircode generates the short human-enterable codes handed
// out to users who want to link a phone to the bot.  Codes are eight
// characters drawn from an alphabet that excludes visually ambiguous
// glyphs (I, O, 0, 1) and always mix letters with digits so they do
// not read as a word or a plain number.
//
// The randomness source is crypto/rand so codes are not guessable in
// practice, but at 8 characters over 32 symbols (~40 bits before the
// class filter) they are not a cryptographic secrecy boundary.
package paircode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Alphabet is the full set of characters a code may contain.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the length of a raw code, excluding display formatting.
const CodeLength = 8

const (
	minLetters  = 2
	minDigits   = 2
	maxAttempts = 100
)

var alphabetMax = big.NewInt(int64(len(Alphabet)))

// ErrExhausted is returned when the class-mix filter rejects every
// draw.  With the current alphabet the rejection probability per draw
// is a few percent, so hitting the attempt cap indicates a broken
// randomness source rather than bad luck.
var ErrExhausted = errors.New("paircode: could not generate a balanced code")

// Generate returns a fresh 8-character code containing at least two
// letters and at least two digits.
func Generate() (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		buf := make([]byte, CodeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, alphabetMax)
			if err != nil {
				return "", err
			}
			buf[i] = Alphabet[n.Int64()]
		}
		code := string(buf)
		if hasClassMix(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// FormatDisplay splits a raw code at the midpoint for human display,
// e.g. "A2B3C4D5" becomes "A2B3-C4D5".  Inputs shorter than two
// characters are returned unchanged.
func FormatDisplay(code string) string {
	if len(code) < 2 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// NormalizeLookup maps user input to the raw code form used as the
// registry key: separators and whitespace are stripped and letters
// are uppercased.  FormatDisplay followed by NormalizeLookup yields
// the original code.
func NormalizeLookup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hasClassMix reports whether the code satisfies the usability
// constraint of at least two letters and two digits.
func hasClassMix(code string) bool {
	letters, digits := 0, 0
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		}
	}
	return letters >= minLetters && digits >= minDigits
}
