// Package phone canonicalizes user-supplied phone numbers into an
// E.164 form before a pairing code is issued for them.
package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	fallbackMinDigits = 8
	fallbackMaxDigits = 15
)

// Canonical is the normalized representation of a phone number.
type Canonical struct {
	// E164 is the canonical form used as the stored identity,
	// e.g. "+254723278526".
	E164 string
	// Country is the ISO region code when the number parsed cleanly,
	// empty when only the loose digit-count validator accepted it.
	Country string
	// International is a human-readable international form.
	International string
}

// InvalidPhoneError reports input that neither the parser nor the
// loose digit-count validator accepted.
type InvalidPhoneError struct {
	Input  string
	Reason string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone number %q: %s", e.Input, e.Reason)
}

// Normalize validates and reformats a raw phone string.  A leading
// zero is rewritten to defaultPrefix (national format input), and
// digit-only input of at least nine digits gains a leading plus.
// Validation is delegated to the phonenumbers library; when parsing
// fails, numbers of 8 to 15 digits are still accepted as-is.
// Synchronous, no side effects.
func Normalize(raw, defaultPrefix string) (Canonical, error) {
	cleaned := stripPhone(raw)
	digits := strings.TrimPrefix(cleaned, "+")
	if digits == "" {
		return Canonical{}, &InvalidPhoneError{Input: raw, Reason: "no digits present"}
	}

	switch {
	case strings.HasPrefix(cleaned, "0"):
		// National format: 07xx... becomes +2547xx... under the
		// configured default country prefix.
		cleaned = defaultPrefix + cleaned[1:]
	case !strings.HasPrefix(cleaned, "+") && len(digits) >= 9:
		cleaned = "+" + cleaned
	}

	if num, err := phonenumbers.Parse(cleaned, ""); err == nil && phonenumbers.IsValidNumber(num) {
		return Canonical{
			E164:          phonenumbers.Format(num, phonenumbers.E164),
			Country:       phonenumbers.GetRegionCodeForNumber(num),
			International: phonenumbers.Format(num, phonenumbers.INTERNATIONAL),
		}, nil
	}

	// Loose fallback: the library rejects some valid-looking numbers
	// (test ranges, new allocations), so accept plain digit runs of a
	// plausible length.
	digits = strings.TrimPrefix(cleaned, "+")
	if len(digits) < fallbackMinDigits {
		return Canonical{}, &InvalidPhoneError{Input: raw, Reason: "too few digits"}
	}
	if len(digits) > fallbackMaxDigits {
		return Canonical{}, &InvalidPhoneError{Input: raw, Reason: "too many digits"}
	}
	e164 := "+" + digits
	return Canonical{E164: e164, International: e164}, nil
}

// stripPhone removes every character except digits and a leading plus.
func stripPhone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range strings.TrimSpace(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
