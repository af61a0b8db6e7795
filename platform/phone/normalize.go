// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	defaultCountryCode    = "39"
	defaultMobilePrefixes = "3"

	minNationalDigits = 10
	minIntlDigits     = 8
	maxE164Digits     = 15
)

// Normalizer maps raw phone text to +<countrycode><digits>. The empty string means invalid.
type Normalizer struct {
	countryCode    string
	mobilePrefixes string
}

// NewNormalizer creates a normalizer for the given default country code (digits only,
// e.g. "39") and the set of leading digits that mark a national mobile number.
func NewNormalizer(countryCode, mobilePrefixes string) Normalizer {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = defaultCountryCode
	}
	if strings.TrimSpace(mobilePrefixes) == "" {
		mobilePrefixes = defaultMobilePrefixes
	}
	return Normalizer{countryCode: countryCode, mobilePrefixes: mobilePrefixes}
}

// Normalize uses the default Italian settings.
func Normalize(raw string) string {
	return NewNormalizer(defaultCountryCode, defaultMobilePrefixes).Normalize(raw)
}

// Normalize canonicalizes raw. Output is either "" or a string that Normalize maps to itself.
func (n Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if strings.HasPrefix(s, "+") {
		return international(s)
	}
	if strings.HasPrefix(s, "00") {
		return international("+" + s[2:])
	}

	digits := digitsOnly(s)
	switch {
	case len(digits) < minNationalDigits:
		return ""
	case len(digits) == 10 && strings.ContainsRune(n.mobilePrefixes, rune(digits[0])):
		return "+" + n.countryCode + digits
	case len(digits) == 12 && strings.HasPrefix(digits, n.countryCode):
		return "+" + digits
	case digits[0] == '0' || len(digits) > maxE164Digits:
		// a national trunk prefix without a country code is ambiguous
		return ""
	default:
		return "+" + digits
	}
}

// IsValid reports whether raw normalizes to a usable number.
func (n Normalizer) IsValid(raw string) bool {
	return n.Normalize(raw) != ""
}

func international(s string) string {
	digits := digitsOnly(s)
	if len(digits) < minIntlDigits || len(digits) > maxE164Digits {
		return ""
	}

	number, err := phonenumbers.Parse("+"+digits, "")
	if err != nil {
		return "+" + digits
	}
	formatted := phonenumbers.Format(number, phonenumbers.E164)
	if formatted == "" {
		return "+" + digits
	}
	return formatted
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
