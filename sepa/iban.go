package sepa

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// ACCOUNT IDENTIFIERS - IBAN, BIC, SEPA creditor identifier
// =============================================================================

var bicPattern = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

// NormalizeIBAN strips all whitespace and uppercases. BICs use the same rule.
func NormalizeIBAN(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// NormalizeBIC is NormalizeIBAN under its other name.
func NormalizeBIC(s string) string {
	return NormalizeIBAN(s)
}

// ValidateIBAN checks structure and the ISO 7064 mod-97 checksum.
func ValidateIBAN(iban string) error {
	iban = NormalizeIBAN(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return fmt.Errorf("IBAN %q has invalid length %d", iban, len(iban))
	}
	if !isUpperAlpha(iban[:2]) || !isDigits(iban[2:4]) {
		return fmt.Errorf("IBAN %q must start with a country code and two check digits", iban)
	}
	if !isAlnum(iban) {
		return fmt.Errorf("IBAN %q contains invalid characters", iban)
	}
	if mod97(iban[4:]+iban[:4]) != 1 {
		return fmt.Errorf("IBAN %q has an invalid checksum", iban)
	}
	return nil
}

// ValidateBIC accepts 8 or 11 character BICs.
func ValidateBIC(bic string) error {
	bic = NormalizeBIC(bic)
	if !bicPattern.MatchString(bic) {
		return fmt.Errorf("BIC %q is invalid", bic)
	}
	return nil
}

// ValidateCreditorID checks a SEPA creditor identifier such as
// AT61ZZZ01234567890. The three character business code (positions 5-7) is
// not part of the checksum.
func ValidateCreditorID(id string) error {
	id = NormalizeIBAN(id)
	if len(id) < 8 || len(id) > 35 {
		return fmt.Errorf("creditor id %q has invalid length %d", id, len(id))
	}
	if !isUpperAlpha(id[:2]) || !isDigits(id[2:4]) || !isAlnum(id) {
		return fmt.Errorf("creditor id %q is malformed", id)
	}
	if mod97(id[7:]+id[:4]) != 1 {
		return fmt.Errorf("creditor id %q has an invalid checksum", id)
	}
	return nil
}

// mod97 converts letters to two-digit numbers (A=10 .. Z=35) and returns
// the remainder of the resulting integer divided by 97.
func mod97(s string) int64 {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return -1
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64()
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
