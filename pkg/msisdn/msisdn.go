/**
 * @description
 * This package normalizes Kenyan mobile subscriber numbers (MSISDNs) into the
 * canonical 2547XXXXXXXX form required by both M-Pesa and Airtel Money APIs,
 * and provides a Kenyan Shilling amount formatter for human-readable logs and
 * step details.
 */
package msisdn

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidMSISDN is returned when a phone number cannot be normalized to a
// Kenyan MSISDN.
var ErrInvalidMSISDN = errors.New("phone number must be Kenyan e.g. 07XXXXXXXX or 2547XXXXXXXX")

// Normalize strips non-digits and converts local Kenyan formats (07XX…, 7XX…)
// to the canonical 254-prefixed 12-digit form.
func Normalize(phoneNumber string) (string, error) {
	var b strings.Builder
	for _, ch := range phoneNumber {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0"):
		digits = "254" + digits[1:]
	case strings.HasPrefix(digits, "7") && len(digits) == 9:
		digits = "254" + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, "254") {
		return "", ErrInvalidMSISDN
	}
	return digits, nil
}

// FormatAmount renders a decimal amount as Kenyan Shillings, e.g.
// "Ksh 1,234.56".
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)

	negative := strings.HasPrefix(fixed, "-")
	if negative {
		fixed = fixed[1:]
	}
	intPart := fixed[:len(fixed)-3]
	fracPart := fixed[len(fixed)-3:]

	var grouped strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(ch)
	}

	out := "Ksh " + grouped.String() + fracPart
	if negative {
		out = "Ksh -" + grouped.String() + fracPart
	}
	return out
}
