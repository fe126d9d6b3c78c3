package billing

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY TEXT - pt-BR presentation boundary ("R$ 1.234,56")
// =============================================================================

const currencySymbol = "R$"

// ParseCurrency converts localized currency text into a two-place decimal.
//
// "R$ 1.234,56", "1234,56" and "1.234" (one thousand two hundred and
// thirty-four) are all accepted. With no comma present, a single dot followed
// by one or two digits is read as a decimal point ("1500.5"), so values that
// were stored as plain numbers still parse.
//
// Unparsable text yields zero. This is a display helper, not a validator:
// callers that need a positive amount check for it themselves.
func ParseCurrency(text string) decimal.Decimal {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ReplaceAll(text, currencySymbol, ""))
	if s == "" {
		return decimal.Zero
	}

	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		if strings.Count(s, ",") > 1 {
			return decimal.Zero
		}
		s = strings.Replace(s, ",", ".", 1)
	} else if !isDecimalPointDot(s) {
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d.Round(2)
}

func isDecimalPointDot(s string) bool {
	if strings.Count(s, ".") != 1 {
		return false
	}
	frac := len(s) - strings.Index(s, ".") - 1
	return frac == 1 || frac == 2
}

// FormatCurrency renders d as "R$ 1.234,56" (negative: "-R$ 1.234,56").
func FormatCurrency(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	fixed := d.StringFixed(2)
	dot := strings.IndexByte(fixed, '.')
	intPart, frac := fixed[:dot], fixed[dot+1:]

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(currencySymbol)
	b.WriteByte(' ')
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// ApproxEqual compares two amounts within Tolerance.
func ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
