package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// UndisclosedValue is the fixed value assigned to undisclosed amounts.
const UndisclosedValue = 100.0

var (
	undisclosedRe = regexp.MustCompile(`(?i)\bundisclosed\b`)
	overRe        = regexp.MustCompile(`(?i)\bover\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`)
	underRe       = regexp.MustCompile(`(?i)\bunder\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`)
	rangeRe       = regexp.MustCompile(`(?i)\$\s*(\d[\d,]*(?:\.\d+)?)\s*(?:to|-|–)\s*\$\s*\d[\d,]*(?:\.\d+)?`)
	dollarRe      = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)`)
	bareNumberRe  = regexp.MustCompile(`^\s*(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?\s*$`)

	// currencyRe finds amount expressions inside free text. Order matters:
	// qualified forms must win over the bare dollar figure they contain.
	currencyRe = regexp.MustCompile(`(?i)\bundisclosed\b|\b(?:over|under)\s*\$\s*\d[\d,]*(?:\.\d+)?|\$\s*\d[\d,]*(?:\.\d+)?(?:\s*(?:to|-|–)\s*\$\s*\d[\d,]*(?:\.\d+)?)?`)
)

// NormalizeAmount converts an amount expression to a number.
//
//	"UNDISCLOSED"  -> 100
//	"OVER $500"    -> 500
//	"UNDER $200"   -> 100
//	"$50 TO $75"   -> 50
//	"$1,234.56"    -> 1234.56
//
// Bare numbers are accepted too so the function is idempotent over
// FormatAmount. ok is false when s carries no amount.
func NormalizeAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if undisclosedRe.MatchString(s) {
		return UndisclosedValue, true
	}
	if m := overRe.FindStringSubmatch(s); m != nil {
		return parseNumber(m[1])
	}
	if m := underRe.FindStringSubmatch(s); m != nil {
		v, ok := parseNumber(m[1])
		return v / 2, ok
	}
	if m := rangeRe.FindStringSubmatch(s); m != nil {
		return parseNumber(m[1])
	}
	if m := dollarRe.FindStringSubmatch(s); m != nil {
		return parseNumber(m[1])
	}
	if m := bareNumberRe.FindStringSubmatch(s); m != nil {
		n := m[1]
		if m[2] != "" {
			n += "." + m[2]
		}
		return parseNumber(n)
	}
	return 0, false
}

// HasAmount reports whether a cell or text fragment carries an explicit
// amount: a dollar figure or an undisclosed/over/under qualifier. Bare
// numbers (zip codes, ids) do not count.
func HasAmount(s string) bool {
	return currencyRe.MatchString(s)
}

// FindAmounts returns the byte ranges of every amount expression in s.
func FindAmounts(s string) [][]int {
	return currencyRe.FindAllStringIndex(s, -1)
}

// FormatAmount renders v as a display string: "$100", "$1,234.56".
func FormatAmount(v float64) string {
	v = math.Round(v*100) / 100
	whole := int64(v)
	cents := int64(math.Round((v - float64(whole)) * 100))
	if cents == 100 {
		whole++
		cents = 0
	}

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	b.WriteByte('$')
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if cents != 0 {
		b.WriteByte('.')
		if cents < 10 {
			b.WriteByte('0')
		}
		b.WriteString(strconv.FormatInt(cents, 10))
	}
	return b.String()
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
