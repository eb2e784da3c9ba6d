package x12

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var upper = cases.Upper(language.AmericanEnglish)

// Fold strips diacritics so values fit the X12 basic character set
// ("José" becomes "Jose") and collapses runs of whitespace.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(out), " ")
}

// Name folds s and upper-cases it for name elements.
func Name(s string) string {
	return upper.String(Fold(s))
}

// Pad left-justifies s in a field of width n, truncating when longer.
// ISA elements are fixed width.
func Pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// ZeroPad renders v as a zero-padded decimal of exactly n digits. It
// returns an error when v does not fit.
func ZeroPad(v int64, n int) (string, error) {
	if v < 0 {
		return "", fmt.Errorf("x12: negative control number %d", v)
	}
	s := fmt.Sprintf("%0*d", n, v)
	if len(s) != n {
		return "", fmt.Errorf("x12: control number %d exceeds %d digits", v, n)
	}
	return s, nil
}
