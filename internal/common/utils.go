package common

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	decimalToken = regexp.MustCompile(`-?\d+(\.\d+)?`)
	integerToken = regexp.MustCompile(`-?\d+`)

	// minusGlyphs maps dash-like runes that sites use in place of '-'.
	minusGlyphs = strings.NewReplacer(
		"−", "-", // minus sign
		"‒", "-", // figure dash
		"–", "-", // en dash
		"—", "-", // em dash
		"﹣", "-", // small hyphen-minus
		"－", "-", // fullwidth hyphen-minus
	)
)

// HasAny returns true if s contains any of the substrings.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ContainsFold reports whether sub is within s, ignoring case.
func ContainsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// ExtractFloat returns the first signed integer or decimal number in text.
// Comma decimal separators and alternate minus glyphs are normalized first.
// ok is false when text holds no number.
func ExtractFloat(text string) (float64, bool) {
	text = normalizeNumber(text)
	text = strings.ReplaceAll(text, ",", ".")

	token := decimalToken.FindString(text)
	if token == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractInt returns the first signed integer in text.
func ExtractInt(text string) (int, bool) {
	token := integerToken.FindString(normalizeNumber(text))
	if token == "" {
		return 0, false
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}
	return v, true
}

func normalizeNumber(text string) string {
	text = strings.TrimSpace(text)
	text = minusGlyphs.Replace(text)
	return strings.ReplaceAll(text, "+", "")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
