package fueltrim

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Classify parses input as a fuel trim percentage and grades it.
//
// Parsing takes the longest numeric prefix after leading whitespace, so values
// rendered with a unit ("3.5 %") still classify. Input without a numeric prefix
// yields Unknown; Classify never fails.
func Classify(input string) Status {
	v, ok := parseLeadingFloat(input)
	if !ok {
		return Unknown
	}
	return ClassifyValue(v)
}

// ClassifyValue grades an already decoded fuel trim percentage. NaN is Unknown.
func ClassifyValue(v float64) Status {
	if math.IsNaN(v) {
		return Unknown
	}
	abs := math.Abs(v)
	for _, b := range bands {
		if abs <= b.max {
			return b.status
		}
	}
	return CheckEngine
}

// parseLeadingFloat reads an optionally signed decimal literal (or Infinity)
// from the start of s and ignores whatever trails it.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, isSpace)

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		if s[0] == '-' {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		// "5." is a number, a lone "." is not
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0, false
	}

	// exponent only counts when at least one digit follows it
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			i = k
		}
	}

	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		// out of range literals saturate to ±Inf or 0, which still grade
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return v, true
		}
		return 0, false
	}
	return v, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isSpace also strips the byte order mark, which a leading-number parse
// treats as whitespace.
func isSpace(r rune) bool { return unicode.IsSpace(r) || r == '\uFEFF' }
