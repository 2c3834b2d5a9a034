package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reNumberToken = regexp.MustCompile(`-?\d{1,3}(?:,\d{3})+(?:\.\d+)?|-?\d+(?:\.\d+)?`)
)

// ParseNumber reads the first number in input. US thousands separators are
// accepted ("42,000 lbs" -> 42000).
func ParseNumber(input string) *float64 {
	token := reNumberToken.FindString(strings.ReplaceAll(input, " ", " "))
	if token == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(StripCommas(token), 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func StripCommas(input string) string {
	return strings.ReplaceAll(input, ",", "")
}

// LooksNumeric reports whether the value is a plain number, optionally with
// thousands separators or a decimal part.
func LooksNumeric(input string) bool {
	s := strings.TrimSpace(input)
	return s != "" && reNumberToken.FindString(s) == s
}
