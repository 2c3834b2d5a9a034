package util

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reSpaces     = regexp.MustCompile(`\s+`)
	reTokenSplit = regexp.MustCompile(`[\s,;:()\[\]{}"'<>|*!?]+`)
)

func StringPtr(v string) *string { return &v }

func FloatPtr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }

func BoolPtr(v bool) *bool { return &v }

func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// NormalizeRef is the equality key for reference numbers: upper-cased,
// whitespace removed, leading zeros stripped.
func NormalizeRef(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.Join(strings.Fields(s), "")
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	return trimmed
}

func IndexFold(haystack, needle string) int {
	if needle == "" {
		return -1
	}
	return strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
}

func ContainsFold(haystack, needle string) bool {
	return IndexFold(haystack, needle) >= 0
}

// AllIndexFold returns every byte offset where needle occurs in haystack,
// case-insensitively.
func AllIndexFold(haystack, needle string) []int {
	if needle == "" {
		return nil
	}
	h := strings.ToLower(haystack)
	n := strings.ToLower(needle)
	var out []int
	for from := 0; from <= len(h)-len(n); {
		idx := strings.Index(h[from:], n)
		if idx < 0 {
			break
		}
		out = append(out, from+idx)
		from += idx + 1
	}
	return out
}

// SignificantWords splits on anything that is not a letter or digit and keeps
// words longer than two characters, lower-cased.
func SignificantWords(input string) []string {
	parts := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) > 2 {
			out = append(out, p)
		}
	}
	return out
}

func WordCount(input string) int {
	return len(strings.Fields(input))
}

// Tokens splits text on whitespace and punctuation, trimming trailing dots.
// Hyphens, slashes and '#' survive because reference numbers carry them.
func Tokens(text string) []string {
	parts := reTokenSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".#")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func HasLetter(input string) bool {
	for _, r := range input {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func HasDigit(input string) bool {
	for _, r := range input {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func IsNumeric(input string) bool {
	if input == "" {
		return false
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Snippet returns text around [start,end) widened by window bytes on each side,
// whitespace-collapsed.
func Snippet(text string, start, end, window int) string {
	from := start - window
	if from < 0 {
		from = 0
	}
	to := end + window
	if to > len(text) {
		to = len(text)
	}
	if from >= to {
		return ""
	}
	return NormalizeSpaces(text[from:to])
}
