package learn

import (
	"math"
	"regexp"
	"sort"
	"strconv"

	"loadtender/internal"
	"loadtender/internal/util"
)

var (
	shapePrefixDigits = regexp.MustCompile(`^([A-Za-z]{2,})(\d{4,})$`)
	shapePrefixDash   = regexp.MustCompile(`^([A-Za-z]{2,})-(\d{3,})$`)
	shapePrefixMixed  = regexp.MustCompile(`^([A-Za-z]{2,})(-?)([A-Za-z0-9]{3,})$`)
	shapeDigitsLetter = regexp.MustCompile(`^(\d+)-([A-Za-z]+)-(\d+)$`)

	legacyPrefix = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)
	legacyDashed = regexp.MustCompile(`^(\d+)-(\d+)$`)

	exclusions = []*regexp.Regexp{
		regexp.MustCompile(`^\+?1?[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}$`),
		regexp.MustCompile(`^\d{3}[\s.-]\d{4}$`),
		regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{2,4}$`),
		regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		regexp.MustCompile(`(?i)^\d{1,2}:\d{2}(?::\d{2})?(?:\s*[ap]m)?$`),
		regexp.MustCompile(`^\d{5}(?:-\d{4})?$`),
	}
	phoneLike = regexp.MustCompile(`^\+?1?[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}$|^\d{3}[\s.-]\d{4}$`)
)

// collisionOverflow stands in for the collision count of a pattern that
// does not compile; it always exceeds any configured limit.
const collisionOverflow = math.MaxInt32

// derivePattern generalizes a reference value into an anchored regular
// expression. The first matching shape wins; "" means the value has no
// generalizable shape.
func (d *Detector) derivePattern(value string) string {
	if m := shapePrefixDigits.FindStringSubmatch(value); m != nil {
		return `^` + regexp.QuoteMeta(m[1]) + `\d{` + strconv.Itoa(d.digitBound(len(m[2]))) + `,}$`
	}
	if m := shapePrefixDash.FindStringSubmatch(value); m != nil {
		return `^` + regexp.QuoteMeta(m[1]) + `-?\d{` + strconv.Itoa(d.digitBound(len(m[2]))) + `,}$`
	}
	if m := shapePrefixMixed.FindStringSubmatch(value); m != nil && util.HasLetter(m[3]) && util.HasDigit(m[3]) {
		dash := ""
		if m[2] != "" {
			dash = "-?"
		}
		return `^` + regexp.QuoteMeta(m[1]) + dash + `[A-Za-z0-9]{` + strconv.Itoa(d.digitBound(len(m[3]))) + `,}$`
	}
	if m := shapeDigitsLetter.FindStringSubmatch(value); m != nil {
		return `^\d{` + strconv.Itoa(len(m[1])) + `}-` + regexp.QuoteMeta(m[2]) + `-\d{` + strconv.Itoa(d.digitBound(len(m[3]))) + `,}$`
	}
	return ""
}

// digitBound is the lower bound of a generalized run: the observed length
// less the configured slack, floored at LearnMinDigits and never above
// what was observed.
func (d *Detector) digitBound(observed int) int {
	n := observed - d.cfg.LearnDigitSlack
	if n < d.cfg.LearnMinDigits {
		n = d.cfg.LearnMinDigits
	}
	if n > observed {
		n = observed
	}
	return n
}

func legacyRegex(value string) string {
	if m := legacyPrefix.FindStringSubmatch(value); m != nil {
		return `^` + regexp.QuoteMeta(m[1]) + `\d+$`
	}
	if m := legacyDashed.FindStringSubmatch(value); m != nil {
		return `^\d{` + strconv.Itoa(len(m[1])) + `}-\d{` + strconv.Itoa(len(m[2])) + `}$`
	}
	return ""
}

func excluded(value string) bool {
	for _, re := range exclusions {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func isPhoneLike(value string) bool {
	return phoneLike.MatchString(value)
}

// lowEntropy flags values too regular to identify anything: at most two
// distinct characters, a run of four identical characters, or four
// ascending digits in a row.
func lowEntropy(value string) bool {
	distinct := map[rune]bool{}
	for _, r := range value {
		distinct[r] = true
	}
	if len(distinct) <= 2 {
		return true
	}

	runes := []rune(value)
	same, asc := 1, 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			same++
		} else {
			same = 1
		}
		if isDigit(runes[i]) && isDigit(runes[i-1]) && runes[i] == runes[i-1]+1 {
			asc++
		} else {
			asc = 1
		}
		if same >= 4 || asc >= 4 {
			return true
		}
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// collisions counts the distinct observed values, across the candidate list
// and every token of the text, that pattern would also match.
func collisions(pattern string, candidates []internal.Candidate, text string) (int, []string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return collisionOverflow, nil
	}
	seen := map[string]bool{}
	for _, c := range candidates {
		if re.MatchString(c.Value) {
			seen[c.Value] = true
		}
	}
	for _, tok := range util.Tokens(text) {
		if re.MatchString(tok) {
			seen[tok] = true
		}
	}
	matches := make([]string, 0, len(seen))
	for v := range seen {
		matches = append(matches, v)
	}
	sort.Strings(matches)
	return len(matches), matches
}

type evaluation struct {
	pattern    string
	score      int
	collisions int
	matches    []string
	safe       bool
	reasons    []string
}

type observation struct {
	value           string
	originalUnknown bool
	scopes          int
	labels          int
}

// evaluate runs the safety filters, the collision check and the scoring
// function for one derived pattern.
func (d *Detector) evaluate(pattern string, obs observation, candidates []internal.Candidate, text string) evaluation {
	ev := evaluation{pattern: pattern, safe: true}
	ev.collisions, ev.matches = collisions(pattern, candidates, text)

	value := obs.value
	if obs.scopes > 1 {
		ev.score += 2
	}
	if obs.originalUnknown {
		ev.score += 2
	}
	if obs.labels >= 2 {
		ev.score++
	}
	if util.HasLetter(value) && util.HasDigit(value) {
		ev.score++
	}
	if len(value) < d.cfg.LearnMinValueLength {
		ev.score -= 2
		ev.safe = false
		ev.reasons = append(ev.reasons, "too short")
	}
	if ev.collisions > d.cfg.LearnMaxCollisions {
		ev.score -= 2
		ev.safe = false
		ev.reasons = append(ev.reasons, "too many collisions")
	}
	if excluded(value) {
		ev.score -= 2
		ev.safe = false
		ev.reasons = append(ev.reasons, "matches exclusion signature")
	}
	if lowEntropy(value) {
		ev.score--
		ev.safe = false
		ev.reasons = append(ev.reasons, "low entropy")
	}
	if util.IsNumeric(value) {
		ev.score--
	}
	return ev
}

func (ev evaluation) accepted(threshold int) bool {
	return ev.safe && ev.score >= threshold
}
