package extract

import (
	"regexp"
)

var (
	// A complete phone number written with separators. This is the only
	// phone signal an explicit reference label cannot override.
	phoneDefinitive = regexp.MustCompile(`^(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}$`)
	phoneTenDigit   = regexp.MustCompile(`^1?\d{10}$`)
	phonePartial    = regexp.MustCompile(`^(?:\(?\d{3}\)?[\s.-]\d{3}|\d{3}[\s.-]\d{4})$`)
	phoneSevenDigit = regexp.MustCompile(`^\d{7}$`)

	phoneLabelBefore = regexp.MustCompile(`(?i)\b(?:phone|ph|tel|telephone|fax|cell|mobile|contact|call)\b\.?\s*(?:#|no\.?|number)?\s*[:.]?\s*$`)
	phoneLabelNearby = regexp.MustCompile(`(?i)\b(?:phone|ph|tel|telephone|fax|cell|mobile|contact)\b`)
	phoneInText      = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`)

	// Quantities, not identifiers.
	nonReferenceLabel = regexp.MustCompile(`(?i)(?:\b(?:total|amount|usd|weight|wt|gross|lbs|temp|temperature|miles|mileage|mi|pieces|pcs|qty|quantity|pallets|rate|charge|cost)\b\s*[:#=]?|\$)\s*\$?\s*$`)

	labelToken = regexp.MustCompile(`(?i)[:#]|\b(?:no|num|number|ref|id)\b`)
)

const (
	phoneLabelLookback   = 20
	sevenDigitLookback   = 30
	nonReferenceLookback = 25
	regexLabelLookback   = 30
	genericLabelLookback = 30
	minReferenceLength   = 4
	maxReferenceLength   = 25
)

type phoneSignal struct {
	kind       string
	definitive bool
}

func (s phoneSignal) fired() bool { return s.kind != "" }

// detectPhone reports the strongest phone signal for a reference value at
// [start,end) of text.
func detectPhone(text, value string, start, end, window int) phoneSignal {
	switch {
	case phoneDefinitive.MatchString(value):
		return phoneSignal{kind: "phone format", definitive: true}
	case phoneTenDigit.MatchString(value):
		return phoneSignal{kind: "10-digit phone shape"}
	case phonePartial.MatchString(value):
		return phoneSignal{kind: "partial phone shape"}
	case phoneSevenDigit.MatchString(value) && phoneLabelNearby.MatchString(before(text, start, sevenDigitLookback)):
		return phoneSignal{kind: "7-digit value near phone label"}
	}

	if phoneLabelBefore.MatchString(before(text, start, phoneLabelLookback)) {
		return phoneSignal{kind: "preceded by phone label"}
	}

	from, to := clamp(text, start-window, end+window)
	for _, loc := range phoneInText.FindAllStringIndex(text[from:to], -1) {
		if from+loc[0] == start && from+loc[1] == end {
			continue
		}
		return phoneSignal{kind: "adjacent to phone number"}
	}
	return phoneSignal{}
}

func precededByNonReferenceLabel(text string, start int) bool {
	return nonReferenceLabel.MatchString(before(text, start, nonReferenceLookback))
}

func labelNearby(text string, start int) bool {
	return labelToken.MatchString(before(text, start, regexLabelLookback))
}

func before(text string, start, n int) string {
	from, to := clamp(text, start-n, start)
	return text[from:to]
}

func clamp(text string, from, to int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to > len(text) {
		to = len(text)
	}
	if from > to {
		from = to
	}
	return from, to
}
