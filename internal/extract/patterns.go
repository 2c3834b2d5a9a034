package extract

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"loadtender/internal"
)

type valueShape int

const (
	shapeWhole valueShape = iota
	shapeNumber
	shapeSpaces
)

type matcher struct {
	name       string
	typ        internal.CandidateType
	re         *regexp.Regexp
	valueGroup int
	shape      valueShape
	confidence internal.Confidence
}

// Order matters: ties in span and confidence keep the earlier matcher.
var matchers = []matcher{
	{
		name:       "date",
		typ:        internal.CandidateDate,
		re:         regexp.MustCompile(`(?i)\b(?:\d{1,2}[/-]\d{1,2}[/-](?:\d{4}|\d{2})|\d{4}-\d{2}-\d{2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`),
		confidence: internal.ConfidenceHigh,
	},
	{
		name:       "time",
		typ:        internal.CandidateTime,
		re:         regexp.MustCompile(`(?i)\b(?:(?:[01]?\d|2[0-3]):[0-5]\d(?:\s*[ap]m)?|(?:1[0-2]|0?[1-9])\s*[ap]m|(?:[01]\d|2[0-3])[0-5]\d\s*hrs)\b`),
		confidence: internal.ConfidenceHigh,
	},
	{
		name:       "city_state_zip",
		typ:        internal.CandidateCityStateZip,
		re:         regexp.MustCompile(`\b[A-Z][A-Za-z.'\-]*(?:[ \t]+[A-Z][A-Za-z.'\-]*){0,3},[ \t]*[A-Z]{2}[ \t]+\d{5}(?:-\d{4})?\b`),
		shape:      shapeSpaces,
		confidence: internal.ConfidenceHigh,
	},
	{
		name:       "address",
		typ:        internal.CandidateAddress,
		re:         regexp.MustCompile(`(?i)\b\d{1,6}[ \t]+(?:[A-Za-z0-9.'\-]+[ \t]+){0,4}?(?:st|street|ave|avenue|rd|road|blvd|boulevard|dr|drive|ln|lane|way|hwy|highway|pkwy|parkway|ct|court|pl|place|cir|circle|trl|trail|pike)\b\.?(?:[ \t]+(?:ste|suite|unit|#)[ \t]*[A-Za-z0-9-]+)?`),
		shape:      shapeSpaces,
		confidence: internal.ConfidenceMedium,
	},
	{
		name:       "weight",
		typ:        internal.CandidateWeight,
		re:         regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*(?:lbs?|pounds|kgs?|kilograms)\b\.?`),
		valueGroup: 1,
		shape:      shapeNumber,
		confidence: internal.ConfidenceHigh,
	},
	{
		name:       "pieces",
		typ:        internal.CandidatePieces,
		re:         regexp.MustCompile(`(?i)\b(\d{1,5})\s*(?:pallets?|plts?|pcs|pieces|skids?|cartons?|cases|boxes|units|totes|drums|crates)\b`),
		valueGroup: 1,
		shape:      shapeNumber,
		confidence: internal.ConfidenceMedium,
	},
	{
		name:       "dimensions",
		typ:        internal.CandidateDimensions,
		re:         regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:"|in|ft|')?\s*[x×]\s*\d+(?:\.\d+)?\s*(?:"|in|ft|')?\s*[x×]\s*\d+(?:\.\d+)?(?:\s*(?:"|inches\b|in\b|ft\b|feet\b|cm\b))?`),
		shape:      shapeSpaces,
		confidence: internal.ConfidenceMedium,
	},
	{
		name:       "temperature",
		typ:        internal.CandidateTemperature,
		re:         regexp.MustCompile(`(?i)-?\b\d{1,3}(?:\.\d)?\s*(?:°|deg(?:rees)?)?\s*[FC]\b|\b(?:keep\s+)?(?:frozen|refrigerated|reefer|chilled)\b`),
		shape:      shapeSpaces,
		confidence: internal.ConfidenceMedium,
	},
}

type referenceLabel struct {
	subtype internal.ReferenceSubtype
	label   string
	// strict labels double as section headings ("Pickup", "Delivery") and
	// only count when followed by '#', "no" or "number".
	strict bool
}

var referenceLabels = []referenceLabel{
	{subtype: internal.SubtypeBOL, label: `load|bol|b/l|bill\s+of\s+lading|bl`},
	{subtype: internal.SubtypePO, label: `cust(?:omer)?\s+po|p\.?o|purchase\s+order`},
	{subtype: internal.SubtypeOrder, label: `order|sales\s+order`},
	{subtype: internal.SubtypePickup, label: `pick\s*-?\s*up|pu`, strict: true},
	{subtype: internal.SubtypeDelivery, label: `delivery|del`, strict: true},
	{subtype: internal.SubtypeAppointment, label: `appt|appointment`, strict: true},
	{subtype: internal.SubtypeReference, label: `ref|reference`},
	{subtype: internal.SubtypeConfirmation, label: `conf|confirmation`},
	{subtype: internal.SubtypePRO, label: `pro`},
	{subtype: internal.SubtypeRelease, label: `release|rel`},
}

type labeledMatcher struct {
	subtype internal.ReferenceSubtype
	re      *regexp.Regexp
}

const (
	labelNumberMarker = `(?:#|no\b\.?|num(?:ber)?\b)`
	referenceValue    = `([\p{L}\p{N}][\p{L}\p{N}\-]{2,24})`
)

var labeledMatchers = buildLabeledMatchers()

// genericLabelTail recognizes any built-in label directly before a value.
var genericLabelTail = buildGenericLabelTail()

// genericNumber and ruleToken carry no \b anchors since \b only knows ASCII
// letters; matches are kept only when standalone reports true.
var genericNumber = regexp.MustCompile(`\d{4,20}`)

var ruleToken = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}\-]{2,23}[\p{L}\p{N}]`)

// standalone reports whether text[start:end] is not glued to a letter,
// digit or underscore on either side.
func standalone(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func buildLabeledMatchers() []labeledMatcher {
	out := make([]labeledMatcher, 0, len(referenceLabels))
	for _, l := range referenceLabels {
		marker := labelNumberMarker + `?`
		if l.strict {
			marker = labelNumberMarker
		}
		re := regexp.MustCompile(`(?i)\b(` + l.label + `)\b\.?\s*` + marker + `\s*[:#]?\s*` + referenceValue)
		out = append(out, labeledMatcher{subtype: l.subtype, re: re})
	}
	return out
}

func buildGenericLabelTail() []labeledMatcher {
	out := make([]labeledMatcher, 0, len(referenceLabels))
	for _, l := range referenceLabels {
		marker := labelNumberMarker + `?`
		if l.strict {
			marker = labelNumberMarker
		}
		re := regexp.MustCompile(`(?i)\b(?:` + l.label + `)\b\.?\s*` + marker + `\s*[:#]?\s*$`)
		out = append(out, labeledMatcher{subtype: l.subtype, re: re})
	}
	return out
}
