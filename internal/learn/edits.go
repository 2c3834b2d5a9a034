package learn

import (
	"math"
	"strings"

	"loadtender/internal"
	"loadtender/internal/util"
)

const (
	FieldReference   = "reference_number"
	FieldCommodity   = "commodity"
	FieldTemperature = "temperature"
	FieldWeight      = "weight"
)

// DetectAllEdits reports reviewer corrections as raw learning events:
// reference reclassifications plus cargo commodity, temperature mode and
// weight changes. Cosmetic edits (case, spacing, rounding) are ignored.
func (d *Detector) DetectAllEdits(original, final internal.StructuredShipment, candidates []internal.Candidate, text string) []internal.LearningEvent {
	events := []internal.LearningEvent{}

	for _, rc := range reclassified(original, final) {
		events = append(events, internal.LearningEvent{
			FieldType:   FieldReference,
			FieldPath:   rc.entry.path,
			BeforeValue: string(rc.original),
			AfterValue:  string(rc.entry.ref.Type),
			Context:     d.contextOf(rc.entry.ref.Value, candidates, text),
		})
	}

	before, after := util.Deref(original.Cargo.Commodity), util.Deref(final.Cargo.Commodity)
	if after != "" && !strings.EqualFold(util.NormalizeSpaces(before), util.NormalizeSpaces(after)) {
		events = append(events, internal.LearningEvent{
			FieldType:   FieldCommodity,
			FieldPath:   "cargo.commodity",
			BeforeValue: before,
			AfterValue:  after,
			Context:     d.contextOf(after, candidates, text),
		})
	}

	before, after = util.Deref(original.Cargo.Temperature), util.Deref(final.Cargo.Temperature)
	if mode := TemperatureMode(after); mode != "" && mode != TemperatureMode(before) {
		events = append(events, internal.LearningEvent{
			FieldType:   FieldTemperature,
			FieldPath:   "cargo.temperature",
			BeforeValue: before,
			AfterValue:  after,
			Context:     d.contextOf(after, candidates, text),
		})
	}

	if w := final.Cargo.Weight; w != nil && d.weightChanged(original.Cargo.Weight, *w) {
		prev := ""
		if original.Cargo.Weight != nil {
			prev = util.FormatNumber(*original.Cargo.Weight)
		}
		events = append(events, internal.LearningEvent{
			FieldType:   FieldWeight,
			FieldPath:   "cargo.weight",
			BeforeValue: prev,
			AfterValue:  util.FormatNumber(*w),
			Context:     d.contextOf(util.FormatNumber(*w), candidates, text),
		})
	}

	return events
}

func (d *Detector) weightChanged(before *float64, after float64) bool {
	if before == nil {
		return true
	}
	base := math.Max(math.Abs(*before), 1)
	return math.Abs(after-*before)/base > d.cfg.LearnWeightTolerance
}

func (d *Detector) contextOf(value string, candidates []internal.Candidate, text string) string {
	occ := occurrences(value, candidates, text)
	if len(occ) == 0 {
		return ""
	}
	return util.Snippet(text, occ[0], occ[0]+len(value), d.cfg.ContextWindow)
}

// TemperatureMode buckets a free-form temperature into frozen, refrigerated
// or dry. Fahrenheit is assumed when no unit is given.
func TemperatureMode(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return ""
	}
	switch {
	case strings.Contains(lower, "frozen") || strings.Contains(lower, "freez"):
		return "frozen"
	case strings.Contains(lower, "refriger") || strings.Contains(lower, "reefer") || strings.Contains(lower, "chill"):
		return "refrigerated"
	case strings.Contains(lower, "dry") || strings.Contains(lower, "ambient"):
		return "dry"
	}

	n := util.ParseNumber(lower)
	if n == nil {
		return ""
	}
	f := *n
	if strings.Contains(lower, "c") && !strings.Contains(lower, "f") {
		f = f*9/5 + 32
	}
	switch {
	case f <= 32:
		return "frozen"
	case f <= 50:
		return "refrigerated"
	default:
		return "dry"
	}
}
