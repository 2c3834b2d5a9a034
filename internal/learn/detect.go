// Package learn turns human corrections of a verified shipment into rule
// suggestions and learning events. Nothing here writes rules; suggestions
// wait for explicit approval.
package learn

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"loadtender/internal"
	"loadtender/internal/config"
	"loadtender/internal/segment"
	"loadtender/internal/util"
)

const (
	labelLookback = 40
	maxExamples   = 5
)

// Label-before-value layouts: "PO: X", "PO # X", "PO = X", "PO Number X".
var labelTemplates = []*regexp.Regexp{
	regexp.MustCompile(`([A-Za-z][A-Za-z .]*?)\s*(?:#|no\.?|num|number)?\s*[:#=]\s*$`),
	regexp.MustCompile(`(?i)([A-Za-z][A-Za-z .]*?)\s+(?:#|no\.?|num|number)\s*$`),
	regexp.MustCompile(`([A-Za-z][A-Za-z .]*?)\s+-\s+$`),
}

var labelDenylist = map[string]bool{
	"total": true, "phone": true, "fax": true, "miles": true, "weight": true,
	"amount": true, "rate": true, "date": true, "time": true, "temp": true,
	"pieces": true, "qty": true, "cell": true, "contact": true, "email": true,
	"zip": true,
}

type Detector struct {
	cfg config.Config
	log *zap.Logger
}

type Option func(*Detector)

func WithLogger(log *zap.Logger) Option {
	return func(d *Detector) {
		if log != nil {
			d.log = log
		}
	}
}

func New(cfg config.Config, opts ...Option) *Detector {
	d := &Detector{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// refEntry is one reference number with the path it sits at.
type refEntry struct {
	path string
	ref  internal.ReferenceNumber
	stop internal.StopType
}

func collectRefs(s internal.StructuredShipment) []refEntry {
	var out []refEntry
	for i, r := range s.ReferenceNumbers {
		out = append(out, refEntry{path: fmt.Sprintf("reference_numbers[%d].value", i), ref: r})
	}
	for i, stop := range s.Stops {
		for j, r := range stop.ReferenceNumbers {
			out = append(out, refEntry{path: fmt.Sprintf("stops[%d].reference_numbers[%d].value", i, j), ref: r, stop: stop.Type})
		}
	}
	return out
}

// reclassification is a reference whose subtype a reviewer changed.
type reclassification struct {
	entry    refEntry
	original internal.ReferenceSubtype
}

// reclassified pairs references by normalized value. A reference absent
// from the original counts as originally unknown.
func reclassified(original, final internal.StructuredShipment) []reclassification {
	before := map[string]internal.ReferenceSubtype{}
	for _, e := range collectRefs(original) {
		key := util.NormalizeRef(e.ref.Value)
		if cur, ok := before[key]; !ok || (!cur.IsKnown() && e.ref.Type.IsKnown()) {
			before[key] = e.ref.Type
		}
	}

	seen := map[string]bool{}
	var out []reclassification
	for _, e := range collectRefs(final) {
		key := util.NormalizeRef(e.ref.Value)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if !e.ref.Type.IsKnown() {
			continue
		}
		orig := before[key]
		if orig == e.ref.Type {
			continue
		}
		out = append(out, reclassification{entry: e, original: orig})
	}
	return out
}

// DetectReclassifications proposes at most one rule per reclassified
// reference: a value pattern when one passes the safety filters and the
// score threshold, otherwise a label rule, otherwise a legacy regex rule.
func (d *Detector) DetectReclassifications(original, final internal.StructuredShipment, candidates []internal.Candidate, text string) []internal.SuggestedRule {
	seg := segment.New(text)
	var out []internal.SuggestedRule

	for _, rc := range reclassified(original, final) {
		value := strings.TrimSpace(rc.entry.ref.Value)
		subtype := rc.entry.ref.Type
		log := d.log.With(zap.String("value", value), zap.String("subtype", string(subtype)))

		if reason := d.ineligible(value); reason != "" {
			log.Debug("no suggestion", zap.String("reason", reason))
			continue
		}

		occ := occurrences(value, candidates, text)
		labels := labelsNear(text, occ)
		context := ""
		if len(occ) > 0 {
			context = util.Snippet(text, occ[0], occ[0]+len(value), d.cfg.ContextWindow)
		}
		scope, scopes := scopeOf(seg, occ, rc.entry.stop)

		if pattern := d.derivePattern(value); pattern != "" {
			ev := d.evaluate(pattern, observation{
				value:           value,
				originalUnknown: !rc.original.IsKnown(),
				scopes:          scopes,
				labels:          len(labels),
			}, candidates, text)
			if ev.accepted(d.cfg.LearnScoreThreshold) {
				score, count := ev.score, ev.collisions
				out = append(out, internal.SuggestedRule{
					Type:           internal.RuleTypeValuePattern,
					Pattern:        pattern,
					Subtype:        subtype,
					Scope:          scope,
					ExampleValue:   value,
					Context:        context,
					MatchCount:     &count,
					ExampleMatches: firstN(ev.matches, maxExamples),
					Score:          &score,
				})
				continue
			}
			log.Debug("value pattern rejected",
				zap.String("pattern", pattern),
				zap.Int("score", ev.score),
				zap.Int("collisions", ev.collisions),
				zap.Strings("reasons", ev.reasons))
		}

		if len(labels) > 0 {
			out = append(out, internal.SuggestedRule{
				Type:         internal.RuleTypeLabel,
				Label:        labels[0],
				Subtype:      subtype,
				ExampleValue: value,
				Context:      context,
			})
			continue
		}

		if pattern := legacyRegex(value); pattern != "" {
			out = append(out, internal.SuggestedRule{
				Type:         internal.RuleTypeRegex,
				Pattern:      pattern,
				Subtype:      subtype,
				ExampleValue: value,
				Context:      context,
			})
			continue
		}

		log.Debug("no context found")
	}

	return dedupeSuggestions(out)
}

// ineligible names the reason a value can never back a suggestion of any
// kind, or returns "".
func (d *Detector) ineligible(value string) string {
	switch {
	case len(value) < d.cfg.LearnMinValueLength:
		return "too short"
	case isPhoneLike(value):
		return "phone-like"
	case util.IsNumeric(value):
		return "purely numeric"
	}
	return ""
}

// occurrences returns the sorted start offsets of value in text, taken from
// matching candidates and from a case-insensitive search.
func occurrences(value string, candidates []internal.Candidate, text string) []int {
	key := util.NormalizeRef(value)
	seen := map[int]bool{}
	for _, c := range candidates {
		if c.Type == internal.CandidateReferenceNumber && util.NormalizeRef(c.Value) == key {
			seen[c.Position.Start] = true
		}
	}
	for _, idx := range util.AllIndexFold(text, value) {
		seen[idx] = true
	}
	out := make([]int, 0, len(seen))
	for pos := range seen {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// labelsNear extracts the distinct labels written directly before each
// occurrence, in order of first appearance.
func labelsNear(text string, occ []int) []string {
	var out []string
	seen := map[string]bool{}
	for _, pos := range occ {
		label := labelBefore(text, pos)
		if label == "" || seen[strings.ToLower(label)] {
			continue
		}
		seen[strings.ToLower(label)] = true
		out = append(out, label)
	}
	return out
}

func labelBefore(text string, pos int) string {
	from := pos - labelLookback
	if from < 0 {
		from = 0
	}
	if pos > len(text) {
		return ""
	}
	line := text[from:pos]
	if nl := strings.LastIndexByte(line, '\n'); nl >= 0 {
		line = line[nl+1:]
	}
	for _, tpl := range labelTemplates {
		m := tpl.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := strings.Trim(util.NormalizeSpaces(m[1]), " .")
		if len(label) < 2 || len(label) > 30 || denied(label) {
			continue
		}
		return label
	}
	return ""
}

func denied(label string) bool {
	for _, w := range strings.Fields(strings.ToLower(label)) {
		if labelDenylist[strings.Trim(w, ".")] {
			return true
		}
	}
	return false
}

// scopeOf derives the rule scope from where the value was seen. A value
// confined to one stop kind is scoped to it; anything else is global.
func scopeOf(seg *segment.Segmenter, occ []int, stop internal.StopType) (internal.RuleScope, int) {
	blocks := map[segment.Block]bool{}
	for _, pos := range occ {
		if b := seg.BlockAt(pos); b != segment.Unknown {
			blocks[b] = true
		}
	}
	if len(blocks) == 0 {
		switch stop {
		case internal.StopPickup:
			return internal.ScopePickup, 1
		case internal.StopDelivery:
			return internal.ScopeDelivery, 1
		}
		return internal.ScopeGlobal, 0
	}
	if len(blocks) == 1 {
		switch {
		case blocks[segment.Pickup]:
			return internal.ScopePickup, 1
		case blocks[segment.Delivery]:
			return internal.ScopeDelivery, 1
		}
	}
	return internal.ScopeGlobal, len(blocks)
}

func dedupeSuggestions(in []internal.SuggestedRule) []internal.SuggestedRule {
	out := make([]internal.SuggestedRule, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		key := string(s.Type) + "\x00" + s.Pattern
		if s.Type == internal.RuleTypeLabel {
			key = string(s.Type) + "\x00" + strings.ToLower(s.Label)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}
