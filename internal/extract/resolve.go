package extract

import (
	"fmt"
	"strings"

	"loadtender/internal"
	"loadtender/internal/profile"
	"loadtender/internal/segment"
)

// resolution is the outcome of classifying one reference candidate.
type resolution struct {
	subtype    internal.ReferenceSubtype
	confidence internal.Confidence
	label      string
	rule       string
}

// resolver applies customer rules in strict precedence: value pattern,
// customer regex, customer label, built-in label. The first step that
// yields a subtype wins. Evaluations go to audit, which the caller points
// at the trail of the candidate being resolved.
type resolver struct {
	text  string
	seg   *segment.Segmenter
	rules *profile.Compiled
	scan  int
	audit *auditLog
}

func (r *resolver) resolve(c *rawCandidate) resolution {
	if r.rules != nil {
		if res, ok := r.byValueRule(c); ok {
			return res
		}
		if res, ok := r.byRegexRule(c); ok {
			return res
		}
		if res, ok := r.byLabelRule(c); ok {
			return res
		}
	}
	if c.builtin.IsKnown() {
		return resolution{subtype: c.builtin, confidence: internal.ConfidenceHigh, label: c.label}
	}
	window := before(r.text, c.Position.Start, genericLabelLookback)
	for _, tail := range genericLabelTail {
		if loc := tail.re.FindStringIndex(window); loc != nil {
			return resolution{
				subtype:    tail.subtype,
				confidence: internal.ConfidenceMedium,
				label:      strings.TrimSpace(window[loc[0]:loc[1]]),
			}
		}
	}
	return resolution{subtype: internal.SubtypeUnknown, confidence: internal.ConfidenceLow}
}

func (r *resolver) byValueRule(c *rawCandidate) (resolution, bool) {
	var block segment.Block
	for _, rule := range r.rules.ValueRules {
		if !rule.Re.MatchString(c.Value) {
			continue
		}
		if rule.Status == internal.RuleDeprecated {
			r.audit.skip(rule.Key(), c.Value, "rule deprecated")
			continue
		}
		if block == "" {
			block = r.seg.BlockAt(c.Position.Start)
		}
		if !profile.ScopeAllows(rule.Scope, string(block)) {
			r.audit.skip(rule.Key(), c.Value, fmt.Sprintf("scope %s does not cover %s block", rule.Scope, block))
			continue
		}
		r.apply(rule.Key(), c.Value, "value pattern matched in "+string(block)+" block")
		return resolution{subtype: rule.Subtype, confidence: rule.Confidence, label: c.label, rule: rule.Key()}, true
	}
	return resolution{}, false
}

func (r *resolver) byRegexRule(c *rawCandidate) (resolution, bool) {
	for _, rule := range r.rules.RegexRules {
		if !rule.Re.MatchString(c.Value) {
			continue
		}
		if !labelNearby(r.text, c.Position.Start) {
			r.audit.skip(rule.Key(), c.Value, "no label context")
			continue
		}
		r.apply(rule.Key(), c.Value, "regex matched with label context")
		return resolution{subtype: rule.Subtype, confidence: internal.ConfidenceHigh, label: c.label, rule: rule.Key()}, true
	}
	return resolution{}, false
}

// byLabelRule picks the customer label closest to the value; equal distance
// prefers the longer label.
func (r *resolver) byLabelRule(c *rawCandidate) (resolution, bool) {
	from, _ := clamp(r.text, c.Position.Start-r.scan, c.Position.Start)
	window := strings.ToLower(r.text[from:c.Position.Start])

	best := -1
	bestEnd := -1
	for i, rule := range r.rules.LabelRules {
		idx := strings.LastIndex(window, rule.Lower())
		if idx < 0 {
			continue
		}
		end := idx + len(rule.Lower())
		if end > bestEnd || (end == bestEnd && len(rule.Lower()) > len(r.rules.LabelRules[best].Lower())) {
			best, bestEnd = i, end
		}
	}
	if best < 0 {
		return resolution{}, false
	}
	rule := r.rules.LabelRules[best]
	r.apply(rule.Key(), c.Value, fmt.Sprintf("label found %d chars before value", len(window)-bestEnd))
	return resolution{subtype: rule.Subtype, confidence: rule.Confidence, label: rule.Label, rule: rule.Key()}, true
}

func (r *resolver) apply(key, value, reason string) {
	r.audit.add(key, value, reason, true)
}

type auditLog struct {
	entries []internal.AuditEntry
}

func (a *auditLog) add(rule, candidate, reason string, applied bool) {
	a.entries = append(a.entries, internal.AuditEntry{Rule: rule, Candidate: candidate, Reason: reason, Applied: applied})
}

func (a *auditLog) skip(rule, candidate, reason string) {
	a.add(rule, candidate, reason, false)
}
