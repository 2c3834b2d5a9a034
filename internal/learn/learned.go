package learn

import (
	"strings"

	"loadtender/internal"
)

// IsRuleAlreadyLearned reports whether an existing rule already covers the
// suggestion. A global value rule subsumes any requested scope. Deprecated
// rules count as learned so a rejected rule is not proposed again.
func IsRuleAlreadyLearned(s internal.SuggestedRule, labels []internal.ReferenceLabelRule, regexes []internal.ReferenceRegexRule, values []internal.ReferenceValueRule) bool {
	switch s.Type {
	case internal.RuleTypeLabel:
		for _, r := range labels {
			if strings.EqualFold(strings.TrimSpace(r.Label), strings.TrimSpace(s.Label)) && r.Subtype == s.Subtype {
				return true
			}
		}
	case internal.RuleTypeRegex:
		for _, r := range regexes {
			if strings.EqualFold(r.Pattern, s.Pattern) && r.Subtype == s.Subtype {
				return true
			}
		}
	case internal.RuleTypeValuePattern:
		want := s.Scope
		if want == "" {
			want = internal.ScopeGlobal
		}
		for _, r := range values {
			if r.Pattern != s.Pattern || r.Subtype != s.Subtype {
				continue
			}
			if r.Scope == "" || r.Scope == internal.ScopeGlobal || r.Scope == want {
				return true
			}
		}
	}
	return false
}

// FilterLearned drops suggestions the profile already carries.
func FilterLearned(suggestions []internal.SuggestedRule, p internal.CustomerProfile) []internal.SuggestedRule {
	out := make([]internal.SuggestedRule, 0, len(suggestions))
	for _, s := range suggestions {
		if !IsRuleAlreadyLearned(s, p.LabelRules, p.RegexRules, p.ValueRules) {
			out = append(out, s)
		}
	}
	return out
}
