// Package profile compiles a customer rule snapshot once so the extractor
// never re-parses patterns per candidate.
package profile

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"loadtender/internal"
)

type ValueRule struct {
	internal.ReferenceValueRule
	Re    *regexp.Regexp
	Index int
}

type RegexRule struct {
	internal.ReferenceRegexRule
	Re *regexp.Regexp
}

type LabelRule struct {
	internal.ReferenceLabelRule
	lower string
}

// Rejected records a rule whose pattern failed to compile.
type Rejected struct {
	Key string
	Err error
}

type Compiled struct {
	CustomerID string
	// ValueRules is ordered by priority desc, scoped before global, then
	// declaration order.
	ValueRules []ValueRule
	RegexRules []RegexRule
	LabelRules []LabelRule
	Rejected   []Rejected
}

func CompileValueRule(rule internal.ReferenceValueRule) (ValueRule, error) {
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return ValueRule{}, eris.Wrapf(err, "profile: value rule %q", rule.Pattern)
	}
	if rule.Scope == "" {
		rule.Scope = internal.ScopeGlobal
	}
	if rule.Status == "" {
		rule.Status = internal.RuleActive
	}
	if rule.Confidence == "" {
		rule.Confidence = internal.ConfidenceHigh
	}
	return ValueRule{ReferenceValueRule: rule, Re: re}, nil
}

func CompileRegexRule(rule internal.ReferenceRegexRule) (RegexRule, error) {
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return RegexRule{}, eris.Wrapf(err, "profile: regex rule %q", rule.Pattern)
	}
	return RegexRule{ReferenceRegexRule: rule, Re: re}, nil
}

// Compile never fails as a whole: malformed patterns are collected in
// Rejected and the remaining rules stay usable.
func Compile(p internal.CustomerProfile) *Compiled {
	c := &Compiled{CustomerID: p.CustomerID}

	for i, rule := range p.ValueRules {
		compiled, err := CompileValueRule(rule)
		if err != nil {
			c.Rejected = append(c.Rejected, Rejected{Key: ValueKey(rule.Pattern), Err: err})
			continue
		}
		compiled.Index = i
		c.ValueRules = append(c.ValueRules, compiled)
	}
	sort.SliceStable(c.ValueRules, func(i, j int) bool {
		a, b := c.ValueRules[i], c.ValueRules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		aScoped := a.Scope != internal.ScopeGlobal
		bScoped := b.Scope != internal.ScopeGlobal
		if aScoped != bScoped {
			return aScoped
		}
		return a.Index < b.Index
	})

	for _, rule := range p.RegexRules {
		compiled, err := CompileRegexRule(rule)
		if err != nil {
			c.Rejected = append(c.Rejected, Rejected{Key: RegexKey(rule.Pattern), Err: err})
			continue
		}
		c.RegexRules = append(c.RegexRules, compiled)
	}

	for _, rule := range p.LabelRules {
		label := strings.TrimSpace(rule.Label)
		if label == "" {
			continue
		}
		if rule.Confidence == "" {
			rule.Confidence = internal.ConfidenceMedium
		}
		c.LabelRules = append(c.LabelRules, LabelRule{ReferenceLabelRule: rule, lower: strings.ToLower(label)})
	}

	return c
}

// Empty reports whether the profile carries no usable rules.
func (c *Compiled) Empty() bool {
	return c == nil || (len(c.ValueRules) == 0 && len(c.RegexRules) == 0 && len(c.LabelRules) == 0 && len(c.Rejected) == 0)
}

func (r LabelRule) Lower() string { return r.lower }

func (r ValueRule) Key() string { return ValueKey(r.Pattern) }

func (r RegexRule) Key() string { return RegexKey(r.Pattern) }

func (r LabelRule) Key() string { return LabelKey(r.Label) }

func ValueKey(pattern string) string { return "value:" + pattern }

func RegexKey(pattern string) string { return "regex:" + pattern }

func LabelKey(label string) string { return "label:" + strings.TrimSpace(label) }

// ScopeAllows reports whether a rule of the given scope may classify a value
// found in block. Unknown blocks only accept global rules.
func ScopeAllows(scope internal.RuleScope, block string) bool {
	switch scope {
	case internal.ScopeGlobal, "":
		return true
	case internal.ScopePickup, internal.ScopeDelivery, internal.ScopeHeader:
		return string(scope) == block
	default:
		return false
	}
}
