// Package extract finds typed candidate spans in raw tender text and
// classifies reference numbers against a customer's rule snapshot.
package extract

import (
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"loadtender/internal"
	"loadtender/internal/config"
	"loadtender/internal/profile"
	"loadtender/internal/segment"
	"loadtender/internal/util"
)

// Version is recorded in every ExtractionResult so stored results can be
// traced back to the matcher set that produced them.
const Version = "1.3.0"

type candidateSource int

const (
	fromMatcher candidateSource = iota
	fromLabel
	fromRuleSweep
	fromGeneric
)

type rawCandidate struct {
	internal.Candidate
	source  candidateSource
	builtin internal.ReferenceSubtype
	label   string
	order   int
	rule    string
	trail   []internal.AuditEntry
}

type Extractor struct {
	cfg config.Config
	log *zap.Logger
}

type Option func(*Extractor)

func WithLogger(log *zap.Logger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

func New(cfg config.Config, opts ...Option) *Extractor {
	e := &Extractor{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never fails: malformed customer patterns were already set aside
// by profile.Compile and only show up as skipped audit entries here.
func (e *Extractor) Extract(text string, rules *profile.Compiled) internal.ExtractionResult {
	audit := &auditLog{}
	meta := internal.ExtractionMetadata{Version: Version, AppliedCustomerRules: []string{}}
	if rules != nil {
		meta.CustomerID = rules.CustomerID
		for _, rej := range rules.Rejected {
			audit.skip(rej.Key, "", "invalid pattern: "+rej.Err.Error())
			e.log.Warn("skipping malformed customer rule",
				zap.String("customer_id", rules.CustomerID),
				zap.String("rule", rej.Key),
				zap.Error(rej.Err))
		}
	}

	res := &resolver{
		text:  text,
		seg:   segment.New(text),
		rules: rules,
		scan:  e.cfg.LabelScanDistance,
	}

	var kept []rawCandidate
	for _, c := range e.scan(text, rules) {
		if c.Type == internal.CandidateReferenceNumber {
			trail := &auditLog{}
			if reason, ok := e.guard(text, &c, trail); !ok {
				e.log.Debug("reference candidate rejected",
					zap.String("value", c.Value),
					zap.Int("start", c.Position.Start),
					zap.String("reason", reason))
				continue
			}
			res.audit = trail
			r := res.resolve(&c)
			c.Subtype = r.subtype
			c.Confidence = r.confidence
			c.LabelHint = r.label
			c.rule = r.rule
			c.trail = trail.entries
		}
		kept = append(kept, c)
	}

	// Only candidates that survive dedupe contribute audit entries and
	// applied rules.
	candidates := dedupe(kept)
	out := make([]internal.Candidate, 0, len(candidates))
	for _, c := range candidates {
		audit.entries = append(audit.entries, c.trail...)
		if c.rule != "" && !slices.Contains(meta.AppliedCustomerRules, c.rule) {
			meta.AppliedCustomerRules = append(meta.AppliedCustomerRules, c.rule)
		}
		c.Context = util.Snippet(text, c.Position.Start, c.Position.End, e.cfg.ContextWindow)
		out = append(out, c.Candidate)
	}

	meta.AuditLog = audit.entries
	if meta.AuditLog == nil {
		meta.AuditLog = []internal.AuditEntry{}
	}
	e.log.Debug("extraction complete",
		zap.String("customer_id", meta.CustomerID),
		zap.Int("candidates", len(out)),
		zap.Int("rules_applied", len(meta.AppliedCustomerRules)))

	return internal.ExtractionResult{Candidates: out, Metadata: meta}
}

func (e *Extractor) scan(text string, rules *profile.Compiled) []rawCandidate {
	var out []rawCandidate
	add := func(c rawCandidate) {
		c.order = len(out)
		out = append(out, c)
	}

	for _, m := range matchers {
		for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			value := raw
			if m.valueGroup > 0 && loc[2*m.valueGroup] >= 0 {
				value = text[loc[2*m.valueGroup]:loc[2*m.valueGroup+1]]
			}
			switch m.shape {
			case shapeNumber:
				n := util.ParseNumber(value)
				if n == nil {
					continue
				}
				value = util.FormatNumber(*n)
			case shapeSpaces:
				value = util.NormalizeSpaces(value)
			default:
				value = strings.TrimSpace(value)
			}
			add(rawCandidate{
				Candidate: internal.Candidate{
					Type:       m.typ,
					Value:      value,
					RawMatch:   raw,
					Confidence: m.confidence,
					Position:   internal.Position{Start: loc[0], End: loc[1]},
				},
				source: fromMatcher,
			})
		}
	}

	for _, lm := range labeledMatchers {
		for _, loc := range lm.re.FindAllStringSubmatchIndex(text, -1) {
			value := text[loc[4]:loc[5]]
			if !util.HasDigit(value) {
				continue
			}
			add(referenceCandidate(text, loc[4], loc[5], internal.ConfidenceHigh, fromLabel, lm.subtype, util.NormalizeSpaces(text[loc[2]:loc[3]])))
		}
	}

	if rules != nil && len(rules.ValueRules) > 0 {
		for _, loc := range ruleToken.FindAllStringIndex(text, -1) {
			if !standalone(text, loc[0], loc[1]) {
				continue
			}
			token := text[loc[0]:loc[1]]
			if matchesActiveValueRule(rules, token) {
				add(referenceCandidate(text, loc[0], loc[1], internal.ConfidenceMedium, fromRuleSweep, "", ""))
			}
		}
	}

	for _, loc := range genericNumber.FindAllStringIndex(text, -1) {
		if !standalone(text, loc[0], loc[1]) {
			continue
		}
		add(referenceCandidate(text, loc[0], loc[1], internal.ConfidenceLow, fromGeneric, "", ""))
	}

	return out
}

func referenceCandidate(text string, start, end int, conf internal.Confidence, src candidateSource, builtin internal.ReferenceSubtype, label string) rawCandidate {
	return rawCandidate{
		Candidate: internal.Candidate{
			Type:       internal.CandidateReferenceNumber,
			Value:      text[start:end],
			RawMatch:   text[start:end],
			Confidence: conf,
			Position:   internal.Position{Start: start, End: end},
		},
		source:  src,
		builtin: builtin,
		label:   label,
	}
}

func matchesActiveValueRule(rules *profile.Compiled, token string) bool {
	for _, rule := range rules.ValueRules {
		if rule.Status != internal.RuleDeprecated && rule.Re.MatchString(token) {
			return true
		}
	}
	return false
}

// guard applies the length, quantity-label and phone filters to a
// reference candidate. It returns the rejection reason when the candidate
// must be dropped.
func (e *Extractor) guard(text string, c *rawCandidate, trail *auditLog) (string, bool) {
	n := utf8.RuneCountInString(c.Value)
	if n < minReferenceLength || n > maxReferenceLength {
		return "length out of bounds", false
	}
	if precededByNonReferenceLabel(text, c.Position.Start) {
		return "preceded by quantity label", false
	}

	sig := detectPhone(text, c.Value, c.Position.Start, c.Position.End, e.cfg.PhoneWindow)
	if !sig.fired() {
		return "", true
	}
	if c.source == fromLabel && c.Confidence == internal.ConfidenceHigh && !sig.definitive {
		trail.add("phone_guard", c.Value, "overridden by explicit label: "+sig.kind, false)
		return "", true
	}
	return sig.kind, false
}

// dedupe walks candidates by start position and drops any that overlap a
// retained candidate of strictly higher confidence, any non-reference that
// overlaps a retained reference, and exact repeats of a retained span.
func dedupe(cands []rawCandidate) []rawCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Position.Start != b.Position.Start {
			return a.Position.Start < b.Position.Start
		}
		if ra, rb := a.Confidence.Rank(), b.Confidence.Rank(); ra != rb {
			return ra > rb
		}
		aRef := a.Type == internal.CandidateReferenceNumber
		bRef := b.Type == internal.CandidateReferenceNumber
		if aRef != bRef {
			return aRef
		}
		if la, lb := a.Position.End-a.Position.Start, b.Position.End-b.Position.Start; la != lb {
			return la > lb
		}
		if a.source != b.source {
			return a.source < b.source
		}
		return a.order < b.order
	})

	kept := make([]rawCandidate, 0, len(cands))
	for _, c := range cands {
		if !shadowed(kept, c) {
			kept = append(kept, c)
		}
	}
	return kept
}

func shadowed(kept []rawCandidate, c rawCandidate) bool {
	for _, k := range kept {
		if !k.Position.Overlaps(c.Position) {
			continue
		}
		if k.Confidence.Rank() > c.Confidence.Rank() {
			return true
		}
		if k.Type == internal.CandidateReferenceNumber && c.Type != internal.CandidateReferenceNumber {
			return true
		}
		if k.Position == c.Position && k.Type == c.Type {
			return true
		}
	}
	return false
}
