// Package verify cross-checks a classifier's draft shipment against the
// source text and extracted candidates. Every retained value leaves with a
// provenance record; values without evidence are nulled or, for reference
// numbers, downgraded to unknown.
package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"loadtender/internal"
	"loadtender/internal/config"
	"loadtender/internal/util"
)

const (
	textMatchConfidence   = 0.85
	wordOverlapConfidence = 0.7
	inferenceConfidence   = 0.5
	unsupportedConfidence = 0.3
)

var numberInText = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

type Verifier struct {
	cfg    config.Config
	log    *zap.Logger
	source internal.ProvenanceSourceType
}

type Option func(*Verifier)

func WithLogger(log *zap.Logger) Option {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// WithSourceType sets the source type recorded for textual evidence
// (document_text for attachments, email_text for message bodies).
func WithSourceType(t internal.ProvenanceSourceType) Option {
	return func(v *Verifier) { v.source = t }
}

func New(cfg config.Config, opts ...Option) *Verifier {
	v := &Verifier{cfg: cfg, log: zap.NewNop(), source: internal.SourceDocumentText}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type Result struct {
	Shipment   internal.StructuredShipment
	Warnings   []internal.VerificationWarning
	Provenance map[string]internal.FieldProvenance
}

// Process runs the normalizer and then the verifier so that provenance paths
// refer to the final position of every reference.
func (v *Verifier) Process(draft internal.StructuredShipment, candidates []internal.Candidate, text string, existing map[string]internal.FieldProvenance) internal.VerifiedShipmentResult {
	normalized, meta := v.Normalize(draft, candidates, text)
	res := v.Verify(normalized, candidates, text, existing)
	return internal.VerifiedShipmentResult{
		Shipment:      res.Shipment,
		Warnings:      res.Warnings,
		Provenance:    res.Provenance,
		Normalization: meta,
	}
}

// Verify is deterministic and idempotent: feeding its own output back in
// yields no new warnings.
func (v *Verifier) Verify(draft internal.StructuredShipment, candidates []internal.Candidate, text string, existing map[string]internal.FieldProvenance) Result {
	run := &verification{
		v:          v,
		candidates: candidates,
		text:       text,
		existing:   existing,
		provenance: map[string]internal.FieldProvenance{},
		warnings:   []internal.VerificationWarning{},
	}

	out := draft
	out.ReferenceNumbers = run.references("reference_numbers", draft.ReferenceNumbers)
	if draft.Stops != nil {
		out.Stops = make([]internal.Stop, len(draft.Stops))
		for i, stop := range draft.Stops {
			out.Stops[i] = run.stop(fmt.Sprintf("stops[%d]", i), stop)
		}
	}
	out.Cargo = run.cargo(draft.Cargo)
	if draft.UnclassifiedNotes != nil {
		out.UnclassifiedNotes = append([]string(nil), draft.UnclassifiedNotes...)
	}

	if len(run.warnings) > 0 {
		v.log.Info("verification flagged unsupported values", zap.Int("warnings", len(run.warnings)))
	}
	return Result{Shipment: out, Warnings: run.warnings, Provenance: run.provenance}
}

type verification struct {
	v          *Verifier
	candidates []internal.Candidate
	text       string
	existing   map[string]internal.FieldProvenance
	provenance map[string]internal.FieldProvenance
	warnings   []internal.VerificationWarning
}

func (r *verification) references(prefix string, refs []internal.ReferenceNumber) []internal.ReferenceNumber {
	if refs == nil {
		return nil
	}
	out := make([]internal.ReferenceNumber, len(refs))
	for i, ref := range refs {
		path := fmt.Sprintf("%s[%d].value", prefix, i)
		out[i] = ref
		if strings.TrimSpace(ref.Value) == "" {
			continue
		}
		if ev, ok := r.v.support(ref.Value, r.candidates, r.text); ok {
			r.keep(path, ev)
			continue
		}

		prior, hasPrior := r.existing[path]
		if ref.Type.IsKnown() {
			r.warn(path, ref.Value, prior, hasPrior)
			out[i].Type = internal.SubtypeUnknown
		}
		if hasPrior {
			r.provenance[path] = prior
			continue
		}
		r.provenance[path] = internal.FieldProvenance{
			SourceType: internal.SourceLLMInference,
			Confidence: unsupportedConfidence,
			Evidence:   []internal.Evidence{},
			Reason:     string(internal.ReasonUnsupportedBySource),
		}
	}
	return out
}

func (r *verification) stop(prefix string, stop internal.Stop) internal.Stop {
	out := stop
	out.ReferenceNumbers = r.references(prefix+".reference_numbers", stop.ReferenceNumbers)

	loc := prefix + ".location."
	out.Location.Name = r.optional(loc+"name", stop.Location.Name)
	out.Location.Address = r.optional(loc+"address", stop.Location.Address)
	out.Location.City = r.optional(loc+"city", stop.Location.City)
	out.Location.State = r.optional(loc+"state", stop.Location.State)
	out.Location.Zip = r.optional(loc+"zip", stop.Location.Zip)
	out.Location.Country = r.optional(loc+"country", stop.Location.Country)

	sched := prefix + ".schedule."
	out.Schedule.Date = r.optional(sched+"date", stop.Schedule.Date)
	out.Schedule.Time = r.optional(sched+"time", stop.Schedule.Time)
	if stop.Schedule.AppointmentRequired != nil {
		r.infer(sched+"appointment_required", "not checked against source text")
	}
	if stop.Notes != nil && strings.TrimSpace(*stop.Notes) != "" {
		r.infer(prefix+".notes", "free text")
	}
	return out
}

func (r *verification) cargo(c internal.Cargo) internal.Cargo {
	out := c
	if c.Weight != nil {
		if !r.scalar("cargo.weight", util.FormatNumber(*c.Weight)) {
			out.Weight = nil
		}
	}
	if c.Pieces != nil {
		if !r.scalar("cargo.pieces", strconv.Itoa(*c.Pieces)) {
			out.Pieces = nil
		}
	}
	out.Dimensions = r.optional("cargo.dimensions", c.Dimensions)
	out.Commodity = r.optional("cargo.commodity", c.Commodity)
	out.Temperature = r.optional("cargo.temperature", c.Temperature)
	return out
}

// optional verifies an optional string leaf and returns the value to retain.
func (r *verification) optional(path string, value *string) *string {
	if value == nil {
		return nil
	}
	if strings.TrimSpace(*value) == "" {
		return nil
	}
	if r.scalar(path, *value) {
		return value
	}
	return nil
}

// scalar reports whether the leaf survives. A leaf set by a customer rule
// survives on its own provenance; any other unsupported leaf is warned about
// and loses its provenance since no value is retained.
func (r *verification) scalar(path, value string) bool {
	if ev, ok := r.v.support(value, r.candidates, r.text); ok {
		r.keep(path, ev)
		return true
	}
	prior, hasPrior := r.existing[path]
	if hasPrior && prior.SourceType == internal.SourceRule {
		r.provenance[path] = prior
		r.v.log.Debug("rule value kept without text support", zap.String("path", path), zap.String("value", value))
		return true
	}
	r.warn(path, value, prior, hasPrior)
	return false
}

func (r *verification) keep(path string, ev internal.FieldProvenance) {
	if prior, ok := r.existing[path]; ok {
		r.provenance[path] = prior
		return
	}
	ev.SourceType = r.v.source
	r.provenance[path] = ev
}

func (r *verification) infer(path, reason string) {
	if prior, ok := r.existing[path]; ok {
		r.provenance[path] = prior
		return
	}
	r.provenance[path] = internal.FieldProvenance{
		SourceType: internal.SourceLLMInference,
		Confidence: inferenceConfidence,
		Evidence:   []internal.Evidence{},
		Reason:     reason,
	}
}

func (r *verification) warn(path, value string, prior internal.FieldProvenance, hasPrior bool) {
	w := internal.VerificationWarning{
		Path:       path,
		Value:      value,
		Reason:     internal.ReasonUnsupportedBySource,
		Category:   internal.CategoryHallucinated,
		SourceType: internal.SourceLLMInference,
	}
	if hasPrior {
		w.SourceType = prior.SourceType
		// Learned customer defaults are trusted, not model inventions.
		if prior.SourceType == internal.SourceRule {
			w.Category = internal.CategoryUnverified
		}
	}
	r.warnings = append(r.warnings, w)
	r.v.log.Debug("unsupported value",
		zap.String("path", path),
		zap.String("value", value),
		zap.String("category", string(w.Category)))
}
