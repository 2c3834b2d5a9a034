package verify

import (
	"strings"

	"loadtender/internal"
	"loadtender/internal/util"
)

// support looks for evidence of value in, in order: the candidate list,
// the raw text, and for multi-word values the significant-word overlap.
func (v *Verifier) support(value string, candidates []internal.Candidate, text string) (internal.FieldProvenance, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return internal.FieldProvenance{}, false
	}

	for i, c := range candidates {
		if !candidateSupports(c, value) {
			continue
		}
		idx := i
		return internal.FieldProvenance{
			Confidence: c.Confidence.Score(),
			Evidence: []internal.Evidence{{
				Text:           c.RawMatch,
				Span:           &internal.Span{Start: c.Position.Start, End: c.Position.End},
				Label:          c.LabelHint,
				CandidateIndex: &idx,
			}},
		}, true
	}

	if ev, ok := verbatim(text, value); ok {
		return internal.FieldProvenance{Confidence: textMatchConfidence, Evidence: []internal.Evidence{ev}}, true
	}

	if util.WordCount(value) > 1 {
		words := util.SignificantWords(value)
		if len(words) == 0 {
			return internal.FieldProvenance{}, false
		}
		var found []string
		for _, w := range words {
			if util.ContainsFold(text, w) {
				found = append(found, w)
			}
		}
		ratio := float64(len(found)) / float64(len(words))
		if ratio >= v.cfg.AddressWordOverlap {
			return internal.FieldProvenance{
				Confidence: wordOverlapConfidence * ratio,
				Evidence:   []internal.Evidence{{Text: strings.Join(found, " ")}},
				Reason:     "significant word overlap",
			}, true
		}
	}
	return internal.FieldProvenance{}, false
}

func candidateSupports(c internal.Candidate, value string) bool {
	for _, s := range []string{c.Value, c.RawMatch} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.EqualFold(s, value) || util.ContainsFold(s, value) || util.ContainsFold(value, s) {
			return true
		}
	}
	return false
}

// verbatim finds value in text case-insensitively; numeric values also
// match their comma-grouped form ("42000" against "42,000").
func verbatim(text, value string) (internal.Evidence, bool) {
	if idx := util.IndexFold(text, value); idx >= 0 && idx+len(value) <= len(text) {
		return internal.Evidence{
			Text: text[idx : idx+len(value)],
			Span: &internal.Span{Start: idx, End: idx + len(value)},
		}, true
	}
	if !util.LooksNumeric(value) {
		return internal.Evidence{}, false
	}
	want := util.StripCommas(value)
	for _, loc := range numberInText.FindAllStringIndex(text, -1) {
		token := strings.TrimRight(text[loc[0]:loc[1]], ",")
		if util.StripCommas(token) == want {
			return internal.Evidence{
				Text: token,
				Span: &internal.Span{Start: loc[0], End: loc[0] + len(token)},
			}, true
		}
	}
	return internal.Evidence{}, false
}
