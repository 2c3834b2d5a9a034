package verify

import (
	"strconv"

	"go.uber.org/zap"

	"loadtender/internal"
	"loadtender/internal/segment"
	"loadtender/internal/util"
)

// Normalize moves shipment-level references that sit inside a stop's
// section onto that stop, drops references repeated at more than one level,
// and records where the cargo figures came from. The input is not modified.
func (v *Verifier) Normalize(s internal.StructuredShipment, candidates []internal.Candidate, text string) (internal.StructuredShipment, internal.NormalizationMetadata) {
	seg := segment.New(text)
	meta := internal.NormalizationMetadata{CargoSource: internal.CargoFromNone}

	out := s
	if s.Stops != nil {
		out.Stops = make([]internal.Stop, len(s.Stops))
		for i, stop := range s.Stops {
			out.Stops[i] = stop
			refs, dropped := dedupeRefs(stop.ReferenceNumbers)
			out.Stops[i].ReferenceNumbers = refs
			meta.RefsDeduplicated += dropped
		}
	}

	var global []internal.ReferenceNumber
	if s.ReferenceNumbers != nil {
		global = make([]internal.ReferenceNumber, 0, len(s.ReferenceNumbers))
	}
	for _, ref := range s.ReferenceNumbers {
		if target := v.stopFor(seg, out.Stops, ref.Value, candidates, text); target >= 0 {
			stop := &out.Stops[target]
			if i := indexRef(stop.ReferenceNumbers, ref.Value); i >= 0 {
				stop.ReferenceNumbers = upgraded(stop.ReferenceNumbers, i, ref.Type)
				meta.RefsDeduplicated++
				continue
			}
			stop.ReferenceNumbers = append(append([]internal.ReferenceNumber(nil), stop.ReferenceNumbers...), ref)
			meta.RefsMovedToStops++
			continue
		}
		if i := indexRef(global, ref.Value); i >= 0 {
			global = upgraded(global, i, ref.Type)
			meta.RefsDeduplicated++
			continue
		}
		if i, j := findInStops(out.Stops, ref.Value); i >= 0 {
			out.Stops[i].ReferenceNumbers = upgraded(out.Stops[i].ReferenceNumbers, j, ref.Type)
			meta.RefsDeduplicated++
			continue
		}
		global = append(global, ref)
	}
	out.ReferenceNumbers = global

	meta.CargoSource = cargoSource(seg, s.Cargo, candidates, text)

	if meta.RefsMovedToStops > 0 || meta.RefsDeduplicated > 0 {
		v.log.Debug("references normalized",
			zap.Int("moved_to_stops", meta.RefsMovedToStops),
			zap.Int("deduplicated", meta.RefsDeduplicated))
	}
	return out, meta
}

// stopFor returns the index of the stop whose section contains the first
// occurrence of value, or -1 when the value belongs at shipment level.
func (v *Verifier) stopFor(seg *segment.Segmenter, stops []internal.Stop, value string, candidates []internal.Candidate, text string) int {
	pos := locate(value, internal.CandidateReferenceNumber, candidates, text)
	if pos < 0 {
		return -1
	}
	loc := seg.Locate(pos)
	var want internal.StopType
	switch loc.Block {
	case segment.Pickup:
		want = internal.StopPickup
	case segment.Delivery:
		want = internal.StopDelivery
	default:
		return -1
	}
	seen := 0
	for i, stop := range stops {
		if stop.Type != want {
			continue
		}
		if seen == loc.Ordinal {
			return i
		}
		seen++
	}
	return -1
}

// locate finds the position of value, preferring a candidate of the given
// type over a raw text search.
func locate(value string, typ internal.CandidateType, candidates []internal.Candidate, text string) int {
	key := util.NormalizeRef(value)
	if key == "" {
		return -1
	}
	for _, c := range candidates {
		if c.Type == typ && util.NormalizeRef(c.Value) == key {
			return c.Position.Start
		}
	}
	return util.IndexFold(text, value)
}

func cargoSource(seg *segment.Segmenter, c internal.Cargo, candidates []internal.Candidate, text string) internal.CargoSource {
	pos := -1
	if c.Weight != nil {
		pos = locate(util.FormatNumber(*c.Weight), internal.CandidateWeight, candidates, text)
	}
	if pos < 0 && c.Pieces != nil {
		pos = locate(strconv.Itoa(*c.Pieces), internal.CandidatePieces, candidates, text)
	}
	if pos < 0 {
		if c.Weight == nil && c.Pieces == nil {
			return internal.CargoFromNone
		}
		return internal.CargoFromHeader
	}
	switch seg.BlockAt(pos) {
	case segment.Pickup, segment.Delivery:
		return internal.CargoFromStop
	default:
		return internal.CargoFromHeader
	}
}

func dedupeRefs(refs []internal.ReferenceNumber) ([]internal.ReferenceNumber, int) {
	if refs == nil {
		return nil, 0
	}
	out := make([]internal.ReferenceNumber, 0, len(refs))
	dropped := 0
	for _, ref := range refs {
		if i := indexRef(out, ref.Value); i >= 0 {
			out = upgraded(out, i, ref.Type)
			dropped++
			continue
		}
		out = append(out, ref)
	}
	return out, dropped
}

func indexRef(refs []internal.ReferenceNumber, value string) int {
	key := util.NormalizeRef(value)
	for i, r := range refs {
		if util.NormalizeRef(r.Value) == key {
			return i
		}
	}
	return -1
}

func findInStops(stops []internal.Stop, value string) (int, int) {
	for i, stop := range stops {
		if j := indexRef(stop.ReferenceNumbers, value); j >= 0 {
			return i, j
		}
	}
	return -1, -1
}

// upgraded returns refs with entry i given subtype t when the retained copy
// is unclassified. A new slice is returned so callers' slices stay intact.
func upgraded(refs []internal.ReferenceNumber, i int, t internal.ReferenceSubtype) []internal.ReferenceNumber {
	if refs[i].Type.IsKnown() || !t.IsKnown() {
		return refs
	}
	out := append([]internal.ReferenceNumber(nil), refs...)
	out[i].Type = t
	return out
}
