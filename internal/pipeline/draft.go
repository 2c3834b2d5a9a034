package pipeline

import (
	"regexp"
	"strings"

	"loadtender/internal"
	"loadtender/internal/segment"
	"loadtender/internal/util"
)

var cityStateZip = regexp.MustCompile(`^(.+?),\s*([A-Z]{2})\s+(\d{5}(?:-\d{4})?)$`)

// DraftFromCandidates builds a shipment straight from extracted candidates.
// It stands in for the classifier when none is configured: every value it
// places comes from a candidate, so verification keeps all of it.
func DraftFromCandidates(candidates []internal.Candidate, text string) internal.StructuredShipment {
	seg := segment.New(text)
	s := internal.StructuredShipment{
		ReferenceNumbers:  []internal.ReferenceNumber{},
		Stops:             []internal.Stop{},
		UnclassifiedNotes: []string{},
	}
	stops := map[segment.Location]int{}

	stopAt := func(pos int) *internal.Stop {
		loc := seg.Locate(pos)
		if loc.Block != segment.Pickup && loc.Block != segment.Delivery {
			return nil
		}
		idx, ok := stops[loc]
		if !ok {
			idx = len(s.Stops)
			stops[loc] = idx
			s.Stops = append(s.Stops, internal.Stop{
				Type:             internal.StopType(loc.Block),
				ReferenceNumbers: []internal.ReferenceNumber{},
			})
		}
		return &s.Stops[idx]
	}

	for _, c := range candidates {
		switch c.Type {
		case internal.CandidateReferenceNumber:
			ref := internal.ReferenceNumber{Value: c.Value, Type: c.Subtype}
			if ref.Type == "" {
				ref.Type = internal.SubtypeUnknown
			}
			if stop := stopAt(c.Position.Start); stop != nil {
				stop.ReferenceNumbers = append(stop.ReferenceNumbers, ref)
			} else {
				s.ReferenceNumbers = append(s.ReferenceNumbers, ref)
			}
		case internal.CandidateDate:
			if stop := stopAt(c.Position.Start); stop != nil && stop.Schedule.Date == nil {
				stop.Schedule.Date = util.StringPtr(c.Value)
			}
		case internal.CandidateTime:
			if stop := stopAt(c.Position.Start); stop != nil && stop.Schedule.Time == nil {
				stop.Schedule.Time = util.StringPtr(c.Value)
			}
		case internal.CandidateAddress:
			if stop := stopAt(c.Position.Start); stop != nil && stop.Location.Address == nil {
				stop.Location.Address = util.StringPtr(c.Value)
			}
		case internal.CandidateCityStateZip:
			stop := stopAt(c.Position.Start)
			if stop == nil || stop.Location.City != nil {
				continue
			}
			if m := cityStateZip.FindStringSubmatch(c.Value); m != nil {
				stop.Location.City = util.StringPtr(strings.TrimSpace(m[1]))
				stop.Location.State = util.StringPtr(m[2])
				stop.Location.Zip = util.StringPtr(m[3])
			}
		case internal.CandidateWeight:
			if s.Cargo.Weight == nil {
				s.Cargo.Weight = util.ParseNumber(c.Value)
			}
		case internal.CandidatePieces:
			if s.Cargo.Pieces == nil {
				if n := util.ParseNumber(c.Value); n != nil {
					s.Cargo.Pieces = util.IntPtr(int(*n))
				}
			}
		case internal.CandidateDimensions:
			if s.Cargo.Dimensions == nil {
				s.Cargo.Dimensions = util.StringPtr(c.Value)
			}
		case internal.CandidateTemperature:
			if s.Cargo.Temperature == nil {
				s.Cargo.Temperature = util.StringPtr(c.Value)
			}
		}
	}
	return s
}
