package classifier

import (
	"strings"

	"loadtender/internal"
)

var placeholders = map[string]struct{}{
	"":        {},
	"n/a":     {},
	"na":      {},
	"tbd":     {},
	"unknown": {},
	"none":    {},
	"null":    {},
	"-":       {},
}

// IsPlaceholder reports whether a classifier value stands for "no value".
func IsPlaceholder(v string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// Sanitize replaces placeholder strings with null and drops reference
// numbers whose value is a placeholder. The input is not modified.
func Sanitize(s internal.StructuredShipment) internal.StructuredShipment {
	out := s
	out.ReferenceNumbers = sanitizeRefs(s.ReferenceNumbers)

	out.Stops = make([]internal.Stop, len(s.Stops))
	for i, stop := range s.Stops {
		stop.Location = internal.Location{
			Name:    clean(stop.Location.Name),
			Address: clean(stop.Location.Address),
			City:    clean(stop.Location.City),
			State:   clean(stop.Location.State),
			Zip:     clean(stop.Location.Zip),
			Country: clean(stop.Location.Country),
		}
		stop.Schedule.Date = clean(stop.Schedule.Date)
		stop.Schedule.Time = clean(stop.Schedule.Time)
		stop.Notes = clean(stop.Notes)
		stop.ReferenceNumbers = sanitizeRefs(stop.ReferenceNumbers)
		out.Stops[i] = stop
	}

	out.Cargo.Dimensions = clean(s.Cargo.Dimensions)
	out.Cargo.Commodity = clean(s.Cargo.Commodity)
	out.Cargo.Temperature = clean(s.Cargo.Temperature)

	notes := make([]string, 0, len(s.UnclassifiedNotes))
	for _, n := range s.UnclassifiedNotes {
		if !IsPlaceholder(n) {
			notes = append(notes, n)
		}
	}
	out.UnclassifiedNotes = notes
	return out
}

func sanitizeRefs(refs []internal.ReferenceNumber) []internal.ReferenceNumber {
	out := make([]internal.ReferenceNumber, 0, len(refs))
	for _, r := range refs {
		if IsPlaceholder(r.Value) {
			continue
		}
		if r.Type == "" {
			r.Type = internal.SubtypeUnknown
		}
		out = append(out, r)
	}
	return out
}

func clean(v *string) *string {
	if v == nil || IsPlaceholder(*v) {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}
