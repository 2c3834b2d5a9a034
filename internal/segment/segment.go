// Package segment classifies text offsets into the structural block of a
// tender document (header, pickup, delivery) using section keywords.
package segment

import (
	"regexp"
	"sort"
	"strings"
)

type Block string

const (
	Header   Block = "header"
	Pickup   Block = "pickup"
	Delivery Block = "delivery"
	Unknown  Block = "unknown"
)

// Location is a block together with the 0-based ordinal of that block kind
// in the document (the second pickup section has ordinal 1).
type Location struct {
	Block   Block
	Ordinal int
}

type mark struct {
	pos      int
	block    Block
	ordinal  int
	numbered bool
}

type keyword struct {
	re    *regexp.Regexp
	block Block
}

var keywords = []keyword{
	{re: regexp.MustCompile(`(?im)^[ \t>*#-]*(?:stop\s*\d+\s*[-:]?\s*)?(?:pick\s*-?\s*up|shipper|origin|ship\s+from|loading)\b`), block: Pickup},
	{re: regexp.MustCompile(`(?im)^[ \t>*#-]*(?:stop\s*\d+\s*[-:]?\s*)?(?:delivery|deliver\s+to|consignee|destination|ship\s+to|receiver|drop\s*-?\s*off|unloading)\b`), block: Delivery},
	{re: regexp.MustCompile(`(?im)^[ \t>*#-]*(?:load\s+tender|tender|load\s+(?:information|details|info)|order\s+(?:information|details)|shipment\s+(?:information|details)|bill\s+to|carrier\s+information|reference\s+numbers)\b`), block: Header},
}

// A section keyword followed by one of these is a field label ("Pickup #",
// "Delivery Date"), not a heading.
var numberedStop = regexp.MustCompile(`(?i)^stop\s*\d`)

// Headings of the same kind closer than this belong to one section
// ("Shipper" directly followed by "Origin").
const mergeDistance = 80

var fieldLabelSuffix = regexp.MustCompile(`(?i)^\s*(?:#|no\b|no\.|num\b|number|date|time|appt|appointment|ref\b|reference|window|hours)`)

// Segmenter caches the section marks of one document.
type Segmenter struct {
	text  string
	marks []mark
}

func New(text string) *Segmenter {
	return &Segmenter{text: text, marks: scan(text)}
}

func (s *Segmenter) BlockAt(pos int) Block {
	return s.Locate(pos).Block
}

func (s *Segmenter) Locate(pos int) Location {
	idx := sort.Search(len(s.marks), func(i int) bool { return s.marks[i].pos > pos }) - 1
	if idx < 0 {
		return Location{Block: Unknown}
	}
	m := s.marks[idx]
	return Location{Block: m.block, Ordinal: m.ordinal}
}

// Marks returns the number of recognized section headings.
func (s *Segmenter) Marks() int {
	return len(s.marks)
}

// BlockAt is the stateless form of Segmenter.BlockAt.
func BlockAt(text string, pos int) Block {
	return New(text).BlockAt(pos)
}

func scan(text string) []mark {
	var marks []mark
	for _, kw := range keywords {
		for _, loc := range kw.re.FindAllStringIndex(text, -1) {
			if fieldLabelSuffix.MatchString(text[loc[1]:]) {
				continue
			}
			start := loc[0] + leadingTrim(text[loc[0]:loc[1]])
			marks = append(marks, mark{pos: start, block: kw.block, numbered: numberedStop.MatchString(text[start:loc[1]])})
		}
	}
	sort.SliceStable(marks, func(i, j int) bool { return marks[i].pos < marks[j].pos })

	counts := map[Block]int{}
	out := marks[:0]
	for _, m := range marks {
		if len(out) > 0 {
			prev := out[len(out)-1]
			if prev.block == m.block && !m.numbered && m.pos-prev.pos < mergeDistance {
				continue
			}
		}
		m.ordinal = counts[m.block]
		counts[m.block]++
		out = append(out, m)
	}
	return out
}

func leadingTrim(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t>*#-"))
}
