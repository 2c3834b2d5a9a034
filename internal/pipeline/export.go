package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"loadtender/internal"
	"loadtender/internal/storage"
	"loadtender/internal/util"
)

// ReviewExport is everything a reviewer needs for one tender.
type ReviewExport struct {
	Email        internal.EmailRow
	Extraction   internal.ExtractionRecord
	Verification internal.VerificationRecord
	Suggestions  []internal.SuggestionRecord
}

// LoadReviewExport gathers the latest verification of an e-mail. It returns
// nil when the e-mail was never verified.
func LoadReviewExport(db *storage.DB, email internal.EmailRow) (*ReviewExport, error) {
	ver, err := db.LatestVerificationForEmail(email.ID)
	if err != nil || ver == nil {
		return nil, err
	}
	ext, err := db.GetExtraction(ver.ExtractionID)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, eris.Errorf("extraction %d not found", ver.ExtractionID)
	}

	out := &ReviewExport{Email: email, Extraction: *ext, Verification: *ver}
	if ext.CustomerID != "" {
		all, err := db.ListSuggestions(ext.CustomerID, "")
		if err != nil {
			return nil, err
		}
		for _, s := range all {
			if s.VerificationID == ver.ID {
				out.Suggestions = append(out.Suggestions, s)
			}
		}
	}
	return out, nil
}

const (
	sheetFields      = "fields"
	sheetWarnings    = "warnings"
	sheetCandidates  = "candidates"
	sheetSuggestions = "suggestions"
)

func ExportReviewXLSX(r ReviewExport, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetFields); err != nil {
		return eris.Wrap(err, "pipeline: rename sheet")
	}
	for _, name := range []string{sheetWarnings, sheetCandidates, sheetSuggestions} {
		if _, err := f.NewSheet(name); err != nil {
			return eris.Wrapf(err, "pipeline: add sheet %s", name)
		}
	}

	res := r.Verification.Result
	fields := fieldRows(res.Shipment)
	fieldData := make([][]any, 0, len(fields))
	for _, fr := range fields {
		prov, ok := res.Provenance[fr.path]
		source, conf := "", any("")
		if ok {
			source, conf = string(prov.SourceType), prov.Confidence
		}
		fieldData = append(fieldData, []any{fr.path, fr.value, source, conf})
	}
	writeSheet(f, sheetFields, []string{"path", "value", "source_type", "confidence"}, fieldData)

	warnData := make([][]any, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		warnData = append(warnData, []any{w.Path, w.Value, string(w.Reason), string(w.Category), string(w.SourceType)})
	}
	writeSheet(f, sheetWarnings, []string{"path", "value", "reason", "category", "source_type"}, warnData)

	candData := make([][]any, 0, len(r.Extraction.Result.Candidates))
	for _, c := range r.Extraction.Result.Candidates {
		candData = append(candData, []any{string(c.Type), c.Value, string(c.Subtype), string(c.Confidence), c.LabelHint, c.Position.Start, c.Position.End, c.Context})
	}
	writeSheet(f, sheetCandidates, []string{"type", "value", "subtype", "confidence", "label_hint", "start", "end", "context"}, candData)

	sugData := make([][]any, 0, len(r.Suggestions))
	for _, s := range r.Suggestions {
		sugData = append(sugData, []any{s.ID, string(s.Status), string(s.Rule.Type), s.Rule.Label, s.Rule.Pattern, string(s.Rule.Subtype), string(s.Rule.Scope), s.Rule.ExampleValue, derefInt(s.Rule.Score)})
	}
	writeSheet(f, sheetSuggestions, []string{"id", "status", "type", "label", "pattern", "subtype", "scope", "example_value", "score"}, sugData)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return eris.Wrap(err, "pipeline: create output dir")
	}
	return eris.Wrapf(f.SaveAs(outputPath), "pipeline: save %s", outputPath)
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}

type fieldRow struct {
	path  string
	value string
}

// fieldRows flattens the populated fields of a shipment into provenance
// paths, sorted by path.
func fieldRows(s internal.StructuredShipment) []fieldRow {
	var out []fieldRow
	add := func(path string, v *string) {
		if v != nil {
			out = append(out, fieldRow{path: path, value: *v})
		}
	}
	refs := func(prefix string, rs []internal.ReferenceNumber) {
		for i, r := range rs {
			out = append(out, fieldRow{path: fmt.Sprintf("%sreference_numbers[%d].value", prefix, i), value: r.Value + " (" + string(r.Type) + ")"})
		}
	}

	refs("", s.ReferenceNumbers)
	for i, stop := range s.Stops {
		p := fmt.Sprintf("stops[%d].", i)
		add(p+"location.name", stop.Location.Name)
		add(p+"location.address", stop.Location.Address)
		add(p+"location.city", stop.Location.City)
		add(p+"location.state", stop.Location.State)
		add(p+"location.zip", stop.Location.Zip)
		add(p+"location.country", stop.Location.Country)
		add(p+"schedule.date", stop.Schedule.Date)
		add(p+"schedule.time", stop.Schedule.Time)
		add(p+"notes", stop.Notes)
		refs(p, stop.ReferenceNumbers)
	}
	if s.Cargo.Weight != nil {
		out = append(out, fieldRow{path: "cargo.weight", value: util.FormatNumber(*s.Cargo.Weight)})
	}
	if s.Cargo.Pieces != nil {
		out = append(out, fieldRow{path: "cargo.pieces", value: strconv.Itoa(*s.Cargo.Pieces)})
	}
	add("cargo.dimensions", s.Cargo.Dimensions)
	add("cargo.commodity", s.Cargo.Commodity)
	add("cargo.temperature", s.Cargo.Temperature)

	sort.SliceStable(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
