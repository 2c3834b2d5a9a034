package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"loadtender/internal"
)

// DocumentFromFile reads a single tender document. An empty kind is
// inferred from the file extension.
func DocumentFromFile(path, kind string) (Document, error) {
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return Document{}, eris.Wrapf(err, "pipeline: read %s", path)
	}

	doc := Document{Source: internal.SourceDocumentText}
	switch kind {
	case "eml", "email":
		return DocumentFromEmail(blob)
	case "txt", "text":
		doc.Source = internal.SourceEmailText
		doc.Text = cleanText(string(blob))
	case "html", "htm":
		doc.Source = internal.SourceEmailText
		doc.Text = cleanText(htmlToText(string(blob)))
	case "xlsx":
		doc.Text, err = xlsxText(blob)
	case "xls":
		return Document{}, errLegacyWorkbook
	case "pdf":
		doc.Text, err = pdfText(blob)
	default:
		return Document{}, eris.Errorf("unsupported input type: %s", kind)
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}
