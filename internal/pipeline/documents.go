package pipeline

import (
	"bytes"
	"html"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"loadtender/internal"
	"loadtender/internal/util"
)

// Document is the plain text a tender is extracted from.
type Document struct {
	Subject     string
	From        string
	Text        string
	Attachments []string
	// Source is email_text when the body carried the tender and
	// document_text when only attachments did.
	Source internal.ProvenanceSourceType
	// Skipped lists attachments whose text could not be read.
	Skipped []SkippedAttachment
}

type SkippedAttachment struct {
	Name   string
	Reason string
}

var errLegacyWorkbook = eris.New("legacy .xls workbook, save as .xlsx")

func DocumentFromEmail(raw []byte) (Document, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Document{}, eris.Wrap(err, "pipeline: read envelope")
	}

	body := env.Text
	if env.HTML != "" && (strings.TrimSpace(body) == "" || strings.Contains(strings.ToLower(env.HTML), "<table")) {
		// enmime flattens HTML tables cell by cell; render rows instead.
		body = htmlToText(env.HTML)
	}
	body = cleanText(body)

	doc := Document{
		Subject: env.GetHeader("Subject"),
		From:    env.GetHeader("From"),
		Source:  internal.SourceEmailText,
	}

	parts := []string{}
	if body != "" {
		parts = append(parts, body)
	}
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		doc.Attachments = append(doc.Attachments, filename)

		text, err := attachmentText(filename, att.Content)
		if err != nil {
			doc.Skipped = append(doc.Skipped, SkippedAttachment{Name: filename, Reason: err.Error()})
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, text)
	}

	if body == "" && len(parts) > 0 {
		doc.Source = internal.SourceDocumentText
	}
	doc.Text = strings.Join(parts, "\n\n")
	return doc, nil
}

func attachmentText(filename string, content []byte) (string, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".xlsx"):
		return xlsxText(content)
	case strings.HasSuffix(lower, ".xls"):
		return "", errLegacyWorkbook
	case strings.HasSuffix(lower, ".pdf"):
		return pdfText(content)
	case strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm"):
		return cleanText(htmlToText(string(content))), nil
	case strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".csv"):
		return cleanText(string(content)), nil
	default:
		return "", nil
	}
}

// htmlToText renders an HTML body as lines, one per block element and one
// per table row.
func htmlToText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return ""
	}
	doc.Find("script,style,head").Remove()

	doc.Find("table").Not("table table").Each(func(_ int, table *goquery.Selection) {
		lines := []string{}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.NormalizeSpaces(cell.Text()))
			})
			if line := rowLine(cells); line != "" {
				lines = append(lines, line)
			}
		})
		table.ReplaceWithHtml("<pre>" + html.EscapeString(strings.Join(lines, "\n")) + "</pre>")
	})

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p,div,li,pre,h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return doc.Text()
}

func xlsxText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", eris.Wrap(err, "pipeline: open xlsx")
	}
	defer f.Close()

	lines := []string{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if line := rowLine(row); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return cleanText(strings.Join(lines, "\n")), nil
}

func pdfText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", eris.Wrap(err, "pipeline: open pdf")
	}

	pages := []string{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return cleanText(strings.Join(pages, "\n")), nil
}

// rowLine joins the non-empty cells of a table row with " | ". A two-cell
// row whose first cell is a bare label is rendered as "label: value" so
// that labeled references survive tabular layouts.
func rowLine(row []string) string {
	cells := make([]string, 0, len(row))
	for _, c := range row {
		if c = util.NormalizeSpaces(c); c != "" {
			cells = append(cells, c)
		}
	}
	switch {
	case len(cells) == 0:
		return ""
	case len(cells) == 2 && util.HasLetter(cells[0]) && !util.HasDigit(cells[0]):
		return strings.TrimRight(cells[0], ": ") + ": " + cells[1]
	default:
		return strings.Join(cells, " | ")
	}
}

// cleanText applies NFKC, unifies line endings and trims every line,
// collapsing runs of blank lines to one.
func cleanText(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	out := make([]string, 0, strings.Count(text, "\n")+1)
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\t", " "))
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// senderDomain returns the lower-cased domain of a From header value.
func senderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], " >"))
}
