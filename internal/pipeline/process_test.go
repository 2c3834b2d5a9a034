package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"loadtender/internal"
	"loadtender/internal/classifier"
	"loadtender/internal/config"
	"loadtender/internal/storage"
	"loadtender/internal/util"
)

const tenderEmail = "From: Dispatch <dispatch@acme.example.com>\r\n" +
	"To: ops@carrier.example.com\r\n" +
	"Subject: Load Tender 121230\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Load Tender\r\n" +
	"Load # 121230\r\n" +
	"Shipment TRFR0010713\r\n" +
	"\r\n" +
	"Pickup:\r\n" +
	"ACME Foods\r\n" +
	"1200 Industrial Blvd\r\n" +
	"Dallas, TX 75201\r\n" +
	"06/12/2026 08:00\r\n" +
	"\r\n" +
	"Delivery:\r\n" +
	"Fresh Mart\r\n" +
	"45 Market St\r\n" +
	"Houston, TX 77002\r\n" +
	"06/13/2026\r\n" +
	"\r\n" +
	"Weight: 42,000 lbs\r\n" +
	"18 pallets\r\n"

const chatterEmail = "From: Sam <sam@acme.example.com>\r\n" +
	"To: ops@carrier.example.com\r\n" +
	"Subject: Lunch\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Are you free at noon?\r\n"

type fakeClassifier struct {
	draft internal.StructuredShipment
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, req classifier.Request) (internal.StructuredShipment, error) {
	f.calls++
	return f.draft, nil
}

type fixture struct {
	db  *storage.DB
	cfg config.Config
	dir string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Defaults()
	cfg.RawMailDir = filepath.Join(dir, "raw")
	cfg.OutputDir = filepath.Join(dir, "out")
	return fixture{db: db, cfg: cfg, dir: dir}
}

func (f fixture) storeEmail(t *testing.T, messageID, raw string) internal.EmailRow {
	t.Helper()
	path := filepath.Join(f.dir, strings.Trim(messageID, "<>")+".eml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	email, err := f.db.UpsertEmail("imap", messageID, "", "dispatch@acme.example.com", "2026-06-10T00:00:00Z", messageID, path, storage.EmailFetched)
	require.NoError(t, err)
	return email
}

func TestProcessReviewApproveCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.UpsertCustomer("acme", "ACME Foods", "acme.example.com"))
	email := f.storeEmail(t, "<tender-1@acme>", tenderEmail)

	proc := NewProcessingService(f.db, f.cfg, nil, nil)
	res, err := proc.ProcessEmail(ctx, email)
	require.NoError(t, err)
	assert.True(t, res.IsTender)
	assert.Equal(t, "acme", res.CustomerID)
	assert.NotZero(t, res.Candidates)
	assert.Equal(t, 0, res.RulesApplied)

	ver, err := f.db.GetVerification(res.VerificationID)
	require.NoError(t, err)
	require.NotNil(t, ver)
	assert.Empty(t, ver.Result.Warnings)
	assert.Contains(t, ver.Result.Shipment.ReferenceNumbers, internal.ReferenceNumber{Value: "121230", Type: internal.SubtypeBOL})
	require.Len(t, ver.Result.Shipment.Stops, 2)
	assert.Equal(t, "Dallas", util.Deref(ver.Result.Shipment.Stops[0].Location.City))
	assert.Equal(t, internal.StopDelivery, ver.Result.Shipment.Stops[1].Type)
	require.NotNil(t, ver.Result.Shipment.Cargo.Weight)
	assert.Equal(t, 42000.0, *ver.Result.Shipment.Cargo.Weight)

	row, err := f.db.GetEmailByID(email.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.EmailProcessed, row.Status)

	// The reviewer adds the unlabeled shipment number as a PO.
	final := ver.Result.Shipment
	final.ReferenceNumbers = append(slices.Clone(final.ReferenceNumbers), internal.ReferenceNumber{Value: "TRFR0010713", Type: internal.SubtypePO})

	review := NewReviewService(f.db, f.cfg, nil)
	out, err := review.SubmitCorrection(email.ID, final)
	require.NoError(t, err)
	require.Len(t, out.Suggestions, 1)
	assert.Equal(t, internal.RuleTypeValuePattern, out.Suggestions[0].Type)
	assert.Equal(t, `^TRFR\d{7,}$`, out.Suggestions[0].Pattern)
	events, err := f.db.CountLearningEvents("acme")
	require.NoError(t, err)
	assert.Equal(t, len(out.Events), events)

	pending, err := f.db.ListSuggestions("acme", internal.SuggestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := review.Approve(pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, internal.SuggestionApproved, approved.Status)
	require.Error(t, review.Reject(pending[0].ID))

	// Reprocessing applies the learned rule and counts the hit.
	res, err = proc.ProcessEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesApplied)

	p, err := f.db.LoadProfile("acme")
	require.NoError(t, err)
	require.Len(t, p.ValueRules, 1)
	assert.Equal(t, 1, p.ValueRules[0].Hits)

	ext, err := f.db.GetExtraction(res.ExtractionID)
	require.NoError(t, err)
	require.NotNil(t, ext)
	var learned []internal.Candidate
	for _, c := range ext.Result.Candidates {
		if c.Value == "TRFR0010713" {
			learned = append(learned, c)
		}
	}
	require.Len(t, learned, 1)
	assert.Equal(t, internal.SubtypePO, learned[0].Subtype)

	exp, err := LoadReviewExport(f.db, email)
	require.NoError(t, err)
	require.NotNil(t, exp)
	outPath := filepath.Join(f.cfg.OutputDir, "review.xlsx")
	require.NoError(t, ExportReviewXLSX(*exp, outPath))

	wb, err := excelize.OpenFile(outPath)
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{"fields", "warnings", "candidates", "suggestions"}, wb.GetSheetList())
	rows, err := wb.GetRows("fields")
	require.NoError(t, err)
	assert.Equal(t, []string{"path", "value", "source_type", "confidence"}, rows[0])
	assert.Greater(t, len(rows), 1)
}

func TestProcessFlagsHallucinatedClassifierOutput(t *testing.T) {
	f := newFixture(t)
	email := f.storeEmail(t, "<tender-2@acme>", tenderEmail)

	cls := &fakeClassifier{draft: internal.StructuredShipment{
		ReferenceNumbers: []internal.ReferenceNumber{
			{Value: "121230", Type: internal.SubtypeBOL},
			{Value: "PO777777", Type: internal.SubtypePO},
		},
		Cargo: internal.Cargo{Weight: util.FloatPtr(42000)},
	}}
	proc := NewProcessingService(f.db, f.cfg, cls, nil)

	res, err := proc.ProcessEmail(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.calls)
	assert.Equal(t, 1, res.Warnings)

	ver, err := f.db.GetVerification(res.VerificationID)
	require.NoError(t, err)
	require.Len(t, ver.Result.Warnings, 1)
	w := ver.Result.Warnings[0]
	assert.Equal(t, "reference_numbers[1].value", w.Path)
	assert.Equal(t, internal.CategoryHallucinated, w.Category)
	assert.Equal(t, internal.ReferenceSubtype("po"), ver.Draft.ReferenceNumbers[1].Type)
	assert.Equal(t, internal.SubtypeUnknown, ver.Result.Shipment.ReferenceNumbers[1].Type)
}

func TestProcessPending(t *testing.T) {
	f := newFixture(t)
	tender := f.storeEmail(t, "<tender-3@acme>", tenderEmail)
	chatter := f.storeEmail(t, "<chatter-1@acme>", chatterEmail)

	proc := NewProcessingService(f.db, f.cfg, nil, nil)
	n, err := proc.ProcessPending(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, err := f.db.GetEmailByID(tender.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.EmailProcessed, row.Status)

	row, err = f.db.GetEmailByID(chatter.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.EmailSkipped, row.Status)

	n, err = proc.ProcessPending(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDraftFromCandidatesAssignsStops(t *testing.T) {
	text := "Pickup:\nDallas, TX 75201\nPO # 4500123\n\nDelivery:\nHouston, TX 77002\n"
	candidates := []internal.Candidate{
		{Type: internal.CandidateCityStateZip, Value: "Dallas, TX 75201", Position: internal.Position{Start: 8, End: 24}},
		{Type: internal.CandidateReferenceNumber, Value: "4500123", Subtype: internal.SubtypePO, Position: internal.Position{Start: 30, End: 37}},
		{Type: internal.CandidateCityStateZip, Value: "Houston, TX 77002", Position: internal.Position{Start: 49, End: 66}},
	}

	s := DraftFromCandidates(candidates, text)
	require.Len(t, s.Stops, 2)
	assert.Equal(t, internal.StopPickup, s.Stops[0].Type)
	assert.Equal(t, "TX", util.Deref(s.Stops[0].Location.State))
	assert.Equal(t, []internal.ReferenceNumber{{Value: "4500123", Type: internal.SubtypePO}}, s.Stops[0].ReferenceNumbers)
	assert.Equal(t, internal.StopDelivery, s.Stops[1].Type)
	assert.Equal(t, "77002", util.Deref(s.Stops[1].Location.Zip))
	assert.Empty(t, s.ReferenceNumbers)
}
