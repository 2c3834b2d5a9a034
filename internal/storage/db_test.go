package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtender/internal"
	"loadtender/internal/util"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfileRoundTrip(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.UpsertCustomer("acme", "ACME Foods", "ACME.example.com"))

	id, err := db.CustomerBySenderDomain("acme.example.com")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "acme", *id)

	require.NoError(t, db.AddLabelRule("acme", internal.ReferenceLabelRule{Label: "Trailer", Subtype: internal.SubtypePickup}))
	require.NoError(t, db.AddRegexRule("acme", internal.ReferenceRegexRule{Pattern: `^SO\d+$`, Subtype: internal.SubtypeOrder}))
	require.NoError(t, db.AddValueRule("acme", internal.ReferenceValueRule{Pattern: `^TRFR\d{7,}$`, Subtype: internal.SubtypePO, Priority: 5}))
	assert.Error(t, db.AddValueRule("acme", internal.ReferenceValueRule{Pattern: `([`, Subtype: internal.SubtypePO}))

	p, err := db.LoadProfile("acme")
	require.NoError(t, err)
	require.Len(t, p.LabelRules, 1)
	assert.Equal(t, internal.ConfidenceMedium, p.LabelRules[0].Confidence)
	require.Len(t, p.RegexRules, 1)
	require.Len(t, p.ValueRules, 1)
	v := p.ValueRules[0]
	assert.Equal(t, internal.ScopeGlobal, v.Scope)
	assert.Equal(t, internal.RuleActive, v.Status)
	assert.Equal(t, 5, v.Priority)

	require.NoError(t, db.IncrementRuleHits("acme", []string{`value:^TRFR\d{7,}$`, "label:Trailer"}))
	n, err := db.DeprecateValueRule("acme", `^TRFR\d{7,}$`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err = db.LoadProfile("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, p.ValueRules[0].Hits)
	assert.Equal(t, internal.RuleDeprecated, p.ValueRules[0].Status)
}

func TestImportProfileIsAtomic(t *testing.T) {
	db := openTest(t)
	err := db.ImportProfile(internal.CustomerProfile{
		CustomerID: "beta",
		LabelRules: []internal.ReferenceLabelRule{{Label: "Load", Subtype: internal.SubtypeBOL}},
		ValueRules: []internal.ReferenceValueRule{{Pattern: `(`, Subtype: internal.SubtypePO}},
	})
	require.Error(t, err)

	p, err := db.LoadProfile("beta")
	require.NoError(t, err)
	assert.Empty(t, p.LabelRules)
}

func TestApproveSuggestion(t *testing.T) {
	db := openTest(t)
	score, count := 3, 1
	require.NoError(t, db.InsertSuggestions("acme", 7, []internal.SuggestedRule{
		{Type: internal.RuleTypeValuePattern, Pattern: `^TRFR\d{7,}$`, Subtype: internal.SubtypePO, Scope: internal.ScopePickup, ExampleValue: "TRFR0010713", Score: &score, MatchCount: &count, ExampleMatches: []string{"TRFR0010713"}},
		{Type: internal.RuleTypeLabel, Label: "Order Ref", Subtype: internal.SubtypeOrder, ExampleValue: "ABC10001"},
	}))

	pending, err := db.ListSuggestions("acme", internal.SuggestionPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NotNil(t, pending[0].Rule.Score)
	assert.Equal(t, 3, *pending[0].Rule.Score)
	assert.Equal(t, []string{"TRFR0010713"}, pending[0].Rule.ExampleMatches)
	assert.Equal(t, 7, pending[0].VerificationID)

	rec, err := db.ApproveSuggestion(pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, internal.SuggestionApproved, rec.Status)

	_, err = db.ApproveSuggestion(pending[0].ID)
	assert.Error(t, err)

	require.NoError(t, db.SetSuggestionStatus(pending[1].ID, internal.SuggestionRejected))

	p, err := db.LoadProfile("acme")
	require.NoError(t, err)
	require.Len(t, p.ValueRules, 1)
	assert.Equal(t, internal.ScopePickup, p.ValueRules[0].Scope)
	assert.Empty(t, p.LabelRules)

	left, err := db.ListSuggestions("acme", internal.SuggestionPending)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestVerificationLifecycle(t *testing.T) {
	db := openTest(t)
	email, err := db.UpsertEmail("imap", "<1@example.com>", "Load tender", "ops@acme.example.com", "2026-01-15T08:00:00Z", "h", "/tmp/raw.eml", EmailFetched)
	require.NoError(t, err)

	extraction := internal.ExtractionResult{
		Candidates: []internal.Candidate{{Type: internal.CandidateReferenceNumber, Value: "121230", Subtype: internal.SubtypeBOL, Confidence: internal.ConfidenceHigh}},
		Metadata:   internal.ExtractionMetadata{Version: "test", AppliedCustomerRules: []string{}, AuditLog: []internal.AuditEntry{}},
	}
	extractionID, err := db.InsertExtraction(email.ID, "acme", "Load #: 121230", extraction)
	require.NoError(t, err)

	got, err := db.GetExtraction(int(extractionID))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.CustomerID)
	assert.Equal(t, extraction, got.Result)

	draft := internal.StructuredShipment{ReferenceNumbers: []internal.ReferenceNumber{{Value: "121230", Type: internal.SubtypeBOL}}}
	verificationID, err := db.InsertVerification(email.ID, extractionID, draft, internal.VerifiedShipmentResult{Shipment: draft})
	require.NoError(t, err)

	final := draft
	final.Cargo.Weight = util.FloatPtr(42000)
	require.NoError(t, db.SetVerificationFinal(int(verificationID), final))

	rec, err := db.LatestVerificationForEmail(email.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ReviewComplete, rec.Status)
	require.NotNil(t, rec.Final)
	assert.Equal(t, 42000.0, *rec.Final.Cargo.Weight)

	// reviewed work survives reprocessing
	require.NoError(t, db.ClearEmailProcessing(email.ID))
	rec, err = db.GetVerification(int(verificationID))
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
