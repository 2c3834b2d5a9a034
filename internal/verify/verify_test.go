package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtender/internal"
	"loadtender/internal/config"
	"loadtender/internal/util"
)

func TestHallucinatedTimeIsNulled(t *testing.T) {
	text := "Pickup scheduled for 01/15/2026 at 8:00 AM"
	draft := internal.StructuredShipment{
		Stops: []internal.Stop{{
			Type:     internal.StopPickup,
			Schedule: internal.Schedule{Date: util.StringPtr("01/15/2026"), Time: util.StringPtr("14:30")},
		}},
	}

	res := New(config.Defaults()).Process(draft, nil, text, nil)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, "stops[0].schedule.time", w.Path)
	assert.Equal(t, "14:30", w.Value)
	assert.Equal(t, internal.CategoryHallucinated, w.Category)
	assert.Equal(t, internal.ReasonUnsupportedBySource, w.Reason)

	sched := res.Shipment.Stops[0].Schedule
	assert.Nil(t, sched.Time)
	require.NotNil(t, sched.Date)
	assert.Equal(t, "01/15/2026", *sched.Date)

	prov, ok := res.Provenance["stops[0].schedule.date"]
	require.True(t, ok)
	assert.Equal(t, internal.SourceDocumentText, prov.SourceType)
	assert.NotContains(t, res.Provenance, "stops[0].schedule.time")
	assert.Equal(t, internal.CargoFromNone, res.Normalization.CargoSource)
}

func sampleDraft() internal.StructuredShipment {
	return internal.StructuredShipment{
		ReferenceNumbers: []internal.ReferenceNumber{
			{Value: "121230", Type: internal.SubtypeBOL},
			{Value: "99999999", Type: internal.SubtypePO},
		},
		Stops: []internal.Stop{{
			Type: internal.StopPickup,
			Location: internal.Location{
				Name:    util.StringPtr("ACME Foods"),
				Address: util.StringPtr("1200 North Main Street"),
				City:    util.StringPtr("Chicago"),
				State:   util.StringPtr("IL"),
				Zip:     util.StringPtr("60601"),
				Country: util.StringPtr("Canada"),
			},
			Schedule: internal.Schedule{Date: util.StringPtr("01/15/2026"), AppointmentRequired: util.BoolPtr(true)},
		}},
		Cargo: internal.Cargo{
			Weight:    util.FloatPtr(42000),
			Pieces:    util.IntPtr(26),
			Commodity: util.StringPtr("Frozen Chicken"),
		},
	}
}

const sampleText = `LOAD TENDER
Load #: 121230
Weight: 42,000 lbs, 26 pallets

Shipper:
ACME Foods
1200 N Main Street
Chicago, IL 60601
Pickup 01/15/2026
`

func TestVerifySupportRules(t *testing.T) {
	res := New(config.Defaults()).Verify(sampleDraft(), nil, sampleText, nil)

	byPath := map[string]internal.VerificationWarning{}
	for _, w := range res.Warnings {
		byPath[w.Path] = w
	}
	assert.Len(t, res.Warnings, 3)
	assert.Contains(t, byPath, "reference_numbers[1].value")
	assert.Contains(t, byPath, "stops[0].location.country")
	assert.Contains(t, byPath, "cargo.commodity")

	// unsupported references keep their value and lose their subtype
	assert.Equal(t, internal.ReferenceNumber{Value: "99999999", Type: internal.SubtypeUnknown}, res.Shipment.ReferenceNumbers[1])
	assert.Equal(t, internal.SubtypeBOL, res.Shipment.ReferenceNumbers[0].Type)

	loc := res.Shipment.Stops[0].Location
	assert.Nil(t, loc.Country)
	require.NotNil(t, loc.Address)
	assert.Equal(t, "significant word overlap", res.Provenance["stops[0].location.address"].Reason)

	require.NotNil(t, res.Shipment.Cargo.Weight)
	weight := res.Provenance["cargo.weight"]
	require.Len(t, weight.Evidence, 1)
	assert.Equal(t, "42,000", weight.Evidence[0].Text)
	assert.Nil(t, res.Shipment.Cargo.Commodity)

	assert.Equal(t, internal.SourceLLMInference, res.Provenance["stops[0].schedule.appointment_required"].SourceType)
}

func TestVerifyEvidenceInvariant(t *testing.T) {
	res := New(config.Defaults()).Verify(sampleDraft(), nil, sampleText, nil)
	require.NotEmpty(t, res.Warnings)

	for _, w := range res.Warnings {
		switch w.Path {
		case "reference_numbers[1].value":
			assert.Equal(t, internal.SubtypeUnknown, res.Shipment.ReferenceNumbers[1].Type)
		case "stops[0].location.country":
			assert.Nil(t, res.Shipment.Stops[0].Location.Country)
		case "cargo.commodity":
			assert.Nil(t, res.Shipment.Cargo.Commodity)
		default:
			t.Fatalf("unexpected warning %s", w.Path)
		}
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	v := New(config.Defaults())
	first := v.Process(sampleDraft(), nil, sampleText, nil)
	require.NotEmpty(t, first.Warnings)

	second := v.Process(first.Shipment, nil, sampleText, nil)
	assert.Empty(t, second.Warnings)
	assert.Equal(t, first.Shipment, second.Shipment)

	third := v.Process(second.Shipment, nil, sampleText, second.Provenance)
	assert.Empty(t, third.Warnings)
	assert.Equal(t, second.Provenance, third.Provenance)
}

func TestRuleProvenanceIsNeverHallucinated(t *testing.T) {
	existing := map[string]internal.FieldProvenance{
		"cargo.commodity": {SourceType: internal.SourceRule, Confidence: 0.9, Evidence: []internal.Evidence{}, AppliedAt: "2026-01-10T00:00:00Z"},
		"cargo.pieces":    {SourceType: internal.SourceRule, Confidence: 0.9, Evidence: []internal.Evidence{}},
	}

	res := New(config.Defaults()).Verify(sampleDraft(), nil, sampleText, existing)

	for _, w := range res.Warnings {
		assert.NotEqual(t, internal.SourceRule, w.SourceType, w.Path)
		assert.NotEqual(t, "cargo.commodity", w.Path)
	}

	// supported rule fields keep the provenance they came in with
	assert.Equal(t, existing["cargo.pieces"], res.Provenance["cargo.pieces"])
}

func TestRuleDefaultSurvivesWithoutTextSupport(t *testing.T) {
	ruleProv := internal.FieldProvenance{
		SourceType: internal.SourceRule,
		Confidence: 0.9,
		Evidence:   []internal.Evidence{},
		Reason:     "customer cargo default",
		AppliedAt:  "2026-01-10T00:00:00Z",
	}
	draft := internal.StructuredShipment{Cargo: internal.Cargo{
		Commodity:   util.StringPtr("Frozen Poultry"),
		Temperature: util.StringPtr("-10F"),
	}}
	existing := map[string]internal.FieldProvenance{"cargo.commodity": ruleProv}

	res := New(config.Defaults()).Verify(draft, nil, "Load #: 121230\nWeight: 42,000 lbs", existing)

	require.NotNil(t, res.Shipment.Cargo.Commodity)
	assert.Equal(t, "Frozen Poultry", *res.Shipment.Cargo.Commodity)
	assert.Equal(t, ruleProv, res.Provenance["cargo.commodity"])

	// the model-sourced temperature has no such standing
	assert.Nil(t, res.Shipment.Cargo.Temperature)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "cargo.temperature", res.Warnings[0].Path)
	assert.Equal(t, internal.CategoryHallucinated, res.Warnings[0].Category)
}

func TestVerifyUsesCandidates(t *testing.T) {
	cands := []internal.Candidate{{
		Type:       internal.CandidateReferenceNumber,
		Value:      "TRFR0010713",
		RawMatch:   "TRFR0010713",
		LabelHint:  "Ref",
		Subtype:    internal.SubtypePO,
		Confidence: internal.ConfidenceHigh,
		Position:   internal.Position{Start: 5, End: 16},
	}}
	draft := internal.StructuredShipment{ReferenceNumbers: []internal.ReferenceNumber{{Value: "trfr0010713", Type: internal.SubtypePO}}}

	res := New(config.Defaults(), WithSourceType(internal.SourceEmailText)).Verify(draft, cands, "Ref: TRFR0010713", nil)

	assert.Empty(t, res.Warnings)
	prov := res.Provenance["reference_numbers[0].value"]
	assert.Equal(t, internal.SourceEmailText, prov.SourceType)
	assert.InDelta(t, 0.95, prov.Confidence, 1e-9)
	require.Len(t, prov.Evidence, 1)
	require.NotNil(t, prov.Evidence[0].CandidateIndex)
	assert.Equal(t, 0, *prov.Evidence[0].CandidateIndex)
	assert.Equal(t, "Ref", prov.Evidence[0].Label)
}

func TestVerifyDoesNotMutateDraft(t *testing.T) {
	draft := sampleDraft()
	New(config.Defaults()).Process(draft, nil, sampleText, nil)
	assert.Equal(t, sampleDraft(), draft)
}

const normalizeText = `LOAD TENDER
Load #: 121230
Total Weight: 42,000 lbs

Shipper:
ACME Foods
Pickup #: PU-7781

Consignee:
Fresh Mart
Delivery #: D-5521
`

func TestNormalize(t *testing.T) {
	draft := internal.StructuredShipment{
		ReferenceNumbers: []internal.ReferenceNumber{
			{Value: "121230", Type: internal.SubtypeBOL},
			{Value: "PU-7781", Type: internal.SubtypePickup},
			{Value: "D-5521", Type: internal.SubtypeDelivery},
			{Value: "0121230", Type: internal.SubtypeUnknown},
		},
		Stops: []internal.Stop{
			{Type: internal.StopPickup},
			{Type: internal.StopDelivery, ReferenceNumbers: []internal.ReferenceNumber{{Value: "D-5521", Type: internal.SubtypeUnknown}}},
		},
		Cargo: internal.Cargo{Weight: util.FloatPtr(42000)},
	}

	out, meta := New(config.Defaults()).Normalize(draft, nil, normalizeText)

	assert.Equal(t, []internal.ReferenceNumber{{Value: "121230", Type: internal.SubtypeBOL}}, out.ReferenceNumbers)
	assert.Equal(t, []internal.ReferenceNumber{{Value: "PU-7781", Type: internal.SubtypePickup}}, out.Stops[0].ReferenceNumbers)
	assert.Equal(t, []internal.ReferenceNumber{{Value: "D-5521", Type: internal.SubtypeDelivery}}, out.Stops[1].ReferenceNumbers)
	assert.Equal(t, 1, meta.RefsMovedToStops)
	assert.Equal(t, 2, meta.RefsDeduplicated)
	assert.Equal(t, internal.CargoFromHeader, meta.CargoSource)

	assert.Equal(t, internal.SubtypeUnknown, draft.Stops[1].ReferenceNumbers[0].Type)
	assert.Len(t, draft.ReferenceNumbers, 4)
}

func TestCargoSourceFromStop(t *testing.T) {
	text := "Shipper:\nACME Foods\n18 pallets\n"
	cands := []internal.Candidate{{Type: internal.CandidatePieces, Value: "18", RawMatch: "18 pallets", Position: internal.Position{Start: 20, End: 30}}}
	_, meta := New(config.Defaults()).Normalize(internal.StructuredShipment{Cargo: internal.Cargo{Pieces: util.IntPtr(18)}}, cands, text)
	assert.Equal(t, internal.CargoFromStop, meta.CargoSource)
}
