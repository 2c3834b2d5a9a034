package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtender/internal"
	"loadtender/internal/config"
	"loadtender/internal/util"
)

func shipment(refs ...internal.ReferenceNumber) internal.StructuredShipment {
	return internal.StructuredShipment{ReferenceNumbers: refs}
}

func ref(value string, t internal.ReferenceSubtype) internal.ReferenceNumber {
	return internal.ReferenceNumber{Value: value, Type: t}
}

func ofType(rules []internal.SuggestedRule, t internal.SuggestedRuleType) []internal.SuggestedRule {
	var out []internal.SuggestedRule
	for _, r := range rules {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func TestValuePatternProposal(t *testing.T) {
	text := "Shipment TRFR0010713 ready for pickup"
	got := New(config.Defaults()).DetectReclassifications(
		shipment(ref("TRFR0010713", internal.SubtypeUnknown)),
		shipment(ref("TRFR0010713", internal.SubtypePO)),
		nil, text)

	require.Len(t, got, 1)
	s := got[0]
	assert.Equal(t, internal.RuleTypeValuePattern, s.Type)
	assert.Equal(t, `^TRFR\d{7,}$`, s.Pattern)
	assert.Equal(t, internal.SubtypePO, s.Subtype)
	assert.Equal(t, internal.ScopeGlobal, s.Scope)
	require.NotNil(t, s.Score)
	assert.GreaterOrEqual(t, *s.Score, 3)
	require.NotNil(t, s.MatchCount)
	assert.Equal(t, 1, *s.MatchCount)
	assert.Equal(t, []string{"TRFR0010713"}, s.ExampleMatches)
	assert.Contains(t, s.Context, "TRFR0010713")
}

func TestValuePatternAbsentOriginalCountsAsUnknown(t *testing.T) {
	got := New(config.Defaults()).DetectReclassifications(
		shipment(),
		shipment(ref("TRFR0010713", internal.SubtypePO)),
		nil, "TRFR0010713")

	require.Len(t, got, 1)
	assert.Equal(t, internal.RuleTypeValuePattern, got[0].Type)
}

func TestValuePatternScopedToStop(t *testing.T) {
	text := "Shipper:\nACME Foods\nRef TRFR0010713\n\nConsignee:\nFresh Mart\n"
	final := internal.StructuredShipment{Stops: []internal.Stop{{
		Type:             internal.StopPickup,
		ReferenceNumbers: []internal.ReferenceNumber{ref("TRFR0010713", internal.SubtypePO)},
	}}}

	got := New(config.Defaults()).DetectReclassifications(internal.StructuredShipment{}, final, nil, text)

	require.Len(t, got, 1)
	assert.Equal(t, internal.ScopePickup, got[0].Scope)
}

func TestCollisionFallsBackToLabel(t *testing.T) {
	text := "Order Ref: ABC10001\nAlso on this load: ABC10002 ABC10003 ABC10004 ABC10005"
	got := New(config.Defaults()).DetectReclassifications(
		shipment(ref("ABC10001", internal.SubtypeUnknown)),
		shipment(ref("ABC10001", internal.SubtypeOrder)),
		nil, text)

	assert.Empty(t, ofType(got, internal.RuleTypeValuePattern))
	labels := ofType(got, internal.RuleTypeLabel)
	require.Len(t, labels, 1)
	assert.Equal(t, "Order Ref", labels[0].Label)
	assert.Equal(t, internal.SubtypeOrder, labels[0].Subtype)
}

func TestScoringFloor(t *testing.T) {
	d := New(config.Defaults())

	cases := []struct {
		name  string
		value string
		text  string
	}{
		{name: "short", value: "SO12345", text: "SO12345"},
		{name: "phone", value: "123-456-7890", text: "Call 123-456-7890"},
		{name: "purely numeric", value: "12345678901", text: "12345678901"},
		{name: "low entropy", value: "AB00001234", text: "AB00001234"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := d.DetectReclassifications(
				shipment(ref(tc.value, internal.SubtypeUnknown)),
				shipment(ref(tc.value, internal.SubtypePO)),
				nil, tc.text)
			assert.Empty(t, ofType(got, internal.RuleTypeValuePattern))
			for _, s := range got {
				if s.Score != nil {
					assert.GreaterOrEqual(t, *s.Score, 3)
				}
			}
		})
	}

	t.Run("phone never yields a suggestion", func(t *testing.T) {
		got := d.DetectReclassifications(
			shipment(ref("123-456-7890", internal.SubtypeUnknown)),
			shipment(ref("123-456-7890", internal.SubtypePO)),
			nil, "PO: 123-456-7890")
		assert.Empty(t, got)
	})

	t.Run("short value yields nothing even with a label", func(t *testing.T) {
		got := d.DetectReclassifications(
			shipment(ref("SO12345", internal.SubtypeUnknown)),
			shipment(ref("SO12345", internal.SubtypeOrder)),
			nil, "Sales Order: SO12345")
		assert.Empty(t, got)
	})

	t.Run("numeric with a label yields nothing", func(t *testing.T) {
		got := d.DetectReclassifications(
			shipment(ref("12345678901", internal.SubtypeUnknown)),
			shipment(ref("12345678901", internal.SubtypePO)),
			nil, "Customer PO: 12345678901")
		assert.Empty(t, got)
	})

	t.Run("numeric without label yields nothing", func(t *testing.T) {
		got := d.DetectReclassifications(
			shipment(ref("12345678901", internal.SubtypeUnknown)),
			shipment(ref("12345678901", internal.SubtypePO)),
			nil, "12345678901")
		assert.Empty(t, got)
	})
}

func TestLegacyRegexFallback(t *testing.T) {
	got := New(config.Defaults()).DetectReclassifications(
		shipment(ref("SO1234567", internal.SubtypeUnknown)),
		shipment(ref("SO1234567", internal.SubtypeOrder)),
		nil, "SO1234567 confirmed")

	require.Len(t, got, 1)
	assert.Equal(t, internal.RuleTypeRegex, got[0].Type)
	assert.Equal(t, `^SO\d+$`, got[0].Pattern)
}

func TestUnchangedOrUnknownFinalIsIgnored(t *testing.T) {
	d := New(config.Defaults())
	assert.Empty(t, d.DetectReclassifications(
		shipment(ref("TRFR0010713", internal.SubtypePO)),
		shipment(ref("0TRFR0010713", internal.SubtypePO)),
		nil, "TRFR0010713"))
	assert.Empty(t, d.DetectReclassifications(
		shipment(ref("TRFR0010713", internal.SubtypePO)),
		shipment(ref("TRFR0010713", internal.SubtypeUnknown)),
		nil, "TRFR0010713"))
}

func TestSuggestionsAreDeduplicated(t *testing.T) {
	text := "PO: TRFR0010713\nPO: TRFR0020999"
	got := New(config.Defaults()).DetectReclassifications(
		shipment(ref("TRFR0010713", internal.SubtypeUnknown), ref("TRFR0020999", internal.SubtypeUnknown)),
		shipment(ref("TRFR0010713", internal.SubtypePO), ref("TRFR0020999", internal.SubtypePO)),
		nil, text)

	require.Len(t, got, 1)
	assert.Equal(t, `^TRFR\d{7,}$`, got[0].Pattern)
}

func TestDerivePattern(t *testing.T) {
	d := New(config.Defaults())
	cases := map[string]string{
		"TRFR0010713": `^TRFR\d{7,}$`,
		"PU-7781":     `^PU-?\d{4,}$`,
		"TRK9A4412":   `^TRK[A-Za-z0-9]{6,}$`,
		"12-AB-34567": `^\d{2}-AB-\d{5,}$`,
		"12345678":    "",
	}
	for value, want := range cases {
		assert.Equal(t, want, d.derivePattern(value), value)
	}

	cfg := config.Defaults()
	cfg.LearnDigitSlack = 2
	assert.Equal(t, `^TRFR\d{5,}$`, New(cfg).derivePattern("TRFR0010713"))
	assert.Equal(t, `^AB\d{4,}$`, New(cfg).derivePattern("AB12345"))
}

func TestLowEntropy(t *testing.T) {
	assert.True(t, lowEntropy("AAAAB"))
	assert.True(t, lowEntropy("XY1111Z"))
	assert.True(t, lowEntropy("PO12345X"))
	assert.False(t, lowEntropy("TRFR0010713"))
}

func TestCollisionsWithBadPattern(t *testing.T) {
	n, _ := collisions(`^(`, nil, "anything")
	assert.Greater(t, n, config.Defaults().LearnMaxCollisions)
}

func TestIsRuleAlreadyLearned(t *testing.T) {
	labels := []internal.ReferenceLabelRule{{Label: "Order Ref", Subtype: internal.SubtypeOrder}}
	regexes := []internal.ReferenceRegexRule{{Pattern: `^SO\d+$`, Subtype: internal.SubtypeOrder}}
	values := []internal.ReferenceValueRule{
		{Pattern: `^TRFR\d{7,}$`, Subtype: internal.SubtypePO, Scope: internal.ScopeGlobal},
		{Pattern: `^PU-?\d{4,}$`, Subtype: internal.SubtypePickup, Scope: internal.ScopePickup},
	}

	cases := []struct {
		name string
		s    internal.SuggestedRule
		want bool
	}{
		{"label case-insensitive", internal.SuggestedRule{Type: internal.RuleTypeLabel, Label: "order ref", Subtype: internal.SubtypeOrder}, true},
		{"label other subtype", internal.SuggestedRule{Type: internal.RuleTypeLabel, Label: "Order Ref", Subtype: internal.SubtypePO}, false},
		{"regex", internal.SuggestedRule{Type: internal.RuleTypeRegex, Pattern: `^so\d+$`, Subtype: internal.SubtypeOrder}, true},
		{"global subsumes pickup", internal.SuggestedRule{Type: internal.RuleTypeValuePattern, Pattern: `^TRFR\d{7,}$`, Subtype: internal.SubtypePO, Scope: internal.ScopePickup}, true},
		{"same scope", internal.SuggestedRule{Type: internal.RuleTypeValuePattern, Pattern: `^PU-?\d{4,}$`, Subtype: internal.SubtypePickup, Scope: internal.ScopePickup}, true},
		{"pickup does not cover global", internal.SuggestedRule{Type: internal.RuleTypeValuePattern, Pattern: `^PU-?\d{4,}$`, Subtype: internal.SubtypePickup, Scope: internal.ScopeGlobal}, false},
		{"pickup does not cover delivery", internal.SuggestedRule{Type: internal.RuleTypeValuePattern, Pattern: `^PU-?\d{4,}$`, Subtype: internal.SubtypePickup, Scope: internal.ScopeDelivery}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRuleAlreadyLearned(tc.s, labels, regexes, values))
		})
	}

	kept := FilterLearned([]internal.SuggestedRule{cases[0].s, cases[1].s}, internal.CustomerProfile{LabelRules: labels})
	require.Len(t, kept, 1)
	assert.Equal(t, internal.SubtypePO, kept[0].Subtype)
}

func TestDetectAllEdits(t *testing.T) {
	text := "PO: TRFR0010713\nCommodity: Frozen Chicken\nWeight: 42,000 lbs\nTemp: -10F"
	original := internal.StructuredShipment{
		ReferenceNumbers: []internal.ReferenceNumber{ref("TRFR0010713", internal.SubtypeUnknown)},
		Cargo: internal.Cargo{
			Commodity:   util.StringPtr("chicken"),
			Weight:      util.FloatPtr(40000),
			Temperature: util.StringPtr("34F"),
		},
	}
	final := internal.StructuredShipment{
		ReferenceNumbers: []internal.ReferenceNumber{ref("TRFR0010713", internal.SubtypePO)},
		Cargo: internal.Cargo{
			Commodity:   util.StringPtr("Frozen Chicken"),
			Weight:      util.FloatPtr(42000),
			Temperature: util.StringPtr("-10F"),
		},
	}

	events := New(config.Defaults()).DetectAllEdits(original, final, nil, text)

	byType := map[string]internal.LearningEvent{}
	for _, e := range events {
		byType[e.FieldType] = e
	}
	require.Len(t, events, 4)
	assert.Equal(t, "reference_numbers[0].value", byType[FieldReference].FieldPath)
	assert.Equal(t, "po", byType[FieldReference].AfterValue)
	assert.Equal(t, "Frozen Chicken", byType[FieldCommodity].AfterValue)
	assert.Contains(t, byType[FieldCommodity].Context, "Frozen Chicken")
	assert.Equal(t, "40000", byType[FieldWeight].BeforeValue)
	assert.Equal(t, "42000", byType[FieldWeight].AfterValue)
	assert.Equal(t, "-10F", byType[FieldTemperature].AfterValue)
}

func TestDetectAllEditsIgnoresTrivialChanges(t *testing.T) {
	original := internal.StructuredShipment{Cargo: internal.Cargo{
		Commodity:   util.StringPtr("frozen  chicken"),
		Weight:      util.FloatPtr(42000),
		Temperature: util.StringPtr("-10F"),
	}}
	final := internal.StructuredShipment{Cargo: internal.Cargo{
		Commodity:   util.StringPtr("Frozen Chicken"),
		Weight:      util.FloatPtr(42100),
		Temperature: util.StringPtr("Frozen"),
	}}

	assert.Empty(t, New(config.Defaults()).DetectAllEdits(original, final, nil, ""))
}

func TestTemperatureMode(t *testing.T) {
	assert.Equal(t, "frozen", TemperatureMode("-10F"))
	assert.Equal(t, "refrigerated", TemperatureMode("34-38 F"))
	assert.Equal(t, "refrigerated", TemperatureMode("2 C"))
	assert.Equal(t, "dry", TemperatureMode("Dry van"))
	assert.Equal(t, "", TemperatureMode(""))
}
