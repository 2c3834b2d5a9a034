package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadtender/internal"
)

const acmeYAML = `
customer_id: acme
label_rules:
  - label: "Order Ref"
    subtype: order
regex_rules:
  - pattern: '^SO\d+$'
    subtype: order
value_rules:
  - pattern: '^TRFR\d{7,}$'
    subtype: po
    priority: 2
  - pattern: '^\d{6}$'
    subtype: bol
    scope: pickup
    status: deprecated
`

func TestDecodeFillsDefaults(t *testing.T) {
	p, err := Decode([]byte(acmeYAML))
	require.NoError(t, err)

	assert.Equal(t, "acme", p.CustomerID)
	require.Len(t, p.LabelRules, 1)
	assert.Equal(t, internal.ConfidenceMedium, p.LabelRules[0].Confidence)
	require.Len(t, p.ValueRules, 2)
	assert.Equal(t, internal.ScopeGlobal, p.ValueRules[0].Scope)
	assert.Equal(t, internal.RuleActive, p.ValueRules[0].Status)
	assert.Equal(t, internal.ConfidenceHigh, p.ValueRules[0].Confidence)
	assert.Equal(t, 2, p.ValueRules[0].Priority)
	assert.Equal(t, internal.RuleDeprecated, p.ValueRules[1].Status)
	assert.Equal(t, internal.ScopePickup, p.ValueRules[1].Scope)
}

func TestEncodeDecodeKeepsRules(t *testing.T) {
	p, err := Decode([]byte(acmeYAML))
	require.NoError(t, err)

	blob, err := Encode(p)
	require.NoError(t, err)
	back, err := Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"missing customer": "label_rules: []\n",
		"bad pattern":      "customer_id: acme\nvalue_rules:\n  - pattern: '^(TRFR'\n    subtype: po\n",
		"unknown field":    "customer_id: acme\nrules: []\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(src))
			require.Error(t, err)
		})
	}
}
