package profile

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"loadtender/internal"
)

// Decode parses a YAML profile snapshot and fills rule defaults. A profile
// with a malformed pattern is refused as a whole.
func Decode(data []byte) (internal.CustomerProfile, error) {
	var p internal.CustomerProfile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return internal.CustomerProfile{}, eris.Wrap(err, "profile: decode yaml")
	}
	p.CustomerID = strings.TrimSpace(p.CustomerID)
	if p.CustomerID == "" {
		return internal.CustomerProfile{}, eris.New("profile: customer_id is required")
	}

	for i := range p.LabelRules {
		if p.LabelRules[i].Confidence == "" {
			p.LabelRules[i].Confidence = internal.ConfidenceMedium
		}
	}
	for i := range p.ValueRules {
		r := &p.ValueRules[i]
		if r.Scope == "" {
			r.Scope = internal.ScopeGlobal
		}
		if r.Status == "" {
			r.Status = internal.RuleActive
		}
		if r.Confidence == "" {
			r.Confidence = internal.ConfidenceHigh
		}
	}

	if c := Compile(p); len(c.Rejected) > 0 {
		return internal.CustomerProfile{}, eris.Wrapf(c.Rejected[0].Err, "profile: rule %s", c.Rejected[0].Key)
	}
	return p, nil
}

func Encode(p internal.CustomerProfile) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, eris.Wrap(err, "profile: encode yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "profile: encode yaml")
	}
	return buf.Bytes(), nil
}
