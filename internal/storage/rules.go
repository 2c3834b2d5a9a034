package storage

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"loadtender/internal"
	"loadtender/internal/profile"
)

func (d *DB) UpsertCustomer(id, name, senderDomain string) error {
	_, err := d.conn.Exec(`
INSERT INTO customers (id, name, senderDomain) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = COALESCE(NULLIF(excluded.name, ''), customers.name),
  senderDomain = COALESCE(NULLIF(excluded.senderDomain, ''), customers.senderDomain)
`, id, name, strings.ToLower(senderDomain))
	return eris.Wrapf(err, "storage: upsert customer %s", id)
}

// CustomerBySenderDomain returns the customer id registered for a sender's
// e-mail domain, or nil.
func (d *DB) CustomerBySenderDomain(domain string) (*string, error) {
	var id string
	err := d.conn.QueryRow(`SELECT id FROM customers WHERE senderDomain = ? ORDER BY createdAt LIMIT 1`, strings.ToLower(domain)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: customer for domain %s", domain)
	}
	return &id, nil
}

// LoadProfile reads every rule of a customer, deprecated value rules
// included, as one snapshot.
func (d *DB) LoadProfile(customerID string) (internal.CustomerProfile, error) {
	p := internal.CustomerProfile{CustomerID: customerID}

	rows, err := d.conn.Query(`SELECT label, subtype, confidence FROM label_rules WHERE customerId = ? ORDER BY id`, customerID)
	if err != nil {
		return p, eris.Wrap(err, "storage: load label rules")
	}
	for rows.Next() {
		var r internal.ReferenceLabelRule
		if err := rows.Scan(&r.Label, &r.Subtype, &r.Confidence); err != nil {
			_ = rows.Close()
			return p, eris.Wrap(err, "storage: scan label rule")
		}
		p.LabelRules = append(p.LabelRules, r)
	}
	_ = rows.Close()

	rows, err = d.conn.Query(`SELECT pattern, subtype FROM regex_rules WHERE customerId = ? ORDER BY id`, customerID)
	if err != nil {
		return p, eris.Wrap(err, "storage: load regex rules")
	}
	for rows.Next() {
		var r internal.ReferenceRegexRule
		if err := rows.Scan(&r.Pattern, &r.Subtype); err != nil {
			_ = rows.Close()
			return p, eris.Wrap(err, "storage: scan regex rule")
		}
		p.RegexRules = append(p.RegexRules, r)
	}
	_ = rows.Close()

	rows, err = d.conn.Query(`
SELECT pattern, subtype, scope, priority, status, hits, confidence
FROM value_rules WHERE customerId = ? ORDER BY id`, customerID)
	if err != nil {
		return p, eris.Wrap(err, "storage: load value rules")
	}
	defer rows.Close()
	for rows.Next() {
		var r internal.ReferenceValueRule
		if err := rows.Scan(&r.Pattern, &r.Subtype, &r.Scope, &r.Priority, &r.Status, &r.Hits, &r.Confidence); err != nil {
			return p, eris.Wrap(err, "storage: scan value rule")
		}
		p.ValueRules = append(p.ValueRules, r)
	}
	return p, eris.Wrap(rows.Err(), "storage: value rules")
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (d *DB) AddLabelRule(customerID string, r internal.ReferenceLabelRule) error {
	return addLabelRule(d.conn, customerID, r)
}

func (d *DB) AddRegexRule(customerID string, r internal.ReferenceRegexRule) error {
	return addRegexRule(d.conn, customerID, r)
}

// AddValueRule validates the pattern before storing it so a stored profile
// never carries a value rule that cannot compile.
func (d *DB) AddValueRule(customerID string, r internal.ReferenceValueRule) error {
	return addValueRule(d.conn, customerID, r)
}

func addLabelRule(x execer, customerID string, r internal.ReferenceLabelRule) error {
	if strings.TrimSpace(r.Label) == "" {
		return eris.New("storage: empty label")
	}
	if r.Confidence == "" {
		r.Confidence = internal.ConfidenceMedium
	}
	_, err := x.Exec(`
INSERT INTO label_rules (customerId, label, subtype, confidence) VALUES (?, ?, ?, ?)
ON CONFLICT(customerId, label, subtype) DO UPDATE SET confidence = excluded.confidence
`, customerID, strings.TrimSpace(r.Label), string(r.Subtype), string(r.Confidence))
	return eris.Wrap(err, "storage: add label rule")
}

func addRegexRule(x execer, customerID string, r internal.ReferenceRegexRule) error {
	if _, err := profile.CompileRegexRule(r); err != nil {
		return err
	}
	_, err := x.Exec(`
INSERT INTO regex_rules (customerId, pattern, subtype) VALUES (?, ?, ?)
ON CONFLICT(customerId, pattern, subtype) DO NOTHING
`, customerID, r.Pattern, string(r.Subtype))
	return eris.Wrap(err, "storage: add regex rule")
}

func addValueRule(x execer, customerID string, r internal.ReferenceValueRule) error {
	compiled, err := profile.CompileValueRule(r)
	if err != nil {
		return err
	}
	r = compiled.ReferenceValueRule
	_, err = x.Exec(`
INSERT INTO value_rules (customerId, pattern, subtype, scope, priority, status, hits, confidence)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(customerId, pattern, subtype, scope) DO UPDATE SET
  priority = excluded.priority,
  status = excluded.status,
  confidence = excluded.confidence,
  updatedAt = CURRENT_TIMESTAMP
`, customerID, r.Pattern, string(r.Subtype), string(r.Scope), r.Priority, string(r.Status), r.Hits, string(r.Confidence))
	return eris.Wrap(err, "storage: add value rule")
}

// IncrementRuleHits bumps the hit counter of every value rule named in keys
// (as produced by profile.ValueKey). Other rule kinds carry no counter.
func (d *DB) IncrementRuleHits(customerID string, keys []string) error {
	for _, key := range keys {
		pattern, ok := strings.CutPrefix(key, "value:")
		if !ok {
			continue
		}
		if _, err := d.conn.Exec(`
UPDATE value_rules SET hits = hits + 1, updatedAt = CURRENT_TIMESTAMP
WHERE customerId = ? AND pattern = ? AND status = 'active'
`, customerID, pattern); err != nil {
			return eris.Wrapf(err, "storage: increment hits for %s", key)
		}
	}
	return nil
}

// DeprecateValueRule retires a value rule. Rules are never deleted.
func (d *DB) DeprecateValueRule(customerID, pattern string) (int64, error) {
	res, err := d.conn.Exec(`
UPDATE value_rules SET status = ?, updatedAt = CURRENT_TIMESTAMP
WHERE customerId = ? AND pattern = ?
`, string(internal.RuleDeprecated), customerID, pattern)
	if err != nil {
		return 0, eris.Wrapf(err, "storage: deprecate %s", pattern)
	}
	return res.RowsAffected()
}

// ImportProfile merges every rule of p into the customer's stored rules in
// one transaction. A rule that fails validation aborts the import.
func (d *DB) ImportProfile(p internal.CustomerProfile) error {
	if strings.TrimSpace(p.CustomerID) == "" {
		return eris.New("storage: profile without customer_id")
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return eris.Wrap(err, "storage: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO customers (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, p.CustomerID); err != nil {
		return eris.Wrap(err, "storage: ensure customer")
	}
	for _, r := range p.LabelRules {
		if err := addLabelRule(tx, p.CustomerID, r); err != nil {
			return err
		}
	}
	for _, r := range p.RegexRules {
		if err := addRegexRule(tx, p.CustomerID, r); err != nil {
			return err
		}
	}
	for _, r := range p.ValueRules {
		if err := addValueRule(tx, p.CustomerID, r); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "storage: commit profile")
}
