package storage

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"loadtender/internal"
)

func (d *DB) InsertExtraction(emailID int, customerID, text string, res internal.ExtractionResult) (int64, error) {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return 0, eris.Wrap(err, "storage: encode extraction")
	}
	result, err := d.conn.Exec(`
INSERT INTO extractions (emailId, customerId, version, sourceText, resultJson)
VALUES (?, ?, ?, ?, ?)
`, emailID, nullable(customerID), res.Metadata.Version, text, string(resultJSON))
	if err != nil {
		return 0, eris.Wrap(err, "storage: insert extraction")
	}
	return result.LastInsertId()
}

func (d *DB) GetExtraction(id int) (*internal.ExtractionRecord, error) {
	var rec internal.ExtractionRecord
	var customerID sql.NullString
	var resultJSON string
	err := d.conn.QueryRow(`
SELECT id, emailId, customerId, sourceText, resultJson, createdAt FROM extractions WHERE id = ?
`, id).Scan(&rec.ID, &rec.EmailID, &customerID, &rec.Text, &resultJSON, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get extraction %d", id)
	}
	rec.CustomerID = customerID.String
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, eris.Wrapf(err, "storage: decode extraction %d", id)
	}
	return &rec, nil
}

func (d *DB) InsertVerification(emailID int, extractionID int64, draft internal.StructuredShipment, res internal.VerifiedShipmentResult) (int64, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return 0, eris.Wrap(err, "storage: encode draft")
	}
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return 0, eris.Wrap(err, "storage: encode verification")
	}
	result, err := d.conn.Exec(`
INSERT INTO verifications (emailId, extractionId, draftJson, resultJson, warningCount, status)
VALUES (?, ?, ?, ?, ?, ?)
`, emailID, extractionID, string(draftJSON), string(resultJSON), len(res.Warnings), ReviewPending)
	if err != nil {
		return 0, eris.Wrap(err, "storage: insert verification")
	}
	return result.LastInsertId()
}

const verificationColumns = `id, emailId, extractionId, draftJson, resultJson, finalJson, status, createdAt`

func scanVerification(row interface{ Scan(...any) error }) (internal.VerificationRecord, error) {
	var rec internal.VerificationRecord
	var draftJSON, resultJSON string
	var finalJSON sql.NullString
	if err := row.Scan(&rec.ID, &rec.EmailID, &rec.ExtractionID, &draftJSON, &resultJSON, &finalJSON, &rec.Status, &rec.CreatedAt); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(draftJSON), &rec.Draft); err != nil {
		return rec, eris.Wrap(err, "decode draft")
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return rec, eris.Wrap(err, "decode result")
	}
	if finalJSON.Valid {
		var final internal.StructuredShipment
		if err := json.Unmarshal([]byte(finalJSON.String), &final); err != nil {
			return rec, eris.Wrap(err, "decode final")
		}
		rec.Final = &final
	}
	return rec, nil
}

func (d *DB) GetVerification(id int) (*internal.VerificationRecord, error) {
	rec, err := scanVerification(d.conn.QueryRow(`SELECT `+verificationColumns+` FROM verifications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get verification %d", id)
	}
	return &rec, nil
}

// LatestVerificationForEmail returns the most recent verification of an
// e-mail, or nil when it was never verified.
func (d *DB) LatestVerificationForEmail(emailID int) (*internal.VerificationRecord, error) {
	rec, err := scanVerification(d.conn.QueryRow(`SELECT `+verificationColumns+` FROM verifications WHERE emailId = ? ORDER BY id DESC LIMIT 1`, emailID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: verification for email %d", emailID)
	}
	return &rec, nil
}

func (d *DB) SetVerificationFinal(id int, final internal.StructuredShipment) error {
	finalJSON, err := json.Marshal(final)
	if err != nil {
		return eris.Wrap(err, "storage: encode final")
	}
	_, err = d.conn.Exec(`
UPDATE verifications SET finalJson = ?, status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?
`, string(finalJSON), ReviewComplete, id)
	return eris.Wrapf(err, "storage: finalize verification %d", id)
}

func (d *DB) InsertSuggestions(customerID string, verificationID int, rules []internal.SuggestedRule) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return eris.Wrap(err, "storage: begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO suggestions (customerId, verificationId, type, label, pattern, subtype, scope, exampleValue, context, matchCount, score, examplesJson)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return eris.Wrap(err, "storage: prepare suggestion")
	}
	defer stmt.Close()

	for _, r := range rules {
		examples, _ := json.Marshal(r.ExampleMatches)
		if r.ExampleMatches == nil {
			examples = []byte("[]")
		}
		if _, err := stmt.Exec(
			customerID, verificationID, string(r.Type), nullable(r.Label), nullable(r.Pattern), string(r.Subtype),
			nullable(string(r.Scope)), r.ExampleValue, r.Context, r.MatchCount, r.Score, string(examples),
		); err != nil {
			return eris.Wrap(err, "storage: insert suggestion")
		}
	}
	return eris.Wrap(tx.Commit(), "storage: commit suggestions")
}

const suggestionColumns = `id, customerId, verificationId, type, label, pattern, subtype, scope, exampleValue, context, matchCount, score, examplesJson, status, createdAt`

func scanSuggestion(row interface{ Scan(...any) error }) (internal.SuggestionRecord, error) {
	var rec internal.SuggestionRecord
	var verificationID sql.NullInt64
	var label, pattern, scope, context sql.NullString
	var matchCount, score sql.NullInt64
	var examples string
	err := row.Scan(&rec.ID, &rec.CustomerID, &verificationID, &rec.Rule.Type, &label, &pattern, &rec.Rule.Subtype,
		&scope, &rec.Rule.ExampleValue, &context, &matchCount, &score, &examples, &rec.Status, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	rec.VerificationID = int(verificationID.Int64)
	rec.Rule.Label = label.String
	rec.Rule.Pattern = pattern.String
	rec.Rule.Scope = internal.RuleScope(scope.String)
	rec.Rule.Context = context.String
	if matchCount.Valid {
		n := int(matchCount.Int64)
		rec.Rule.MatchCount = &n
	}
	if score.Valid {
		n := int(score.Int64)
		rec.Rule.Score = &n
	}
	_ = json.Unmarshal([]byte(examples), &rec.Rule.ExampleMatches)
	return rec, nil
}

// ListSuggestions lists a customer's suggestions; an empty status lists all.
func (d *DB) ListSuggestions(customerID string, status internal.SuggestionStatus) ([]internal.SuggestionRecord, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE customerId = ?`
	args := []any{customerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	rows, err := d.conn.Query(query+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list suggestions")
	}
	defer rows.Close()

	var out []internal.SuggestionRecord
	for rows.Next() {
		rec, err := scanSuggestion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan suggestion")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d *DB) GetSuggestion(id int) (*internal.SuggestionRecord, error) {
	rec, err := scanSuggestion(d.conn.QueryRow(`SELECT `+suggestionColumns+` FROM suggestions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get suggestion %d", id)
	}
	return &rec, nil
}

func (d *DB) SetSuggestionStatus(id int, status internal.SuggestionStatus) error {
	_, err := d.conn.Exec(`UPDATE suggestions SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	return eris.Wrapf(err, "storage: set suggestion %d status", id)
}

// ApproveSuggestion converts a pending suggestion into a customer rule and
// marks it approved, atomically.
func (d *DB) ApproveSuggestion(id int) (internal.SuggestionRecord, error) {
	rec, err := d.GetSuggestion(id)
	if err != nil {
		return internal.SuggestionRecord{}, err
	}
	if rec == nil {
		return internal.SuggestionRecord{}, eris.Errorf("suggestion %d not found", id)
	}
	if rec.Status != internal.SuggestionPending {
		return *rec, eris.Errorf("suggestion %d is %s", id, rec.Status)
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return *rec, eris.Wrap(err, "storage: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO customers (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, rec.CustomerID); err != nil {
		return *rec, eris.Wrap(err, "storage: ensure customer")
	}

	r := rec.Rule
	switch r.Type {
	case internal.RuleTypeLabel:
		err = addLabelRule(tx, rec.CustomerID, internal.ReferenceLabelRule{Label: r.Label, Subtype: r.Subtype, Confidence: internal.ConfidenceMedium})
	case internal.RuleTypeRegex:
		err = addRegexRule(tx, rec.CustomerID, internal.ReferenceRegexRule{Pattern: r.Pattern, Subtype: r.Subtype})
	case internal.RuleTypeValuePattern:
		err = addValueRule(tx, rec.CustomerID, internal.ReferenceValueRule{
			Pattern:    r.Pattern,
			Subtype:    r.Subtype,
			Scope:      r.Scope,
			Status:     internal.RuleActive,
			Confidence: internal.ConfidenceHigh,
		})
	default:
		err = eris.Errorf("unknown suggestion type %q", r.Type)
	}
	if err != nil {
		return *rec, err
	}

	if _, err := tx.Exec(`UPDATE suggestions SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(internal.SuggestionApproved), id); err != nil {
		return *rec, eris.Wrap(err, "storage: mark approved")
	}
	if err := tx.Commit(); err != nil {
		return *rec, eris.Wrap(err, "storage: commit approval")
	}
	rec.Status = internal.SuggestionApproved
	return *rec, nil
}

func (d *DB) InsertLearningEvents(customerID string, verificationID int, events []internal.LearningEvent) error {
	for _, e := range events {
		if _, err := d.conn.Exec(`
INSERT INTO learning_events (customerId, verificationId, fieldType, fieldPath, beforeValue, afterValue, context)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, customerID, verificationID, e.FieldType, e.FieldPath, e.BeforeValue, e.AfterValue, e.Context); err != nil {
			return eris.Wrap(err, "storage: insert learning event")
		}
	}
	return nil
}

func (d *DB) CountLearningEvents(customerID string) (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM learning_events WHERE customerId = ?`, customerID).Scan(&n)
	return n, eris.Wrap(err, "storage: count learning events")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
