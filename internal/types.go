package internal

type CandidateType string

const (
	CandidateDate            CandidateType = "date"
	CandidateTime            CandidateType = "time"
	CandidateCityStateZip    CandidateType = "city_state_zip"
	CandidateAddress         CandidateType = "address"
	CandidateWeight          CandidateType = "weight"
	CandidatePieces          CandidateType = "pieces"
	CandidateDimensions      CandidateType = "dimensions"
	CandidateTemperature     CandidateType = "temperature"
	CandidateReferenceNumber CandidateType = "reference_number"
)

type ReferenceSubtype string

const (
	SubtypePO           ReferenceSubtype = "po"
	SubtypeBOL          ReferenceSubtype = "bol"
	SubtypeOrder        ReferenceSubtype = "order"
	SubtypePickup       ReferenceSubtype = "pickup"
	SubtypeDelivery     ReferenceSubtype = "delivery"
	SubtypeAppointment  ReferenceSubtype = "appointment"
	SubtypeReference    ReferenceSubtype = "reference"
	SubtypeConfirmation ReferenceSubtype = "confirmation"
	SubtypePRO          ReferenceSubtype = "pro"
	SubtypeRelease      ReferenceSubtype = "release"
	SubtypeUnknown      ReferenceSubtype = "unknown"
)

// IsKnown reports whether s carries a concrete classification.
func (s ReferenceSubtype) IsKnown() bool {
	return s != "" && s != SubtypeUnknown
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidences; unset ranks below low.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.95
	case ConfidenceMedium:
		return 0.8
	case ConfidenceLow:
		return 0.6
	default:
		return 0.5
	}
}

type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (p Position) Overlaps(o Position) bool {
	return p.Start < o.End && o.Start < p.End
}

type Candidate struct {
	Type       CandidateType    `json:"type"`
	Value      string           `json:"value"`
	RawMatch   string           `json:"raw_match"`
	LabelHint  string           `json:"label_hint,omitempty"`
	Subtype    ReferenceSubtype `json:"subtype,omitempty"`
	Confidence Confidence       `json:"confidence"`
	Position   Position         `json:"position"`
	Context    string           `json:"context"`
}

type StopType string

const (
	StopPickup   StopType = "pickup"
	StopDelivery StopType = "delivery"
)

type ReferenceNumber struct {
	Value string           `json:"value"`
	Type  ReferenceSubtype `json:"type"`
}

type Location struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	City    *string `json:"city"`
	State   *string `json:"state"`
	Zip     *string `json:"zip"`
	Country *string `json:"country"`
}

type Schedule struct {
	Date                *string `json:"date"`
	Time                *string `json:"time"`
	AppointmentRequired *bool   `json:"appointment_required"`
}

type Stop struct {
	Type             StopType          `json:"type"`
	Location         Location          `json:"location"`
	Schedule         Schedule          `json:"schedule"`
	ReferenceNumbers []ReferenceNumber `json:"reference_numbers"`
	Notes            *string           `json:"notes"`
}

type Cargo struct {
	Weight      *float64 `json:"weight"`
	Pieces      *int     `json:"pieces"`
	Dimensions  *string  `json:"dimensions"`
	Commodity   *string  `json:"commodity"`
	Temperature *string  `json:"temperature"`
}

type StructuredShipment struct {
	ReferenceNumbers       []ReferenceNumber `json:"reference_numbers"`
	Stops                  []Stop            `json:"stops"`
	Cargo                  Cargo             `json:"cargo"`
	UnclassifiedNotes      []string          `json:"unclassified_notes"`
	ClassificationMetadata map[string]any    `json:"classification_metadata,omitempty"`
}

type ProvenanceSourceType string

const (
	SourceDocumentText ProvenanceSourceType = "document_text"
	SourceEmailText    ProvenanceSourceType = "email_text"
	SourceRule         ProvenanceSourceType = "rule"
	SourceUserEdit     ProvenanceSourceType = "user_edit"
	SourceLLMInference ProvenanceSourceType = "llm_inference"
)

type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Evidence struct {
	Text           string `json:"text"`
	Span           *Span  `json:"span,omitempty"`
	Label          string `json:"label,omitempty"`
	CandidateIndex *int   `json:"candidate_index,omitempty"`
}

type FieldProvenance struct {
	SourceType ProvenanceSourceType `json:"source_type"`
	Confidence float64              `json:"confidence"`
	Evidence   []Evidence           `json:"evidence"`
	Reason     string               `json:"reason,omitempty"`
	AppliedAt  string               `json:"applied_at,omitempty"`
}

type WarningReason string

const (
	ReasonUnsupportedBySource WarningReason = "unsupported_by_source"
	ReasonWeakEvidence        WarningReason = "weak_evidence"
	ReasonAmbiguousMatch      WarningReason = "ambiguous_match"
)

type WarningCategory string

const (
	CategoryHallucinated WarningCategory = "hallucinated"
	CategoryUnverified   WarningCategory = "unverified"
)

type VerificationWarning struct {
	Path       string               `json:"path"`
	Value      string               `json:"value"`
	Reason     WarningReason        `json:"reason"`
	Category   WarningCategory      `json:"category"`
	SourceType ProvenanceSourceType `json:"source_type,omitempty"`
}

type RuleScope string

const (
	ScopeGlobal   RuleScope = "global"
	ScopePickup   RuleScope = "pickup"
	ScopeDelivery RuleScope = "delivery"
	ScopeHeader   RuleScope = "header"
)

type RuleStatus string

const (
	RuleActive     RuleStatus = "active"
	RuleDeprecated RuleStatus = "deprecated"
)

type ReferenceLabelRule struct {
	Label      string           `json:"label" yaml:"label"`
	Subtype    ReferenceSubtype `json:"subtype" yaml:"subtype"`
	Confidence Confidence       `json:"confidence" yaml:"confidence"`
}

type ReferenceRegexRule struct {
	Pattern string           `json:"pattern" yaml:"pattern"`
	Subtype ReferenceSubtype `json:"subtype" yaml:"subtype"`
}

type ReferenceValueRule struct {
	Pattern    string           `json:"pattern" yaml:"pattern"`
	Subtype    ReferenceSubtype `json:"subtype" yaml:"subtype"`
	Scope      RuleScope        `json:"scope" yaml:"scope"`
	Priority   int              `json:"priority" yaml:"priority"`
	Status     RuleStatus       `json:"status" yaml:"status"`
	Hits       int              `json:"hits" yaml:"hits"`
	Confidence Confidence       `json:"confidence" yaml:"confidence"`
}

type CustomerProfile struct {
	CustomerID string               `json:"customer_id" yaml:"customer_id"`
	LabelRules []ReferenceLabelRule `json:"label_rules" yaml:"label_rules"`
	RegexRules []ReferenceRegexRule `json:"regex_rules" yaml:"regex_rules"`
	ValueRules []ReferenceValueRule `json:"value_rules" yaml:"value_rules"`
}

type SuggestedRuleType string

const (
	RuleTypeLabel        SuggestedRuleType = "label"
	RuleTypeRegex        SuggestedRuleType = "regex"
	RuleTypeValuePattern SuggestedRuleType = "value_pattern"
)

type SuggestedRule struct {
	Type           SuggestedRuleType `json:"type"`
	Label          string            `json:"label,omitempty"`
	Pattern        string            `json:"pattern,omitempty"`
	Subtype        ReferenceSubtype  `json:"subtype"`
	Scope          RuleScope         `json:"scope,omitempty"`
	ExampleValue   string            `json:"example_value"`
	Context        string            `json:"context"`
	MatchCount     *int              `json:"match_count,omitempty"`
	ExampleMatches []string          `json:"example_matches,omitempty"`
	Score          *int              `json:"score,omitempty"`
}

type LearningEvent struct {
	FieldType   string `json:"field_type"`
	FieldPath   string `json:"field_path"`
	BeforeValue string `json:"before_value"`
	AfterValue  string `json:"after_value"`
	Context     string `json:"context"`
}

type AuditEntry struct {
	Rule      string `json:"rule"`
	Candidate string `json:"candidate"`
	Reason    string `json:"reason"`
	Applied   bool   `json:"applied"`
}

type ExtractionMetadata struct {
	Version              string       `json:"version"`
	CustomerID           string       `json:"customer_id,omitempty"`
	AppliedCustomerRules []string     `json:"applied_customer_rules"`
	AuditLog             []AuditEntry `json:"audit_log"`
}

type ExtractionResult struct {
	Candidates []Candidate        `json:"candidates"`
	Metadata   ExtractionMetadata `json:"metadata"`
}

type CargoSource string

const (
	CargoFromHeader CargoSource = "header"
	CargoFromStop   CargoSource = "stop"
	CargoFromNone   CargoSource = "none"
)

type NormalizationMetadata struct {
	RefsMovedToStops int         `json:"refs_moved_to_stops"`
	RefsDeduplicated int         `json:"refs_deduplicated"`
	CargoSource      CargoSource `json:"cargo_source"`
}

type VerifiedShipmentResult struct {
	Shipment      StructuredShipment         `json:"shipment"`
	Warnings      []VerificationWarning      `json:"warnings"`
	Provenance    map[string]FieldProvenance `json:"provenance"`
	Normalization NormalizationMetadata      `json:"normalization"`
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionRejected SuggestionStatus = "rejected"
)

type ExtractionRecord struct {
	ID         int
	EmailID    int
	CustomerID string
	Text       string
	Result     ExtractionResult
	CreatedAt  string
}

type VerificationRecord struct {
	ID           int
	EmailID      int
	ExtractionID int
	Draft        StructuredShipment
	Result       VerifiedShipmentResult
	Final        *StructuredShipment
	Status       string
	CreatedAt    string
}

type SuggestionRecord struct {
	ID             int
	CustomerID     string
	VerificationID int
	Status         SuggestionStatus
	Rule           SuggestedRule
	CreatedAt      string
}
