package model

import "time"

// ObligationType classifies a reconciled contractual term.
type ObligationType string

const (
	ObligationPayment           ObligationType = "payment"
	ObligationDelivery          ObligationType = "delivery"
	ObligationWarrantyRetention ObligationType = "warranty_retention"
	ObligationPenalty           ObligationType = "penalty"
	ObligationEarlyDiscount     ObligationType = "early_discount"
)

// RiskLevel buckets the monetary/contractual materiality of an item.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Evidence points at the text span in a source that supports a candidate.
type Evidence struct {
	SourceID string `json:"source_id"`
	Snippet  string `json:"snippet"`
	Offset   int    `json:"offset"`
}

// ObligationCandidate is one raw term proposed by an extractor from a single
// source's text. Candidates from different sources are reconciled into
// Obligations by the conflict resolver.
type ObligationCandidate struct {
	Type          ObligationType `json:"type"`
	Currency      string         `json:"currency,omitempty"`
	AmountValue   *float64       `json:"amount_value,omitempty"`
	AmountPercent *float64       `json:"amount_percent,omitempty"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	WithinDays    *int           `json:"within_days,omitempty"`
	ConditionText string         `json:"condition_text"`
	Confidence    float64        `json:"confidence"`
	Evidence      Evidence       `json:"evidence"`
}

// ConflictMap records field-level disagreement between sources:
// field name → source ID → the value that source reported.
// An empty map means full agreement.
type ConflictMap map[string]map[string]string

// Obligation is a reconciled contractual term for a case. Signature is a
// stable hash of the normalized content, unique across the store, so
// re-extracting identical content never creates a duplicate row.
type Obligation struct {
	ObligationID  string         `json:"obligation_id"`
	CaseID        string         `json:"case_id"`
	Type          ObligationType `json:"type"`
	Currency      string         `json:"currency,omitempty"`
	AmountValue   *float64       `json:"amount_value,omitempty"`
	AmountPercent *float64       `json:"amount_percent,omitempty"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	WithinDays    *int           `json:"within_days,omitempty"`
	ConditionText string         `json:"condition_text"`
	Confidence    float64        `json:"confidence"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	Signature     string         `json:"signature"`
	Conflicts     ConflictMap    `json:"conflicts,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// HasConflicts reports whether any field disagreed across sources.
func (o Obligation) HasConflicts() bool {
	return len(o.Conflicts) > 0
}

// ObligationEvidence links an Obligation to a supporting source span. One
// obligation may carry many evidence rows when several sources agree (or
// disagree) about the same clause.
type ObligationEvidence struct {
	EvidenceID   string    `json:"evidence_id"`
	ObligationID string    `json:"obligation_id"`
	SourceID     string    `json:"source_id"`
	Snippet      string    `json:"snippet"`
	Offset       int       `json:"offset"`
	CreatedAt    time.Time `json:"created_at"`
}
