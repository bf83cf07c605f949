package model

import "time"

// CaseStatus represents the lifecycle state of a contract case.
type CaseStatus string

const (
	CaseStatusOpen   CaseStatus = "open"
	CaseStatusClosed CaseStatus = "closed"
)

// ContractCase groups the obligations extracted for one partner/contract.
// CaseKey is the caller-supplied idempotency anchor: the first run for a key
// creates the case, later runs update it, and cases are never deleted.
type ContractCase struct {
	CaseID       string     `json:"case_id"`
	CaseKey      string     `json:"case_key"`
	PartnerName  string     `json:"partner_name"`
	PartnerTaxID string     `json:"partner_tax_id,omitempty"`
	ContractCode string     `json:"contract_code,omitempty"`
	Status       CaseStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SourceType describes the kind of ingested artifact.
type SourceType string

const (
	SourceTypeContract SourceType = "contract"
	SourceTypeEmail    SourceType = "email"
	SourceTypeAudio    SourceType = "audio"
)

// SourceFile is one ingested artifact (contract PDF, email thread, call
// recording transcript). Immutable once created; deduplicated on
// (FileHash, SourceType).
type SourceFile struct {
	SourceID    string     `json:"source_id"`
	CaseID      string     `json:"case_id,omitempty"`
	SourceType  SourceType `json:"source_type"`
	FileName    string     `json:"file_name,omitempty"`
	FileHash    string     `json:"file_hash"`
	SizeBytes   int64      `json:"size_bytes"`
	ContentType string     `json:"content_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
