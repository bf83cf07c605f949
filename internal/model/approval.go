package model

import "time"

// Decision is one approve/reject verdict on a proposal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision value.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Approval is one recorded decision on a proposal. Rows are append-only and
// replay-safe: IdempotencyKey is unique, and each approver may record at most
// one decision per proposal. Only decisions with EvidenceAck=true count
// toward the approval quorum.
type Approval struct {
	ApprovalID     string    `json:"approval_id"`
	ProposalID     string    `json:"proposal_id"`
	Decision       Decision  `json:"decision"`
	ApproverID     string    `json:"approver_id"`
	EvidenceAck    bool      `json:"evidence_ack"`
	IdempotencyKey string    `json:"idempotency_key"`
	Note           string    `json:"note,omitempty"`
	DecidedAt      time.Time `json:"decided_at"`
}

// AuditEntry is the payload of one state-transition record. The core only
// produces entries; persistence format is the sink's concern.
type AuditEntry struct {
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	At         time.Time      `json:"at"`
}
