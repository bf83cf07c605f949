package model

import "time"

// ProposalType classifies an actionable recommendation.
type ProposalType string

const (
	ProposalAccrualTemplate ProposalType = "accrual_template"
	ProposalReviewConfirm   ProposalType = "review_confirm"
	ProposalMissingData     ProposalType = "missing_data"
	ProposalReminder        ProposalType = "reminder"
)

// ProposalStatus is the approval workflow state of a proposal.
// Approved and rejected are terminal.
type ProposalStatus string

const (
	ProposalStatusDraft     ProposalStatus = "draft"
	ProposalStatusPendingL2 ProposalStatus = "pending_l2"
	ProposalStatusApproved  ProposalStatus = "approved"
	ProposalStatusRejected  ProposalStatus = "rejected"
)

// Terminal reports whether no further approval decisions may be recorded.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalStatusApproved || s == ProposalStatusRejected
}

// Proposal tiers: 1 = auto-eligible, 2 = needs human confirmation due to
// conflicting evidence, 3 = blocked on missing data.
const (
	TierAuto    = 1
	TierConfirm = 2
	TierBlocked = 3
)

// SystemActor is the creator identity for tierer-generated proposals.
// It can never act as an approver.
const SystemActor = "system"

// Proposal is an actionable, approvable recommendation derived from one or
// more obligations. ProposalKey is deterministic and unique, so re-running
// the same case with the same inputs never creates a duplicate. Status is
// mutated only by the approval state machine.
type Proposal struct {
	ProposalID   string         `json:"proposal_id"`
	CaseID       string         `json:"case_id"`
	ObligationID string         `json:"obligation_id,omitempty"`
	ProposalType ProposalType   `json:"proposal_type"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	Confidence   float64        `json:"confidence"`
	Status       ProposalStatus `json:"status"`
	CreatedBy    string         `json:"created_by"`
	Tier         int            `json:"tier"`
	ProposalKey  string         `json:"proposal_key"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ApprovalsRequired returns the number of distinct qualifying approvals a
// proposal needs before it is approved: two for high risk, one otherwise.
func ApprovalsRequired(risk RiskLevel) int {
	if risk == RiskHigh {
		return 2
	}
	return 1
}
