package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/obligations-cli/internal/model"
)

// Sentinel errors reported by store implementations. The approval service
// maps these onto API status codes.
var (
	// ErrNotFound is returned when a case, proposal, or source does not exist.
	ErrNotFound = eris.New("not found")

	// ErrProposalFinalized is returned when a decision is recorded against a
	// proposal whose status is already terminal.
	ErrProposalFinalized = eris.New("proposal already finalized")

	// ErrDuplicateDecision is returned when an approver who already decided
	// on a proposal submits again under a different idempotency key.
	ErrDuplicateDecision = eris.New("approver has already decided on this proposal")
)

// CaseFilter specifies criteria for listing cases.
type CaseFilter struct {
	Status model.CaseStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// ApprovalOutcome is the result of recording (or replaying) a decision.
type ApprovalOutcome struct {
	Approval          model.Approval       `json:"approval"`
	ProposalStatus    model.ProposalStatus `json:"proposal_status"`
	ApprovalsRequired int                  `json:"approvals_required"`
	ApprovalsApproved int                  `json:"approvals_approved"`
	Replayed          bool                 `json:"replayed"`
}

// Store defines the persistence interface for the obligation review core.
//
// Uniqueness constraints on Obligation.Signature, Proposal.ProposalKey,
// Approval.IdempotencyKey, and (proposal_id, approver_id) are the sole
// coordination mechanism: concurrent identical requests race to a single
// winner and everyone else observes the committed row.
type Store interface {
	// Cases
	UpsertCase(ctx context.Context, c model.ContractCase) (*model.ContractCase, error)
	GetCase(ctx context.Context, caseID string) (*model.ContractCase, error)
	GetCaseByKey(ctx context.Context, caseKey string) (*model.ContractCase, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]model.ContractCase, error)

	// Source files
	CreateSource(ctx context.Context, src model.SourceFile) (*model.SourceFile, bool, error)
	ListSources(ctx context.Context, caseID string) ([]model.SourceFile, error)

	// Obligations
	CreateObligation(ctx context.Context, o model.Obligation) (*model.Obligation, bool, error)
	AddEvidence(ctx context.Context, ev model.ObligationEvidence) error
	ListObligations(ctx context.Context, caseID string) ([]model.Obligation, error)
	ListEvidence(ctx context.Context, obligationID string) ([]model.ObligationEvidence, error)

	// Proposals
	CreateProposal(ctx context.Context, p model.Proposal) (*model.Proposal, bool, error)
	GetProposal(ctx context.Context, proposalID string) (*model.Proposal, error)
	ListProposals(ctx context.Context, caseID string) ([]model.Proposal, error)

	// Approvals. RecordApproval re-checks proposal status, detects
	// idempotency-key replays and duplicate approvers, recomputes the
	// qualifying approval count, and updates proposal status — all inside
	// one transaction, with the audit row for the transition.
	RecordApproval(ctx context.Context, a model.Approval) (*ApprovalOutcome, error)
	ListApprovals(ctx context.Context, proposalID string) ([]model.Approval, error)

	// Audit
	AppendAudit(ctx context.Context, entry model.AuditEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// nextStatus computes the proposal status after an approval, given the
// count of distinct qualifying approvers. A rejection is terminal at any
// tier; pending_l2 is only reachable when two approvals are required and
// exactly one has been recorded.
func nextStatus(decision model.Decision, approved, required int) model.ProposalStatus {
	if decision == model.DecisionReject {
		return model.ProposalStatusRejected
	}
	if approved >= required {
		return model.ProposalStatusApproved
	}
	if required == 2 && approved == 1 {
		return model.ProposalStatusPendingL2
	}
	return model.ProposalStatusDraft
}
