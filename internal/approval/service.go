// Package approval implements the maker-checker decision flow on proposals.
// The service validates the request shape and the non-racy business rules,
// then delegates to the store, which enforces everything that can race
// (replay, duplicate approver, terminal status, quorum) inside one
// transaction.
package approval

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

// Sentinel errors the API layer maps onto status codes.
var (
	// ErrNotFound: the proposal does not exist (404).
	ErrNotFound = eris.New("proposal not found")

	// ErrAlreadyFinalized: the proposal is approved or rejected (409).
	ErrAlreadyFinalized = eris.New("proposal already finalized")

	// ErrEvidenceAck: the approver did not acknowledge the evidence (400).
	ErrEvidenceAck = eris.New("evidence_ack must be true")

	// ErrSelfApproval: maker-checker violation, or the system identity
	// attempting to approve (409).
	ErrSelfApproval = eris.New("approver may not approve their own proposal")

	// ErrDuplicateApprover: the approver already decided on this proposal
	// under a different idempotency key (409).
	ErrDuplicateApprover = eris.New("approver has already decided on this proposal")

	// ErrInvalidDecision: decision is not approve or reject (422).
	ErrInvalidDecision = eris.New("decision must be approve or reject")
)

// DecisionRequest is one approve/reject submission.
type DecisionRequest struct {
	Decision       model.Decision `json:"decision"`
	ApproverID     string         `json:"approver_id"`
	EvidenceAck    bool           `json:"evidence_ack"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Note           string         `json:"note,omitempty"`
}

// Service drives proposal decisions against the store.
type Service struct {
	st store.Store
}

func New(st store.Store) *Service {
	return &Service{st: st}
}

// Decide records one decision on a proposal and returns the resulting
// approval state. Replays of a prior idempotency key return the original
// outcome unchanged.
func (s *Service) Decide(ctx context.Context, proposalID string, req DecisionRequest) (*store.ApprovalOutcome, error) {
	if !req.Decision.Valid() {
		return nil, eris.Wrapf(ErrInvalidDecision, "approval: got %q", req.Decision)
	}
	if req.ApproverID == "" {
		return nil, eris.Wrap(ErrInvalidDecision, "approval: approver_id is required")
	}

	p, err := s.st.GetProposal(ctx, proposalID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrNotFound, "approval: proposal %s", proposalID)
		}
		return nil, eris.Wrap(err, "approval: load proposal")
	}

	// A finalized proposal skips the remaining validation and goes straight
	// to the store: an idempotency-key replay still returns the original
	// outcome, anything else comes back as finalized.
	if !p.Status.Terminal() {
		if !req.EvidenceAck {
			return nil, eris.Wrap(ErrEvidenceAck, "approval: decision submitted without evidence acknowledgement")
		}
		if req.ApproverID == model.SystemActor {
			return nil, eris.Wrap(ErrSelfApproval, "approval: system identity may not decide")
		}
		if req.ApproverID == p.CreatedBy {
			return nil, eris.Wrapf(ErrSelfApproval, "approval: %s created proposal %s", req.ApproverID, proposalID)
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		// Without a caller key every submission is a distinct attempt.
		key = uuid.NewString()
	}

	outcome, err := s.st.RecordApproval(ctx, model.Approval{
		ProposalID:     proposalID,
		Decision:       req.Decision,
		ApproverID:     req.ApproverID,
		EvidenceAck:    req.EvidenceAck,
		IdempotencyKey: key,
		Note:           req.Note,
	})
	if err != nil {
		switch {
		case eris.Is(err, store.ErrProposalFinalized):
			return nil, eris.Wrapf(ErrAlreadyFinalized, "approval: proposal %s", proposalID)
		case eris.Is(err, store.ErrDuplicateDecision):
			return nil, eris.Wrapf(ErrDuplicateApprover, "approval: %s on proposal %s", req.ApproverID, proposalID)
		default:
			return nil, eris.Wrap(err, "approval: record decision")
		}
	}

	zap.L().Info("approval: decision recorded",
		zap.String("proposal_id", proposalID),
		zap.String("approver_id", req.ApproverID),
		zap.String("decision", string(req.Decision)),
		zap.String("status", string(outcome.ProposalStatus)),
		zap.Bool("replayed", outcome.Replayed),
	)
	return outcome, nil
}

// List returns every decision recorded for a proposal, oldest first.
func (s *Service) List(ctx context.Context, proposalID string) ([]model.Approval, error) {
	if _, err := s.st.GetProposal(ctx, proposalID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrNotFound, "approval: proposal %s", proposalID)
		}
		return nil, eris.Wrap(err, "approval: load proposal")
	}
	approvals, err := s.st.ListApprovals(ctx, proposalID)
	if err != nil {
		return nil, eris.Wrap(err, "approval: list decisions")
	}
	return approvals, nil
}
