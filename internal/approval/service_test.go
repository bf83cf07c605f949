package approval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func seedProposal(t *testing.T, st store.Store, risk model.RiskLevel) *model.Proposal {
	t.Helper()
	ctx := context.Background()

	c, err := st.UpsertCase(ctx, model.ContractCase{
		CaseKey:     "ACME-2026-001",
		PartnerName: "Acme Kft",
		Status:      model.CaseStatusOpen,
	})
	require.NoError(t, err)

	p, _, err := st.CreateProposal(ctx, model.Proposal{
		CaseID:       c.CaseID,
		ProposalType: model.ProposalAccrualTemplate,
		Title:        "Draft accrual for payment obligation",
		RiskLevel:    risk,
		Confidence:   0.9,
		Status:       model.ProposalStatusDraft,
		CreatedBy:    model.SystemActor,
		Tier:         model.TierAuto,
		ProposalKey:  uuid.NewString(),
	})
	require.NoError(t, err)
	return p
}

func approveReq(approver string) DecisionRequest {
	return DecisionRequest{
		Decision:    model.DecisionApprove,
		ApproverID:  approver,
		EvidenceAck: true,
	}
}

func TestDecideApprovesLowRisk(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskLow)

	out, err := svc.Decide(context.Background(), p.ProposalID, approveReq("alice"))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusApproved, out.ProposalStatus)
	assert.Equal(t, 1, out.ApprovalsRequired)
	assert.Equal(t, 1, out.ApprovalsApproved)
	assert.False(t, out.Replayed)
}

func TestDecideHighRiskQuorum(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskHigh)
	ctx := context.Background()

	out, err := svc.Decide(ctx, p.ProposalID, approveReq("alice"))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusPendingL2, out.ProposalStatus)
	assert.Equal(t, 2, out.ApprovalsRequired)
	assert.Equal(t, 1, out.ApprovalsApproved)

	out, err = svc.Decide(ctx, p.ProposalID, approveReq("bob"))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusApproved, out.ProposalStatus)
	assert.Equal(t, 2, out.ApprovalsApproved)

	_, err = svc.Decide(ctx, p.ProposalID, approveReq("carol"))
	assert.True(t, eris.Is(err, ErrAlreadyFinalized))
}

func TestDecideInvalidDecision(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskLow)

	_, err := svc.Decide(context.Background(), p.ProposalID, DecisionRequest{
		Decision:    "maybe",
		ApproverID:  "alice",
		EvidenceAck: true,
	})
	assert.True(t, eris.Is(err, ErrInvalidDecision))

	_, err = svc.Decide(context.Background(), p.ProposalID, DecisionRequest{
		Decision:    model.DecisionApprove,
		EvidenceAck: true,
	})
	assert.True(t, eris.Is(err, ErrInvalidDecision))
}

func TestDecideConcurrentApprovers(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskHigh)
	ctx := context.Background()

	// Two distinct approvers race on the same high-risk proposal. Both
	// decisions must land and together they satisfy the quorum.
	g := new(errgroup.Group)
	for _, approver := range []string{"alice", "bob"} {
		g.Go(func() error {
			_, err := svc.Decide(ctx, p.ProposalID, approveReq(approver))
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := st.GetProposal(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusApproved, got.Status)

	approvals, err := svc.List(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Len(t, approvals, 2)
}

func TestDecideFinalizedWinsOverValidation(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskLow)
	ctx := context.Background()

	req := approveReq("alice")
	req.IdempotencyKey = "key-1"
	_, err := svc.Decide(ctx, p.ProposalID, req)
	require.NoError(t, err)

	// Once the proposal is terminal, a missing evidence_ack reports the
	// finalized state, not a validation failure.
	_, err = svc.Decide(ctx, p.ProposalID, DecisionRequest{
		Decision:   model.DecisionApprove,
		ApproverID: "bob",
	})
	assert.True(t, eris.Is(err, ErrAlreadyFinalized))

	// And a replay of the original key still returns the original outcome.
	replay, err := svc.Decide(ctx, p.ProposalID, req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	// An unknown proposal is a 404 even without evidence_ack.
	_, err = svc.Decide(ctx, uuid.NewString(), DecisionRequest{
		Decision:   model.DecisionApprove,
		ApproverID: "bob",
	})
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestDecideRequiresEvidenceAck(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskLow)

	_, err := svc.Decide(context.Background(), p.ProposalID, DecisionRequest{
		Decision:   model.DecisionApprove,
		ApproverID: "alice",
	})
	assert.True(t, eris.Is(err, ErrEvidenceAck))

	// Nothing was recorded, so a proper decision still succeeds.
	out, err := svc.Decide(context.Background(), p.ProposalID, approveReq("alice"))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusApproved, out.ProposalStatus)
}

func TestDecideMakerChecker(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskLow)
	ctx := context.Background()

	_, err := svc.Decide(ctx, p.ProposalID, approveReq(model.SystemActor))
	assert.True(t, eris.Is(err, ErrSelfApproval))

	// A human-created proposal may not be approved by its maker.
	c, err := st.GetCase(ctx, p.CaseID)
	require.NoError(t, err)
	manual, _, err := st.CreateProposal(ctx, model.Proposal{
		CaseID:       c.CaseID,
		ProposalType: model.ProposalReviewConfirm,
		Title:        "Resolve conflicting payment terms",
		RiskLevel:    model.RiskMedium,
		Status:       model.ProposalStatusDraft,
		CreatedBy:    "alice",
		Tier:         model.TierConfirm,
		ProposalKey:  uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, manual.ProposalID, approveReq("alice"))
	assert.True(t, eris.Is(err, ErrSelfApproval))

	out, err := svc.Decide(ctx, manual.ProposalID, approveReq("bob"))
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusApproved, out.ProposalStatus)
}

func TestDecideUnknownProposal(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Decide(context.Background(), uuid.NewString(), approveReq("alice"))
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestDecideIdempotentReplay(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskLow)
	ctx := context.Background()

	req := approveReq("alice")
	req.IdempotencyKey = "key-1"

	first, err := svc.Decide(ctx, p.ProposalID, req)
	require.NoError(t, err)

	replay, err := svc.Decide(ctx, p.ProposalID, req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Approval.ApprovalID, replay.Approval.ApprovalID)
	assert.Equal(t, first.ProposalStatus, replay.ProposalStatus)
}

func TestDecideDuplicateApprover(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskHigh)
	ctx := context.Background()

	_, err := svc.Decide(ctx, p.ProposalID, approveReq("alice"))
	require.NoError(t, err)

	_, err = svc.Decide(ctx, p.ProposalID, approveReq("alice"))
	assert.True(t, eris.Is(err, ErrDuplicateApprover))
}

func TestDecideRejectIsTerminal(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskHigh)
	ctx := context.Background()

	out, err := svc.Decide(ctx, p.ProposalID, DecisionRequest{
		Decision:    model.DecisionReject,
		ApproverID:  "alice",
		EvidenceAck: true,
		Note:        "amounts do not match the contract",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProposalStatusRejected, out.ProposalStatus)

	_, err = svc.Decide(ctx, p.ProposalID, approveReq("bob"))
	assert.True(t, eris.Is(err, ErrAlreadyFinalized))
}

func TestListApprovals(t *testing.T) {
	svc, st := newTestService(t)
	p := seedProposal(t, st, model.RiskHigh)
	ctx := context.Background()

	_, err := svc.Decide(ctx, p.ProposalID, approveReq("alice"))
	require.NoError(t, err)
	_, err = svc.Decide(ctx, p.ProposalID, approveReq("bob"))
	require.NoError(t, err)

	approvals, err := svc.List(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Len(t, approvals, 2)

	_, err = svc.List(ctx, uuid.NewString())
	assert.True(t, eris.Is(err, ErrNotFound))
}
