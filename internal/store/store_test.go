package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/obligations-cli/internal/model"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name     string
		decision model.Decision
		approved int
		required int
		want     model.ProposalStatus
	}{
		{name: "reject is terminal", decision: model.DecisionReject, approved: 0, required: 2, want: model.ProposalStatusRejected},
		{name: "reject after one approval", decision: model.DecisionReject, approved: 1, required: 2, want: model.ProposalStatusRejected},
		{name: "single approval meets required one", decision: model.DecisionApprove, approved: 1, required: 1, want: model.ProposalStatusApproved},
		{name: "first of two goes pending", decision: model.DecisionApprove, approved: 1, required: 2, want: model.ProposalStatusPendingL2},
		{name: "second of two approves", decision: model.DecisionApprove, approved: 2, required: 2, want: model.ProposalStatusApproved},
		{name: "no qualifying approvals stays draft", decision: model.DecisionApprove, approved: 0, required: 1, want: model.ProposalStatusDraft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextStatus(tt.decision, tt.approved, tt.required))
		})
	}
}

func TestApprovalsRequired(t *testing.T) {
	assert.Equal(t, 2, model.ApprovalsRequired(model.RiskHigh))
	assert.Equal(t, 1, model.ApprovalsRequired(model.RiskMedium))
	assert.Equal(t, 1, model.ApprovalsRequired(model.RiskLow))
}
