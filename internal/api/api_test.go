package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/approval"
	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

type apiFixture struct {
	server *httptest.Server
	store  store.Store
	caseID string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	c, err := st.UpsertCase(context.Background(), model.ContractCase{
		CaseKey:     "ACME-2026-001",
		PartnerName: "Acme Kft",
		Status:      model.CaseStatusOpen,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(st, approval.New(st), config.ServerConfig{}))
	t.Cleanup(func() {
		srv.Close()
		_ = st.Close()
	})
	return &apiFixture{server: srv, store: st, caseID: c.CaseID}
}

func (f *apiFixture) seedProposal(t *testing.T, risk model.RiskLevel) *model.Proposal {
	t.Helper()
	p, _, err := f.store.CreateProposal(context.Background(), model.Proposal{
		CaseID:       f.caseID,
		ProposalType: model.ProposalAccrualTemplate,
		Title:        "Draft accrual for payment obligation",
		RiskLevel:    risk,
		Status:       model.ProposalStatusDraft,
		CreatedBy:    model.SystemActor,
		Tier:         model.TierAuto,
		ProposalKey:  uuid.NewString(),
	})
	require.NoError(t, err)
	return p
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decisionBody(approver string) map[string]any {
	return map[string]any{
		"decision":     "approve",
		"approver_id":  approver,
		"evidence_ack": true,
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetCase(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/cases/"+f.caseID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var c model.ContractCase
	require.NoError(t, json.Unmarshal(body, &c))
	assert.Equal(t, "ACME-2026-001", c.CaseKey)

	resp, _ = f.do(t, http.MethodGet, "/cases/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCaseSubresources(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProposal(t, model.RiskLow)

	resp, body := f.do(t, http.MethodGet, "/cases/"+f.caseID+"/proposals", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var proposals []model.Proposal
	require.NoError(t, json.Unmarshal(body, &proposals))
	assert.Len(t, proposals, 1)

	resp, _ = f.do(t, http.MethodGet, "/cases/"+f.caseID+"/sources", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/cases/"+f.caseID+"/obligations", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/cases/"+uuid.NewString()+"/proposals", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateProposalIdempotent(t *testing.T) {
	f := newAPIFixture(t)

	req := map[string]any{
		"case_id":       f.caseID,
		"proposal_type": "review_confirm",
		"title":         "Resolve conflicting payment terms",
		"risk_level":    "medium",
	}
	headers := map[string]string{"Idempotency-Key": "req-1"}

	resp, body := f.do(t, http.MethodPost, "/proposals", req, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first model.Proposal
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, model.ProposalStatusDraft, first.Status)

	resp, body = f.do(t, http.MethodPost, "/proposals", req, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second model.Proposal
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, first.ProposalID, second.ProposalID)
}

func TestCreateProposalValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "unknown proposal type",
			body: map[string]any{"case_id": f.caseID, "proposal_type": "bogus", "risk_level": "low", "proposal_key": "k1"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown risk level",
			body: map[string]any{"case_id": f.caseID, "proposal_type": "reminder", "risk_level": "extreme", "proposal_key": "k2"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "missing case id",
			body: map[string]any{"proposal_type": "reminder", "risk_level": "low", "proposal_key": "k3"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "no key at all",
			body: map[string]any{"case_id": f.caseID, "proposal_type": "reminder", "risk_level": "low"},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown case",
			body: map[string]any{"case_id": uuid.NewString(), "proposal_type": "reminder", "risk_level": "low", "proposal_key": "k4"},
			want: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/proposals", tt.body, nil)
			assert.Equal(t, tt.want, resp.StatusCode)
			var e errorBody
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error.Code)
		})
	}
}

func TestCreateProposalMalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/proposals", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetProposal(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seedProposal(t, model.RiskLow)

	resp, body := f.do(t, http.MethodGet, "/proposals/"+p.ProposalID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Proposal
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, p.ProposalKey, got.ProposalKey)

	resp, _ = f.do(t, http.MethodGet, "/proposals/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApprovalFlow(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seedProposal(t, model.RiskHigh)
	path := "/proposals/" + p.ProposalID + "/approvals"

	// First qualifying approval on a high-risk proposal.
	resp, body := f.do(t, http.MethodPost, path, decisionBody("alice"), map[string]string{"Idempotency-Key": "a-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first decisionResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, model.ProposalStatusPendingL2, first.ProposalStatus)
	assert.Equal(t, 2, first.ApprovalsRequired)
	assert.Equal(t, 1, first.ApprovalsApproved)

	// Replay returns the identical approval.
	resp, body = f.do(t, http.MethodPost, path, decisionBody("alice"), map[string]string{"Idempotency-Key": "a-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var replay decisionResponse
	require.NoError(t, json.Unmarshal(body, &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.ApprovalID, replay.ApprovalID)

	// Same approver, different key.
	resp, _ = f.do(t, http.MethodPost, path, decisionBody("alice"), map[string]string{"Idempotency-Key": "a-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Second distinct approver finalizes.
	resp, body = f.do(t, http.MethodPost, path, decisionBody("bob"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second decisionResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, model.ProposalStatusApproved, second.ProposalStatus)
	assert.Equal(t, 2, second.ApprovalsApproved)

	// Finalized proposal rejects further decisions.
	resp, _ = f.do(t, http.MethodPost, path, decisionBody("carol"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A finalized proposal wins over request validation: even without
	// evidence_ack the caller learns the proposal is done, not that the
	// request is malformed.
	resp, body = f.do(t, http.MethodPost, path, map[string]any{
		"decision":    "approve",
		"approver_id": "dave",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "already_finalized", e.Error.Code)

	// Both approvals listed.
	resp, body = f.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var approvals []model.Approval
	require.NoError(t, json.Unmarshal(body, &approvals))
	assert.Len(t, approvals, 2)
}

func TestApprovalValidation(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seedProposal(t, model.RiskLow)
	path := "/proposals/" + p.ProposalID + "/approvals"

	// evidence_ack missing.
	resp, body := f.do(t, http.MethodPost, path, map[string]any{
		"decision":    "approve",
		"approver_id": "alice",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "evidence_ack_required", e.Error.Code)

	// Unknown decision.
	resp, _ = f.do(t, http.MethodPost, path, map[string]any{
		"decision":     "maybe",
		"approver_id":  "alice",
		"evidence_ack": true,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// System identity as approver.
	resp, _ = f.do(t, http.MethodPost, path, decisionBody(model.SystemActor), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown proposal.
	resp, _ = f.do(t, http.MethodPost, "/proposals/"+uuid.NewString()+"/approvals", decisionBody("alice"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Approvals listing for an unknown proposal.
	resp, _ = f.do(t, http.MethodGet, "/proposals/"+uuid.NewString()+"/approvals", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRejectViaAPI(t *testing.T) {
	f := newAPIFixture(t)
	p := f.seedProposal(t, model.RiskHigh)
	path := "/proposals/" + p.ProposalID + "/approvals"

	resp, body := f.do(t, http.MethodPost, path, map[string]any{
		"decision":     "reject",
		"approver_id":  "alice",
		"evidence_ack": true,
		"note":         "amounts do not match the contract",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out decisionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, model.ProposalStatusRejected, out.ProposalStatus)
}
