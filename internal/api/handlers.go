package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/approval"
	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

type handler struct {
	st        store.Store
	approvals *approval.Service
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.st.GetCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case_not_found", "unknown case")
			return
		}
		h.internal(w, "load case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) listSources(w http.ResponseWriter, r *http.Request) {
	h.listForCase(w, r, func(caseID string) (any, error) {
		return h.st.ListSources(r.Context(), caseID)
	})
}

func (h *handler) listObligations(w http.ResponseWriter, r *http.Request) {
	h.listForCase(w, r, func(caseID string) (any, error) {
		return h.st.ListObligations(r.Context(), caseID)
	})
}

func (h *handler) listProposals(w http.ResponseWriter, r *http.Request) {
	h.listForCase(w, r, func(caseID string) (any, error) {
		return h.st.ListProposals(r.Context(), caseID)
	})
}

// listForCase 404s on an unknown case before running the list query, so an
// empty list means "case exists, nothing recorded yet".
func (h *handler) listForCase(w http.ResponseWriter, r *http.Request, list func(caseID string) (any, error)) {
	caseID := chi.URLParam(r, "caseID")
	if _, err := h.st.GetCase(r.Context(), caseID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case_not_found", "unknown case")
			return
		}
		h.internal(w, "load case", err)
		return
	}
	items, err := list(caseID)
	if err != nil {
		h.internal(w, "list for case", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type createProposalRequest struct {
	CaseID       string         `json:"case_id"`
	ObligationID string         `json:"obligation_id,omitempty"`
	ProposalType string         `json:"proposal_type"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	RiskLevel    string         `json:"risk_level"`
	Confidence   float64        `json:"confidence,omitempty"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Tier         int            `json:"tier,omitempty"`
	ProposalKey  string         `json:"proposal_key,omitempty"`
}

var proposalTypes = map[model.ProposalType]bool{
	model.ProposalAccrualTemplate: true,
	model.ProposalReviewConfirm:   true,
	model.ProposalMissingData:     true,
	model.ProposalReminder:        true,
}

var riskLevels = map[model.RiskLevel]bool{
	model.RiskLow:    true,
	model.RiskMedium: true,
	model.RiskHigh:   true,
}

func (h *handler) createProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed_body", "request body is not valid JSON")
		return
	}
	typ := model.ProposalType(req.ProposalType)
	if !proposalTypes[typ] {
		writeError(w, http.StatusUnprocessableEntity, "invalid_proposal_type", "unknown proposal_type")
		return
	}
	risk := model.RiskLevel(req.RiskLevel)
	if !riskLevels[risk] {
		writeError(w, http.StatusUnprocessableEntity, "invalid_risk_level", "risk_level must be low, medium, or high")
		return
	}
	if req.CaseID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_case_id", "case_id is required")
		return
	}

	key := req.ProposalKey
	if key == "" {
		if idem := r.Header.Get("Idempotency-Key"); idem != "" {
			key = model.DeriveProposalKey(req.CaseID, typ, idem)
		}
	}
	if key == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_proposal_key",
			"supply proposal_key in the body or an Idempotency-Key header")
		return
	}

	if _, err := h.st.GetCase(r.Context(), req.CaseID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case_not_found", "unknown case")
			return
		}
		h.internal(w, "load case", err)
		return
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = model.SystemActor
	}
	tier := req.Tier
	if tier == 0 {
		tier = model.TierAuto
	}

	// A key collision returns the existing row with the same 200 as a fresh
	// create, so callers can retry blindly.
	p, _, err := h.st.CreateProposal(r.Context(), model.Proposal{
		CaseID:       req.CaseID,
		ObligationID: req.ObligationID,
		ProposalType: typ,
		Title:        req.Title,
		Summary:      req.Summary,
		Details:      req.Details,
		RiskLevel:    risk,
		Confidence:   req.Confidence,
		Status:       model.ProposalStatusDraft,
		CreatedBy:    createdBy,
		Tier:         tier,
		ProposalKey:  key,
	})
	if err != nil {
		h.internal(w, "create proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.st.GetProposal(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "proposal_not_found", "unknown proposal")
			return
		}
		h.internal(w, "load proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.approvals.List(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		if eris.Is(err, approval.ErrNotFound) {
			writeError(w, http.StatusNotFound, "proposal_not_found", "unknown proposal")
			return
		}
		h.internal(w, "list approvals", err)
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

type decisionResponse struct {
	ApprovalID        string               `json:"approval_id"`
	Decision          model.Decision       `json:"decision"`
	ProposalStatus    model.ProposalStatus `json:"proposal_status"`
	ApprovalsRequired int                  `json:"approvals_required"`
	ApprovalsApproved int                  `json:"approvals_approved"`
	Replayed          bool                 `json:"replayed"`
}

func (h *handler) recordApproval(w http.ResponseWriter, r *http.Request) {
	var req approval.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed_body", "request body is not valid JSON")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	out, err := h.approvals.Decide(r.Context(), chi.URLParam(r, "proposalID"), req)
	if err != nil {
		switch {
		case eris.Is(err, approval.ErrInvalidDecision):
			writeError(w, http.StatusUnprocessableEntity, "invalid_decision", eris.Cause(err).Error())
		case eris.Is(err, approval.ErrEvidenceAck):
			writeError(w, http.StatusBadRequest, "evidence_ack_required", "evidence_ack must be true")
		case eris.Is(err, approval.ErrNotFound):
			writeError(w, http.StatusNotFound, "proposal_not_found", "unknown proposal")
		case eris.Is(err, approval.ErrSelfApproval):
			writeError(w, http.StatusConflict, "maker_checker_violation", "approver may not approve their own proposal")
		case eris.Is(err, approval.ErrDuplicateApprover):
			writeError(w, http.StatusConflict, "duplicate_approver", "approver has already decided on this proposal")
		case eris.Is(err, approval.ErrAlreadyFinalized):
			writeError(w, http.StatusConflict, "already_finalized", "proposal is already approved or rejected")
		default:
			h.internal(w, "record approval", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		ApprovalID:        out.Approval.ApprovalID,
		Decision:          out.Approval.Decision,
		ProposalStatus:    out.ProposalStatus,
		ApprovalsRequired: out.ApprovalsRequired,
		ApprovalsApproved: out.ApprovalsApproved,
		Replayed:          out.Replayed,
	})
}

func (h *handler) internal(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
