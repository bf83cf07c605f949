// Package tier maps a case's reconciled obligations to actionable proposals.
// Policy is evaluated per obligation in strict priority order: missing data
// blocks everything else, conflicts demand human confirmation, and only
// clean high-confidence obligations produce auto-eligible drafts.
package tier

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
)

// Tierer turns obligations into proposals. Its config is loaded once at
// startup and never mutated, so identical inputs always yield identical
// proposal sets.
type Tierer struct {
	cfg config.TierConfig
}

func New(cfg config.TierConfig) *Tierer {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.55
	}
	if cfg.MaterialityThreshold <= 0 {
		cfg.MaterialityThreshold = 5_000_000
	}
	return &Tierer{cfg: cfg}
}

// Propose builds the proposal set for one case. Proposal keys are derived
// from the obligation signature, so re-running the same inputs reproduces
// the same keys and the store's uniqueness constraint collapses reruns into
// no-ops.
func (t *Tierer) Propose(caseID string, obligations []model.Obligation) []model.Proposal {
	var out []model.Proposal
	for _, o := range obligations {
		out = append(out, t.proposeFor(caseID, o)...)
	}
	zap.L().Debug("tier: generated proposals",
		zap.String("case_id", caseID),
		zap.Int("obligations", len(obligations)),
		zap.Int("proposals", len(out)),
	)
	return out
}

func (t *Tierer) proposeFor(caseID string, o model.Obligation) []model.Proposal {
	switch {
	case o.Confidence < t.cfg.MinConfidence || missingRequired(o):
		return []model.Proposal{t.missingData(caseID, o)}
	case o.HasConflicts():
		return []model.Proposal{t.reviewConfirm(caseID, o)}
	default:
		return t.autoDrafts(caseID, o)
	}
}

// missingRequired reports whether the obligation lacks the fields its type
// needs to be actionable.
func missingRequired(o model.Obligation) bool {
	hasAmount := o.AmountValue != nil || o.AmountPercent != nil
	hasDue := o.DueDate != nil || o.WithinDays != nil
	switch o.Type {
	case model.ObligationPayment, model.ObligationPenalty, model.ObligationWarrantyRetention:
		return !hasAmount
	case model.ObligationEarlyDiscount:
		return !hasAmount || !hasDue
	case model.ObligationDelivery:
		return !hasDue
	default:
		return true
	}
}

func (t *Tierer) missingData(caseID string, o model.Obligation) model.Proposal {
	p := t.base(caseID, o, model.ProposalMissingData, model.TierBlocked)
	p.Title = fmt.Sprintf("Clarify %s terms", o.Type)
	p.Summary = "Extraction is too uncertain or incomplete to act on. Request the missing details from the partner before accrual."
	p.Details = map[string]any{
		"condition_text": o.ConditionText,
		"confidence":     o.Confidence,
	}
	return p
}

func (t *Tierer) reviewConfirm(caseID string, o model.Obligation) model.Proposal {
	p := t.base(caseID, o, model.ProposalReviewConfirm, model.TierConfirm)
	p.Title = fmt.Sprintf("Resolve conflicting %s terms", o.Type)
	p.Summary = "Sources disagree on one or more fields. A reviewer must confirm the correct values before any draft is posted."
	p.Details = map[string]any{"conflicts": o.Conflicts}
	return p
}

// autoDrafts emits the tier-1 set for a clean obligation: payment terms get
// an accrual template, and every obligation gets a deadline reminder.
func (t *Tierer) autoDrafts(caseID string, o model.Obligation) []model.Proposal {
	var out []model.Proposal

	if o.Type == model.ObligationPayment {
		p := t.base(caseID, o, model.ProposalAccrualTemplate, model.TierAuto)
		p.Title = "Draft accrual for payment obligation"
		p.Summary = "All sources agree. Accrual entry pre-filled from the reconciled terms."
		p.Details = accrualDetails(o)
		out = append(out, p)
	}

	r := t.base(caseID, o, model.ProposalReminder, model.TierAuto)
	r.Title = fmt.Sprintf("Track %s deadline", o.Type)
	r.Summary = reminderSummary(o)
	r.Details = map[string]any{"condition_text": o.ConditionText}
	out = append(out, r)

	return out
}

func (t *Tierer) base(caseID string, o model.Obligation, typ model.ProposalType, tier int) model.Proposal {
	return model.Proposal{
		CaseID:       caseID,
		ObligationID: o.ObligationID,
		ProposalType: typ,
		RiskLevel:    t.risk(o, tier),
		Confidence:   o.Confidence,
		Status:       model.ProposalStatusDraft,
		CreatedBy:    model.SystemActor,
		Tier:         tier,
		ProposalKey:  model.ProposalKeyFor(caseID, typ, o.Signature),
	}
}

// risk buckets a proposal by materiality. Penalties and large amounts are
// always high; anything needing human attention is at least medium.
func (t *Tierer) risk(o model.Obligation, tier int) model.RiskLevel {
	if o.Type == model.ObligationPenalty {
		return model.RiskHigh
	}
	if o.AmountValue != nil && *o.AmountValue >= t.cfg.MaterialityThreshold {
		return model.RiskHigh
	}
	if tier >= model.TierConfirm {
		return model.RiskMedium
	}
	return model.RiskLow
}

func accrualDetails(o model.Obligation) map[string]any {
	d := map[string]any{"condition_text": o.ConditionText}
	if o.AmountValue != nil {
		d["amount_value"] = *o.AmountValue
	}
	if o.AmountPercent != nil {
		d["amount_percent"] = *o.AmountPercent
	}
	if o.Currency != "" {
		d["currency"] = o.Currency
	}
	if o.DueDate != nil {
		d["due_date"] = o.DueDate.UTC().Format("2006-01-02")
	}
	if o.WithinDays != nil {
		d["within_days"] = *o.WithinDays
	}
	return d
}

func reminderSummary(o model.Obligation) string {
	switch o.Type {
	case model.ObligationWarrantyRetention:
		return "Schedule the retention release check for the warranty period end."
	case model.ObligationEarlyDiscount:
		return "Flag the early-payment window so the discount is not forfeited."
	case model.ObligationPenalty:
		return "Watch the payment deadline; late settlement starts accruing penalties."
	default:
		return "Track the committed deadline for this obligation."
	}
}
