package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func obligation(typ model.ObligationType, conf float64, sig string) model.Obligation {
	return model.Obligation{
		ObligationID: "obl-" + sig,
		CaseID:       "case-1",
		Type:         typ,
		Confidence:   conf,
		Signature:    sig,
	}
}

func byType(ps []model.Proposal, typ model.ProposalType) []model.Proposal {
	var out []model.Proposal
	for _, p := range ps {
		if p.ProposalType == typ {
			out = append(out, p)
		}
	}
	return out
}

func TestProposeCleanCase(t *testing.T) {
	tr := New(config.TierConfig{})

	pay := obligation(model.ObligationPayment, 0.9, "sig-pay")
	pay.AmountPercent = fptr(30)
	pay.WithinDays = iptr(10)

	pen := obligation(model.ObligationPenalty, 0.85, "sig-pen")
	pen.AmountPercent = fptr(0.05)

	disc := obligation(model.ObligationEarlyDiscount, 0.8, "sig-disc")
	disc.AmountPercent = fptr(2)
	disc.WithinDays = iptr(5)

	got := tr.Propose("case-1", []model.Obligation{pay, pen, disc})
	require.Len(t, got, 4)

	accruals := byType(got, model.ProposalAccrualTemplate)
	require.Len(t, accruals, 1)
	assert.Equal(t, model.TierAuto, accruals[0].Tier)
	assert.Equal(t, "obl-sig-pay", accruals[0].ObligationID)
	assert.Equal(t, model.RiskLow, accruals[0].RiskLevel)
	assert.Equal(t, 30.0, accruals[0].Details["amount_percent"])
	assert.Equal(t, 10, accruals[0].Details["within_days"])

	assert.Len(t, byType(got, model.ProposalReminder), 3)
	assert.Empty(t, byType(got, model.ProposalReviewConfirm))
	assert.Empty(t, byType(got, model.ProposalMissingData))

	for _, p := range got {
		assert.Equal(t, model.ProposalStatusDraft, p.Status)
		assert.Equal(t, model.SystemActor, p.CreatedBy)
		assert.NotEmpty(t, p.ProposalKey)
	}
}

func TestProposeLowConfidence(t *testing.T) {
	tr := New(config.TierConfig{})

	vague := obligation(model.ObligationPayment, 0.3, "sig-vague")
	vague.ConditionText = "payment terms to be discussed"

	got := tr.Propose("case-1", []model.Obligation{vague})
	require.Len(t, got, 1)
	assert.Equal(t, model.ProposalMissingData, got[0].ProposalType)
	assert.Equal(t, model.TierBlocked, got[0].Tier)
	assert.Equal(t, model.RiskMedium, got[0].RiskLevel)
	assert.Equal(t, "payment terms to be discussed", got[0].Details["condition_text"])
}

func TestProposeMissingRequiredFields(t *testing.T) {
	tr := New(config.TierConfig{})

	// Confident but no amount at all.
	pay := obligation(model.ObligationPayment, 0.9, "sig-noamount")

	got := tr.Propose("case-1", []model.Obligation{pay})
	require.Len(t, got, 1)
	assert.Equal(t, model.ProposalMissingData, got[0].ProposalType)
	assert.Equal(t, model.TierBlocked, got[0].Tier)
}

func TestProposeConflicted(t *testing.T) {
	tr := New(config.TierConfig{})

	pay := obligation(model.ObligationPayment, 0.9, "sig-conflict")
	pay.AmountPercent = fptr(30)
	pay.Conflicts = model.ConflictMap{
		"within_days": {"src-contract": "10", "src-email": "12"},
	}

	got := tr.Propose("case-1", []model.Obligation{pay})
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, model.ProposalReviewConfirm, p.ProposalType)
	assert.Equal(t, model.TierConfirm, p.Tier)
	assert.Equal(t, model.RiskMedium, p.RiskLevel)
	assert.Equal(t, pay.Conflicts, p.Details["conflicts"])
	assert.Empty(t, byType(got, model.ProposalAccrualTemplate))
}

func TestProposeRiskDerivation(t *testing.T) {
	tr := New(config.TierConfig{})

	pen := obligation(model.ObligationPenalty, 0.9, "sig-pen")
	pen.AmountPercent = fptr(0.5)

	big := obligation(model.ObligationPayment, 0.9, "sig-big")
	big.AmountValue = fptr(12_500_000)
	big.Currency = "HUF"

	small := obligation(model.ObligationPayment, 0.9, "sig-small")
	small.AmountValue = fptr(100_000)
	small.Currency = "HUF"

	got := tr.Propose("case-1", []model.Obligation{pen, big, small})
	for _, p := range got {
		switch p.ObligationID {
		case "obl-sig-pen":
			assert.Equal(t, model.RiskHigh, p.RiskLevel)
		case "obl-sig-big":
			assert.Equal(t, model.RiskHigh, p.RiskLevel)
		case "obl-sig-small":
			assert.Equal(t, model.RiskLow, p.RiskLevel)
		}
	}
}

func TestProposeDeterministicKeys(t *testing.T) {
	tr := New(config.TierConfig{})

	pay := obligation(model.ObligationPayment, 0.9, "sig-pay")
	pay.AmountPercent = fptr(30)

	first := tr.Propose("case-1", []model.Obligation{pay})
	second := tr.Propose("case-1", []model.Obligation{pay})
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ProposalKey, second[i].ProposalKey)
	}

	// Keys for the same obligation differ across proposal types.
	keys := map[string]bool{}
	for _, p := range first {
		assert.False(t, keys[p.ProposalKey])
		keys[p.ProposalKey] = true
	}
}

func TestProposeConfigThresholds(t *testing.T) {
	tr := New(config.TierConfig{MinConfidence: 0.95, MaterialityThreshold: 50_000})

	pay := obligation(model.ObligationPayment, 0.9, "sig-pay")
	pay.AmountValue = fptr(60_000)

	got := tr.Propose("case-1", []model.Obligation{pay})
	require.Len(t, got, 1)
	assert.Equal(t, model.ProposalMissingData, got[0].ProposalType)
	assert.Equal(t, model.RiskHigh, got[0].RiskLevel)
}

func TestProposeEmpty(t *testing.T) {
	tr := New(config.TierConfig{})
	assert.Empty(t, tr.Propose("case-1", nil))
}
