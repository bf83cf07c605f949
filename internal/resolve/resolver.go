package resolve

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/model"
)

// Resolved is one reconciled obligation with the evidence spans that
// supported it, one per contributing candidate.
type Resolved struct {
	Obligation model.Obligation
	Evidence   []model.Evidence
}

// Resolver reconciles raw candidates from multiple sources into obligations,
// detecting field-level conflicts against its tolerance policy.
type Resolver struct {
	policy Policy
}

func New(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Resolve groups candidates that describe the same underlying obligation and
// merges each group into one Obligation. The result is deterministic for any
// input permutation: candidates are canonically ordered before grouping and
// groups are emitted sorted by signature.
func (r *Resolver) Resolve(caseID string, candidates []model.ObligationCandidate) []Resolved {
	if len(candidates) == 0 {
		return nil
	}

	ordered := make([]model.ObligationCandidate, len(candidates))
	copy(ordered, candidates)
	sortCandidates(ordered)

	var groups [][]model.ObligationCandidate
	for _, c := range ordered {
		idx := -1
		for i, g := range groups {
			if r.sameObligation(g[0], c) {
				idx = i
				break
			}
		}
		if idx < 0 {
			groups = append(groups, []model.ObligationCandidate{c})
		} else {
			groups[idx] = append(groups[idx], c)
		}
	}

	out := make([]Resolved, 0, len(groups))
	for _, g := range groups {
		out = append(out, r.merge(caseID, g))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Obligation.Signature < out[j].Obligation.Signature
	})

	zap.L().Debug("resolve: reconciled candidates",
		zap.String("case_id", caseID),
		zap.Int("candidates", len(candidates)),
		zap.Int("obligations", len(out)),
	)
	return out
}

// sortCandidates orders by confidence descending, then source and offset, so
// grouping and merge leaders do not depend on extraction order.
func sortCandidates(cs []model.ObligationCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		if cs[i].Evidence.SourceID != cs[j].Evidence.SourceID {
			return cs[i].Evidence.SourceID < cs[j].Evidence.SourceID
		}
		return cs[i].Evidence.Offset < cs[j].Evidence.Offset
	})
}

// sameObligation reports whether two candidates describe the same underlying
// term: same type, due dates inside the tolerance window (when both are
// present), and enough condition-text overlap.
func (r *Resolver) sameObligation(a, b model.ObligationCandidate) bool {
	if a.Type != b.Type {
		return false
	}
	if a.DueDate != nil && b.DueDate != nil {
		if dayDiff(*a.DueDate, *b.DueDate) > r.policy.DueDateToleranceDays+extendedDateWindow {
			return false
		}
	}
	return tokenOverlap(a.ConditionText, b.ConditionText) >= r.policy.MinTokenOverlap
}

// extendedDateWindow widens the grouping window beyond the conflict
// tolerance: dates that differ by more than the tolerance but less than this
// extra margin still belong to the same obligation, they just conflict.
const extendedDateWindow = 30

func tokenOverlap(a, b string) float64 {
	ta := model.NormalizeTokens(a)
	tb := model.NormalizeTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// merge collapses one group into an Obligation. The group leader (highest
// confidence) supplies the merged values; disagreeing fields from other
// members are recorded in the conflict map instead of being overwritten.
func (r *Resolver) merge(caseID string, group []model.ObligationCandidate) Resolved {
	lead := group[0]

	o := model.Obligation{
		CaseID:        caseID,
		Type:          lead.Type,
		Currency:      strings.ToUpper(lead.Currency),
		AmountValue:   lead.AmountValue,
		AmountPercent: lead.AmountPercent,
		DueDate:       lead.DueDate,
		WithinDays:    lead.WithinDays,
		ConditionText: lead.ConditionText,
		Confidence:    lead.Confidence,
		RiskLevel:     model.RiskLow,
	}

	conflicts := model.ConflictMap{}
	evidence := make([]model.Evidence, 0, len(group))

	for _, c := range group {
		evidence = append(evidence, c.Evidence)

		// Fill fields the leader lacks; flag the ones that disagree.
		r.mergeAmount(&o, c, conflicts)
		r.mergePercent(&o, c, conflicts)
		r.mergeDueDate(&o, c, conflicts)
		r.mergeWithinDays(&o, c, conflicts)
		r.mergeCurrency(&o, c, conflicts)
	}

	if len(conflicts) > 0 {
		o.Conflicts = conflicts
		recordLeaderValues(o, conflicts, lead.Evidence.SourceID)
	}
	o.Signature = model.ObligationSignature(o)

	return Resolved{Obligation: o, Evidence: evidence}
}

// recordLeaderValues adds the merged (leader) value to each conflicting
// field so the review surface shows every disagreeing source side by side.
func recordLeaderValues(o model.Obligation, conflicts model.ConflictMap, leadSource string) {
	for field, bySource := range conflicts {
		if _, ok := bySource[leadSource]; ok {
			continue
		}
		switch field {
		case "amount_value":
			if o.AmountValue != nil {
				bySource[leadSource] = fmtAmount(*o.AmountValue)
			}
		case "amount_percent":
			if o.AmountPercent != nil {
				bySource[leadSource] = fmtAmount(*o.AmountPercent)
			}
		case "due_date":
			if o.DueDate != nil {
				bySource[leadSource] = o.DueDate.UTC().Format("2006-01-02")
			}
		case "within_days":
			if o.WithinDays != nil {
				bySource[leadSource] = fmt.Sprintf("%d", *o.WithinDays)
			}
		case "currency":
			if o.Currency != "" {
				bySource[leadSource] = o.Currency
			}
		}
	}
}

func (r *Resolver) mergeAmount(o *model.Obligation, c model.ObligationCandidate, conflicts model.ConflictMap) {
	if c.AmountValue == nil {
		return
	}
	if o.AmountValue == nil {
		o.AmountValue = c.AmountValue
		return
	}
	if relDiff(*o.AmountValue, *c.AmountValue) > r.policy.AmountRelTolerance {
		addConflict(conflicts, "amount_value", c.Evidence.SourceID, fmtAmount(*c.AmountValue))
	}
}

func (r *Resolver) mergePercent(o *model.Obligation, c model.ObligationCandidate, conflicts model.ConflictMap) {
	if c.AmountPercent == nil {
		return
	}
	if o.AmountPercent == nil {
		o.AmountPercent = c.AmountPercent
		return
	}
	if relDiff(*o.AmountPercent, *c.AmountPercent) > r.policy.AmountRelTolerance {
		addConflict(conflicts, "amount_percent", c.Evidence.SourceID, fmtAmount(*c.AmountPercent))
	}
}

func (r *Resolver) mergeDueDate(o *model.Obligation, c model.ObligationCandidate, conflicts model.ConflictMap) {
	if c.DueDate == nil {
		return
	}
	if o.DueDate == nil {
		o.DueDate = c.DueDate
		return
	}
	if dayDiff(*o.DueDate, *c.DueDate) > r.policy.DueDateToleranceDays {
		addConflict(conflicts, "due_date", c.Evidence.SourceID, c.DueDate.UTC().Format("2006-01-02"))
	}
}

func (r *Resolver) mergeWithinDays(o *model.Obligation, c model.ObligationCandidate, conflicts model.ConflictMap) {
	if c.WithinDays == nil {
		return
	}
	if o.WithinDays == nil {
		o.WithinDays = c.WithinDays
		return
	}
	if abs(*o.WithinDays-*c.WithinDays) > r.policy.DayCountTolerance {
		addConflict(conflicts, "within_days", c.Evidence.SourceID, fmt.Sprintf("%d", *c.WithinDays))
	}
}

func (r *Resolver) mergeCurrency(o *model.Obligation, c model.ObligationCandidate, conflicts model.ConflictMap) {
	cur := strings.ToUpper(c.Currency)
	if cur == "" {
		return
	}
	if o.Currency == "" {
		o.Currency = cur
		return
	}
	if o.Currency != cur {
		addConflict(conflicts, "currency", c.Evidence.SourceID, cur)
	}
}

func addConflict(conflicts model.ConflictMap, field, sourceID, value string) {
	if conflicts[field] == nil {
		conflicts[field] = make(map[string]string)
	}
	conflicts[field][sourceID] = value
}

func relDiff(a, b float64) float64 {
	base := math.Max(math.Abs(a), math.Abs(b))
	if base == 0 {
		return 0
	}
	return math.Abs(a-b) / base
}

func dayDiff(a, b time.Time) int {
	d := a.UTC().Truncate(24 * time.Hour).Sub(b.UTC().Truncate(24 * time.Hour))
	days := int(d.Hours() / 24)
	return abs(days)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func fmtAmount(v float64) string {
	return fmt.Sprintf("%g", v)
}
