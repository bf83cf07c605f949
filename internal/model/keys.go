package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// keyDelim separates fields in canonical serializations. ASCII unit
// separator: cannot appear in normalized text.
const keyDelim = "\x1f"

var keyFolder = cases.Fold()

// NormalizeText lowercases, NFKC-normalizes, and strips punctuation from s,
// collapsing runs of whitespace. Used for grouping keys and signatures so
// that cosmetic phrasing differences do not change identity.
func NormalizeText(s string) string {
	s = keyFolder.String(norm.NFKC.String(s))
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeTokens returns the sorted, deduplicated words of NormalizeText(s),
// excluding bare numbers. Order-independent by construction.
func NormalizeTokens(s string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range strings.Fields(NormalizeText(s)) {
		if isNumeric(w) || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	sort.Strings(tokens)
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

// ObligationSignature computes the stable dedup hash for an obligation from
// its normalized, order-independent content. Identical terms re-extracted
// from identical sources always hash to the same value regardless of
// processing order.
func ObligationSignature(o Obligation) string {
	parts := []string{
		o.CaseID,
		string(o.Type),
		strings.ToUpper(o.Currency),
		fmtFloat(o.AmountValue),
		fmtFloat(o.AmountPercent),
		fmtDate(o.DueDate),
		fmtInt(o.WithinDays),
		strings.Join(NormalizeTokens(o.ConditionText), " "),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, keyDelim)))
	return hex.EncodeToString(sum[:])
}

// ProposalKeyFor derives the deterministic idempotency key for a
// tierer-generated proposal. scope is the obligation signature, or a
// case-level marker for proposals not tied to one obligation.
func ProposalKeyFor(caseID string, proposalType ProposalType, scope string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{caseID, string(proposalType), scope}, keyDelim)))
	return hex.EncodeToString(sum[:])
}

// DeriveProposalKey builds a proposal key from a caller-supplied
// idempotency key on the manual-create API path.
func DeriveProposalKey(caseID string, proposalType ProposalType, idempotencyKey string) string {
	return ProposalKeyFor(caseID, proposalType, "idem:"+idempotencyKey)
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *f)
}

func fmtInt(i *int) string {
	if i == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *i)
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}
