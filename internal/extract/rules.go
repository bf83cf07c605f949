package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/model"
)

// RulesExtractor finds obligation candidates with pattern matching. It is the
// default provider: deterministic, offline, and good enough for the contract
// and email phrasing the pipeline usually sees.
type RulesExtractor struct{}

func NewRulesExtractor() *RulesExtractor {
	return &RulesExtractor{}
}

var (
	percentRe    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	amountRe     = regexp.MustCompile(`(?i)\b(HUF|EUR|USD|GBP|Ft)\s*([\d][\d\s.,]*\d|\d)\b|\b([\d][\d\s.,]*\d|\d)\s*(HUF|EUR|USD|GBP|Ft|forint)\b`)
	withinDaysRe = regexp.MustCompile(`(?i)within\s+(\d+)\s+(?:calendar\s+|business\s+|working\s+)?days`)
	isoDateRe    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	longDateRe   = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})\b`)
	usDateRe     = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)

	penaltyRe   = regexp.MustCompile(`(?i)\b(penalty|late payment interest|liquidated damages|default interest)\b`)
	perDayRe    = regexp.MustCompile(`(?i)(?:per|/|each)\s*(?:calendar\s+)?day`)
	discountRe  = regexp.MustCompile(`(?i)\b(early payment discount|discount\s+(?:of\s+)?[\d.,]+\s*%|[\d.,]+\s*%\s*discount)\b`)
	retentionRe = regexp.MustCompile(`(?i)\b(retention|retainage|warranty\s+(?:retention|holdback)|retain(?:ed)?)\b`)
	deliveryRe  = regexp.MustCompile(`(?i)\b(deliver(?:y|ed|ables?)?|hand(?:ed)?\s*over|completion\s+of\s+(?:the\s+)?works?)\b`)
	paymentRe   = regexp.MustCompile(`(?i)\b(pay(?:ment|able|s)?|invoice[sd]?|instal?lment|transfer|fee|remit)\b`)

	vagueRe = regexp.MustCompile(`(?i)\b(as soon as possible|to be (?:agreed|discussed|determined|confirmed|negotiated)|at a later (?:date|stage)|reasonable time|upon mutual agreement|in due course|promptly|tbd)\b`)

	monthIndex = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}
)

func (e *RulesExtractor) Extract(_ context.Context, source model.SourceFile, text string) ([]model.ObligationCandidate, error) {
	var candidates []model.ObligationCandidate

	for _, seg := range splitSegments(text) {
		c, ok := classifySegment(seg.text)
		if !ok {
			continue
		}
		c.Evidence = model.Evidence{
			SourceID: source.SourceID,
			Snippet:  snippet(seg.text),
			Offset:   seg.offset,
		}
		candidates = append(candidates, c)
	}

	zap.L().Debug("extract: rules pass complete",
		zap.String("source_id", source.SourceID),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// classifySegment maps one sentence-like segment to at most one candidate.
// Order matters: penalty, discount, and retention phrasing also mention
// payment words, so the narrower patterns are checked first.
func classifySegment(text string) (model.ObligationCandidate, bool) {
	var c model.ObligationCandidate

	switch {
	case penaltyRe.MatchString(text):
		c.Type = model.ObligationPenalty
	case discountRe.MatchString(text):
		c.Type = model.ObligationEarlyDiscount
	case retentionRe.MatchString(text):
		c.Type = model.ObligationWarrantyRetention
	case paymentRe.MatchString(text):
		c.Type = model.ObligationPayment
	case deliveryRe.MatchString(text):
		c.Type = model.ObligationDelivery
	case vagueRe.MatchString(text):
		// A vague commitment with no recognizable type still surfaces as a
		// low-confidence payment candidate so a reviewer sees it.
		c.Type = model.ObligationPayment
	default:
		return c, false
	}

	c.ConditionText = strings.TrimSpace(text)

	if v, cur, ok := parseAmount(text); ok {
		c.AmountValue = &v
		c.Currency = cur
	}
	if p, ok := parsePercent(text); ok && c.AmountValue == nil {
		c.AmountPercent = &p
	}
	if d, ok := parseDueDate(text); ok {
		c.DueDate = &d
	}
	if n, ok := parseWithinDays(text); ok {
		c.WithinDays = &n
	}

	c.Confidence = scoreCandidate(c, text)

	// A type-word hit with no quantifiable term at all is noise, except for
	// vague phrasing which must surface for review.
	if c.AmountValue == nil && c.AmountPercent == nil && c.DueDate == nil && c.WithinDays == nil {
		if !vagueRe.MatchString(text) {
			return c, false
		}
	}

	return c, true
}

// scoreCandidate assigns a heuristic confidence. Fully quantified terms score
// high; vague phrasing is capped low so the tierer routes it to missing_data.
func scoreCandidate(c model.ObligationCandidate, text string) float64 {
	if vagueRe.MatchString(text) {
		return 0.30
	}

	score := 0.50
	if c.AmountValue != nil || c.AmountPercent != nil {
		score += 0.25
	}
	if c.DueDate != nil {
		score += 0.15
	} else if c.WithinDays != nil {
		score += 0.10
	}
	if c.Type == model.ObligationPenalty && perDayRe.MatchString(text) {
		score += 0.05
	}
	if score > 0.95 {
		score = 0.95
	}
	return score
}

func parsePercent(text string) (float64, bool) {
	m := percentRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseAmount(text string) (float64, string, bool) {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	var raw, cur string
	if m[1] != "" {
		cur, raw = m[1], m[2]
	} else {
		raw, cur = m[3], m[4]
	}
	v, err := parseNumber(raw)
	if err != nil {
		return 0, "", false
	}
	return v, normalizeCurrency(cur), true
}

// parseNumber handles grouped amounts: "12,500,000", "12 500 000", "12.500.000".
// A trailing two-digit group after a dot or comma is treated as decimals.
func parseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, " ", "")

	// Detect a decimal tail like "1234.56" or "1234,56".
	if i := strings.LastIndexAny(raw, ".,"); i >= 0 && len(raw)-i-1 <= 2 {
		intPart := raw[:i]
		decPart := raw[i+1:]
		intPart = strings.Map(digitsOnly, intPart)
		return strconv.ParseFloat(intPart+"."+decPart, 64)
	}

	return strconv.ParseFloat(strings.Map(digitsOnly, raw), 64)
}

func digitsOnly(r rune) rune {
	if unicode.IsDigit(r) {
		return r
	}
	return -1
}

func normalizeCurrency(cur string) string {
	switch strings.ToLower(cur) {
	case "ft", "forint", "huf":
		return "HUF"
	default:
		return strings.ToUpper(cur)
	}
}

func parseWithinDays(text string) (int, bool) {
	m := withinDaysRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDueDate(text string) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		t, err := time.Parse("2006-01-02", m[0])
		if err == nil {
			return t, true
		}
	}
	if m := longDateRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		if month, ok := monthIndex[strings.ToLower(m[2])]; ok && day >= 1 && day <= 31 {
			return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
		}
	}
	if m := usDateRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month, ok := monthIndex[strings.ToLower(m[1])]; ok && day >= 1 && day <= 31 {
			return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// segment is a sentence-like slice of the source text with its byte offset.
type segment struct {
	text   string
	offset int
}

// splitSegments breaks text at sentence ends and blank lines. A period inside
// a number ("0.5%") does not end a segment.
func splitSegments(text string) []segment {
	var segs []segment
	start := 0
	runes := []rune(text)

	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			// Byte offset of the trimmed segment within the original text.
			off := start
			for off < end && unicode.IsSpace(runes[off]) {
				off++
			}
			segs = append(segs, segment{text: s, offset: byteOffset(runes, off)})
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', ';':
			prevDigit := i > 0 && unicode.IsDigit(runes[i-1])
			nextDigit := i+1 < len(runes) && unicode.IsDigit(runes[i+1])
			if prevDigit && nextDigit {
				continue
			}
			flush(i + 1)
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush(i)
			}
		}
	}
	flush(len(runes))
	return segs
}

func byteOffset(runes []rune, runeIdx int) int {
	return len(string(runes[:runeIdx]))
}

// snippet truncates evidence text to a reviewable length.
func snippet(s string) string {
	const maxLen = 240
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
