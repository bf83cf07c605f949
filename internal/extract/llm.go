package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/resilience"
	"github.com/sells-group/obligations-cli/pkg/anthropic"
)

const extractSystemText = `You are a contract analyst extracting financial obligations from contract and email text. Return only valid JSON, no prose.`

const extractPrompt = `Extract every contractual obligation from the text below.

Obligation types: payment, delivery, warranty_retention, penalty, early_discount.

Text:
%s

Return a JSON object:
{"candidates": [{"type": "<type>", "currency": "<ISO code or empty>", "amount_value": <number or null>, "amount_percent": <number or null>, "due_date": "<YYYY-MM-DD or null>", "within_days": <integer or null>, "condition_text": "<the clause text>", "confidence": <0.0-1.0>, "snippet": "<exact supporting quote>"}]}

Use null for anything the text does not state. Confidence below 0.5 means the clause is vague or incomplete.`

// LLMExtractor produces candidates with the Anthropic API. Calls are rate
// limited and retried on transient failures.
type LLMExtractor struct {
	client  anthropic.Client
	model   string
	maxTok  int64
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

func NewLLMExtractor(client anthropic.Client, cfg config.AnthropicConfig) *LLMExtractor {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	maxTok := cfg.MaxTokens
	if maxTok <= 0 {
		maxTok = 2048
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")
	return &LLMExtractor{
		client:  client,
		model:   cfg.Model,
		maxTok:  maxTok,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		retry:   retry,
	}
}

// llmCandidate mirrors the JSON shape the prompt requests.
type llmCandidate struct {
	Type          string   `json:"type"`
	Currency      string   `json:"currency"`
	AmountValue   *float64 `json:"amount_value"`
	AmountPercent *float64 `json:"amount_percent"`
	DueDate       *string  `json:"due_date"`
	WithinDays    *int     `json:"within_days"`
	ConditionText string   `json:"condition_text"`
	Confidence    float64  `json:"confidence"`
	Snippet       string   `json:"snippet"`
}

func (e *LLMExtractor) Extract(ctx context.Context, source model.SourceFile, text string) ([]model.ObligationCandidate, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	req := anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTok,
		System:    []anthropic.SystemBlock{{Text: extractSystemText, CacheControl: &anthropic.CacheControl{TTL: "5m"}}},
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, text)},
		},
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: llm call for source %s", source.SourceID)
	}
	resp.Usage.LogCost(e.model, "extract")

	return parseCandidates(extractText(resp), source)
}

func parseCandidates(text string, source model.SourceFile) ([]model.ObligationCandidate, error) {
	var payload struct {
		Candidates []llmCandidate `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrapf(err, "extract: parse llm response for source %s", source.SourceID)
	}

	var out []model.ObligationCandidate
	for _, lc := range payload.Candidates {
		c := model.ObligationCandidate{
			Type:          model.ObligationType(lc.Type),
			Currency:      strings.ToUpper(lc.Currency),
			AmountValue:   lc.AmountValue,
			AmountPercent: lc.AmountPercent,
			WithinDays:    lc.WithinDays,
			ConditionText: lc.ConditionText,
			Confidence:    lc.Confidence,
			Evidence: model.Evidence{
				SourceID: source.SourceID,
				Snippet:  lc.Snippet,
			},
		}
		if !validType(c.Type) {
			zap.L().Warn("extract: dropping candidate with unknown type",
				zap.String("type", lc.Type),
				zap.String("source_id", source.SourceID),
			)
			continue
		}
		if lc.DueDate != nil && *lc.DueDate != "" {
			if d, err := time.Parse("2006-01-02", *lc.DueDate); err == nil {
				d = d.UTC()
				c.DueDate = &d
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func validType(t model.ObligationType) bool {
	switch t {
	case model.ObligationPayment, model.ObligationDelivery, model.ObligationWarrantyRetention,
		model.ObligationPenalty, model.ObligationEarlyDiscount:
		return true
	}
	return false
}

func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "" || b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
