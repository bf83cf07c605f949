package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/pkg/anthropic"
)

// Extractor produces obligation candidates from a single source's text.
// Implementations are interchangeable: the rest of the pipeline only sees
// candidates and never knows how they were produced.
type Extractor interface {
	Extract(ctx context.Context, source model.SourceFile, text string) ([]model.ObligationCandidate, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.ExtractConfig, aiCfg config.AnthropicConfig) (Extractor, error) {
	switch cfg.Provider {
	case "rules", "":
		return NewRulesExtractor(), nil
	case "llm":
		if aiCfg.Key == "" {
			return nil, eris.New("extract: llm provider requires anthropic.key")
		}
		return NewLLMExtractor(anthropic.NewClient(aiCfg.Key), aiCfg), nil
	default:
		return nil, eris.Errorf("extract: unknown provider %q", cfg.Provider)
	}
}
