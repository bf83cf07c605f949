package extract

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
)

// SourceText pairs a registered source with its plain text content.
type SourceText struct {
	Source model.SourceFile
	Text   string
}

// Run extracts candidates from all sources concurrently. A failing or slow
// source is logged and skipped; the rest of the case still processes. The
// returned order follows the input order, so downstream reconciliation is
// deterministic.
func Run(ctx context.Context, ext Extractor, inputs []SourceText, cfg config.ExtractConfig) []model.ObligationCandidate {
	if len(inputs) == 0 {
		return nil
	}

	limit := cfg.MaxConcurrentSources
	if limit <= 0 {
		limit = 4
	}
	timeout := time.Duration(cfg.SourceTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	perSource := make([][]model.ObligationCandidate, len(inputs))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, in := range inputs {
		g.Go(func() error {
			srcCtx, cancel := context.WithTimeout(gCtx, timeout)
			defer cancel()

			candidates, err := ext.Extract(srcCtx, in.Source, in.Text)
			if err != nil {
				zap.L().Warn("extract: source failed",
					zap.String("source_id", in.Source.SourceID),
					zap.String("file_name", in.Source.FileName),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			perSource[i] = candidates
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var all []model.ObligationCandidate
	for _, cs := range perSource {
		all = append(all, cs...)
	}
	return all
}
