package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/model"
)

// flakyExtractor fails for one source and succeeds for the rest.
type flakyExtractor struct {
	failSourceID string
}

func (f *flakyExtractor) Extract(_ context.Context, src model.SourceFile, text string) ([]model.ObligationCandidate, error) {
	if src.SourceID == f.failSourceID {
		return nil, eris.New("extract: simulated failure")
	}
	return []model.ObligationCandidate{{
		Type:          model.ObligationPayment,
		ConditionText: text,
		Confidence:    0.9,
		Evidence:      model.Evidence{SourceID: src.SourceID},
	}}, nil
}

func TestRunCollectsInInputOrder(t *testing.T) {
	inputs := []SourceText{
		{Source: model.SourceFile{SourceID: "a"}, Text: "first"},
		{Source: model.SourceFile{SourceID: "b"}, Text: "second"},
		{Source: model.SourceFile{SourceID: "c"}, Text: "third"},
	}

	got := Run(context.Background(), &flakyExtractor{}, inputs, config.ExtractConfig{MaxConcurrentSources: 2})
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Evidence.SourceID)
	assert.Equal(t, "b", got[1].Evidence.SourceID)
	assert.Equal(t, "c", got[2].Evidence.SourceID)
}

func TestRunSkipsFailingSource(t *testing.T) {
	inputs := []SourceText{
		{Source: model.SourceFile{SourceID: "a"}, Text: "first"},
		{Source: model.SourceFile{SourceID: "bad"}, Text: "second"},
		{Source: model.SourceFile{SourceID: "c"}, Text: "third"},
	}

	got := Run(context.Background(), &flakyExtractor{failSourceID: "bad"}, inputs, config.ExtractConfig{})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Evidence.SourceID)
	assert.Equal(t, "c", got[1].Evidence.SourceID)
}

func TestRunEmptyInput(t *testing.T) {
	assert.Nil(t, Run(context.Background(), &flakyExtractor{}, nil, config.ExtractConfig{}))
}
