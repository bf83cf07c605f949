package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/config"
)

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		wantErr  bool
	}{
		{"default is rules", "", "", false},
		{"rules", "rules", "", false},
		{"llm with key", "llm", "sk-test", false},
		{"llm without key", "llm", "", true},
		{"unknown", "magic", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := NewExtractor(
				config.ExtractConfig{Provider: tt.provider},
				config.AnthropicConfig{Key: tt.key},
			)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, ext)
		})
	}
}
