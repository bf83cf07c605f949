package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/model"
)

func TestParseSourceArg(t *testing.T) {
	tests := []struct {
		name     string
		arg      string
		wantPath string
		wantType model.SourceType
		wantErr  bool
	}{
		{name: "contract", arg: "contract.txt:contract", wantPath: "contract.txt", wantType: model.SourceTypeContract},
		{name: "email", arg: "thread.eml:email", wantPath: "thread.eml", wantType: model.SourceTypeEmail},
		{name: "audio transcript", arg: "call.txt:audio", wantPath: "call.txt", wantType: model.SourceTypeAudio},
		{name: "path with colon", arg: "C:/docs/contract.txt:contract", wantPath: "C:/docs/contract.txt", wantType: model.SourceTypeContract},
		{name: "unknown type", arg: "contract.txt:pdf", wantErr: true},
		{name: "no separator", arg: "contract.txt", wantErr: true},
		{name: "empty type", arg: "contract.txt:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, typ, err := parseSourceArg(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantType, typ)
		})
	}
}
