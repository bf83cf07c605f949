package anthropic

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/obligations-cli/internal/resilience"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestMockClientCreateMessage(t *testing.T) {
	m := new(MockClient)
	want := &MessageResponse{
		ID:      "msg_1",
		Content: []ContentBlock{{Type: "text", Text: `{"candidates":[]}`}},
		Usage:   TokenUsage{InputTokens: 1200, OutputTokens: 300},
	}
	m.On("CreateMessage", mock.Anything, mock.Anything).Return(want, nil)

	got, err := m.CreateMessage(context.Background(), MessageRequest{Model: "claude-haiku-4-5-20251001"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	m.AssertExpectations(t)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		usage TokenUsage
		model string
		want  float64
	}{
		{
			name:  "haiku input and output",
			usage: TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
			model: "claude-haiku-4-5-20251001",
			want:  4.80,
		},
		{
			name:  "cache write premium",
			usage: TokenUsage{CacheCreationInputTokens: 1_000_000},
			model: "claude-haiku-4-5-20251001",
			want:  1.00,
		},
		{
			name:  "cache read discount",
			usage: TokenUsage{CacheReadInputTokens: 1_000_000},
			model: "claude-haiku-4-5-20251001",
			want:  0.08,
		},
		{
			name:  "unknown model",
			usage: TokenUsage{InputTokens: 1_000_000},
			model: "not-a-model",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.0001)
		})
	}
}

func TestClassifyAPIError(t *testing.T) {
	apiReq, err := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	require.NoError(t, err)

	plain := errors.New("context deadline exceeded")
	assert.Equal(t, plain, classifyAPIError(plain))

	badReq := &sdk.Error{
		StatusCode: http.StatusBadRequest,
		Request:    apiReq,
		Response:   &http.Response{StatusCode: http.StatusBadRequest},
	}
	assert.False(t, resilience.IsTransient(classifyAPIError(badReq)))

	overloaded := &sdk.Error{
		StatusCode: 529,
		Request:    apiReq,
		Response:   &http.Response{StatusCode: 529},
	}
	assert.True(t, resilience.IsTransient(classifyAPIError(overloaded)))

	header := http.Header{}
	header.Set("Retry-After", "12")
	rateLimited := &sdk.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    apiReq,
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests, Header: header},
	}
	classified := classifyAPIError(rateLimited)
	var te *resilience.TransientError
	require.ErrorAs(t, classified, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Equal(t, 12*time.Second, te.RetryAfter)
}

func TestToSDKMessagesRoles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "extract obligations"},
		{Role: "assistant", Content: "ok"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}

func TestToSDKSystemBlocksCacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "system prompt", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "no cache"},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "system prompt", blocks[0].Text)
	assert.Equal(t, "1h", string(blocks[0].CacheControl.TTL))
}
