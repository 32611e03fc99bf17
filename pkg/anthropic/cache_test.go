package anthropic

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("You are a research analyst.")

	require.Len(t, blocks, 1)
	assert.Equal(t, "You are a research analyst.", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestPrimerRequestForwardsResponse(t *testing.T) {
	var got MessageRequest
	client := &stubClient{
		createMessage: func(_ context.Context, req MessageRequest) (*MessageResponse, error) {
			got = req
			return &MessageResponse{ID: "msg-1", StopReason: "end_turn"}, nil
		},
	}

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 16,
		System:    BuildCachedSystemBlocks("primer"),
		Messages:  []Message{{Role: "user", Content: "ok"}},
	}
	resp, err := PrimerRequest(context.Background(), client, req)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", resp.ID)
	assert.Equal(t, req.System, got.System)
}

func TestPrimerRequestWrapsError(t *testing.T) {
	client := &stubClient{
		createMessage: func(context.Context, MessageRequest) (*MessageResponse, error) {
			return nil, eris.New("overloaded")
		},
	}

	_, err := PrimerRequest(context.Background(), client, MessageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primer request")
}
