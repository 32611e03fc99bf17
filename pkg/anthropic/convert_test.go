package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	msg := &sdk.Message{
		ID:         "msg-1",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		},
		Usage: sdk.Usage{
			InputTokens:          1200,
			OutputTokens:         340,
			CacheReadInputTokens: 900,
		},
	}

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg-1", resp.ID)
	assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "second", resp.Content[1].Text)
	assert.Equal(t, int64(1200), resp.Usage.InputTokens)
	assert.Equal(t, int64(900), resp.Usage.CacheReadInputTokens)
}

func TestFromSDKBatch(t *testing.T) {
	batch := &sdk.MessageBatch{
		ID:               "batch-1",
		ProcessingStatus: "ended",
		ResultsURL:       "https://api.anthropic.com/v1/messages/batches/batch-1/results",
		RequestCounts: sdk.MessageBatchRequestCounts{
			Succeeded: 8,
			Errored:   2,
		},
	}

	resp := fromSDKBatch(batch)
	assert.Equal(t, "batch-1", resp.ID)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.NotEmpty(t, resp.ResultsURL)
	assert.Equal(t, int64(8), resp.RequestCounts.Succeeded)
	assert.Equal(t, int64(2), resp.RequestCounts.Errored)
}

func TestFromSDKBatchResultSucceeded(t *testing.T) {
	item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
		CustomID: "lead-1",
		Result: sdk.MessageBatchResultUnion{
			Type: "succeeded",
			Message: sdk.Message{
				ID:      "msg-1",
				Content: []sdk.ContentBlockUnion{{Type: "text", Text: "summary"}},
			},
		},
	})

	assert.Equal(t, "lead-1", item.CustomID)
	assert.Equal(t, "succeeded", item.Type)
	require.NotNil(t, item.Message)
	assert.Equal(t, "summary", item.Message.Content[0].Text)
}

func TestFromSDKBatchResultErrored(t *testing.T) {
	item := fromSDKBatchResult(sdk.MessageBatchIndividualResponse{
		CustomID: "lead-2",
		Result:   sdk.MessageBatchResultUnion{Type: "errored"},
	})

	assert.Equal(t, "errored", item.Type)
	assert.Nil(t, item.Message)
}

func TestToSDKMessagesRoles(t *testing.T) {
	params := toSDKMessages([]Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	})

	require.Len(t, params, 2)
	assert.Equal(t, sdk.MessageParamRoleUser, params[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, params[1].Role)
}

func TestToSDKSystemBlocksCacheControl(t *testing.T) {
	params := toSDKSystemBlocks([]SystemBlock{
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "plain"},
	})

	require.Len(t, params, 2)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), params[0].CacheControl.TTL)
	assert.Equal(t, "plain", params[1].Text)
}
