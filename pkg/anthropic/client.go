// Package anthropic wraps the official SDK behind a small interface shaped
// for the research and messaging stages: synchronous messages, message
// batches, prompt caching and cost attribution.
package anthropic

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/jsonl"
	"github.com/rotisserie/eris"
)

// Client is the slice of the Anthropic API the pipeline uses. The stage
// runner holds this interface so tests can substitute a fake.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error)
	GetBatch(ctx context.Context, batchID string) (*BatchResponse, error)
	GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error)
}

// BatchResultIterator streams per-item results from an ended batch.
type BatchResultIterator interface {
	Next() bool
	Item() BatchResultItem
	Err() error
	Close() error
}

// MessageRequest describes one model request independent of SDK types.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock is one system prompt segment. A non-nil CacheControl marks a
// cache breakpoint.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl sets the prompt-cache TTL, "5m" or "1h".
type CacheControl struct {
	TTL string
}

// Message is one turn of the conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse mirrors the fields of a model response the pipeline reads.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	Usage        TokenUsage
	StopSequence string
}

// ContentBlock is one piece of response content.
type ContentBlock struct {
	Type string
	Text string
}

// BatchRequest bundles message requests for the Message Batches API.
type BatchRequest struct {
	Requests []BatchRequestItem
}

// BatchRequestItem pairs a request with the caller's correlation id. The
// pipeline uses lead ids so results map back without extra bookkeeping.
type BatchRequestItem struct {
	CustomID string
	Params   MessageRequest
}

// BatchResponse is the batch-level status.
type BatchResponse struct {
	ID               string
	ProcessingStatus string
	ResultsURL       string
	RequestCounts    RequestCounts
}

// RequestCounts tallies batch items by state.
type RequestCounts struct {
	Processing int64
	Succeeded  int64
	Errored    int64
	Canceled   int64
	Expired    int64
}

// BatchResultItem is one item of an ended batch. Message is set only for
// type "succeeded".
type BatchResultItem struct {
	CustomID string
	Type     string // "succeeded", "errored", "canceled", "expired"
	Message  *MessageResponse
}

type apiClient struct {
	sdk sdk.Client
}

// NewClient returns a Client backed by the official SDK.
func NewClient(apiKey string) Client {
	return &apiClient{sdk: sdk.NewClient(option.WithAPIKey(apiKey))}
}

func (c *apiClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

func (c *apiClient) CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	items := make([]sdk.MessageBatchNewParamsRequest, len(req.Requests))
	for i, r := range req.Requests {
		items[i] = sdk.MessageBatchNewParamsRequest{
			CustomID: r.CustomID,
			Params: sdk.MessageBatchNewParamsRequestParams{
				Model:     sdk.Model(r.Params.Model),
				MaxTokens: r.Params.MaxTokens,
				Messages:  toSDKMessages(r.Params.Messages),
			},
		}
		if len(r.Params.System) > 0 {
			items[i].Params.System = toSDKSystemBlocks(r.Params.System)
		}
		if r.Params.Temperature != nil {
			items[i].Params.Temperature = sdk.Float(*r.Params.Temperature)
		}
	}

	batch, err := c.sdk.Messages.Batches.New(ctx, sdk.MessageBatchNewParams{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create batch")
	}
	return fromSDKBatch(batch), nil
}

func (c *apiClient) GetBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	batch, err := c.sdk.Messages.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("anthropic: get batch %s", batchID))
	}
	return fromSDKBatch(batch), nil
}

func (c *apiClient) GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error) {
	stream := c.sdk.Messages.Batches.ResultsStreaming(ctx, batchID)
	if err := stream.Err(); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("anthropic: get batch results %s", batchID))
	}
	return &resultStream{stream: stream}, nil
}

// resultStream adapts the SDK's jsonl stream to BatchResultIterator.
type resultStream struct {
	stream *jsonl.Stream[sdk.MessageBatchIndividualResponse]
	item   BatchResultItem
}

func (s *resultStream) Next() bool {
	if !s.stream.Next() {
		return false
	}
	s.item = fromSDKBatchResult(s.stream.Current())
	return true
}

func (s *resultStream) Item() BatchResultItem { return s.item }
func (s *resultStream) Err() error            { return s.stream.Err() }
func (s *resultStream) Close() error          { return s.stream.Close() }
