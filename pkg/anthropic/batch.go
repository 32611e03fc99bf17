package anthropic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 30 * time.Minute
)

// PollOption tunes PollBatch.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval sets the first poll delay.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) { c.initial = d }
}

// WithPollCap bounds the grown poll delay.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) { c.cap = d }
}

// WithPollTimeout bounds total polling time when the context has no deadline.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) { c.timeout = d }
}

// PollBatch polls GetBatch until the batch ends, the context expires, or the
// batch reaches a dead state (expired, canceled). The delay between polls
// doubles up to the cap, with up to 20% jitter either way.
func PollBatch(ctx context.Context, client Client, batchID string, opts ...PollOption) (*BatchResponse, error) {
	cfg := pollConfig{
		initial: defaultPollInitial,
		cap:     defaultPollCap,
		timeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	delay := cfg.initial
	for {
		batch, err := client.GetBatch(ctx, batchID)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("anthropic: poll batch %s", batchID))
		}
		switch batch.ProcessingStatus {
		case "ended":
			return batch, nil
		case "expired":
			return batch, eris.Errorf("anthropic: batch %s expired", batchID)
		case "canceled", "canceling":
			return batch, eris.Errorf("anthropic: batch %s canceled", batchID)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("anthropic: poll batch %s timed out", batchID))
		case <-time.After(delay):
		}
		delay = nextPollDelay(delay, cfg.cap)
	}
}

func nextPollDelay(delay, limit time.Duration) time.Duration {
	delay *= 2
	if delay > limit {
		delay = limit
	}
	jitter := time.Duration(rand.Int64N(int64(delay) / 5))
	if rand.IntN(2) == 0 {
		return delay + jitter
	}
	return delay - jitter
}

// BatchFailure identifies one non-succeeded batch item.
type BatchFailure struct {
	CustomID string
	Type     string // "errored", "canceled", "expired"
}

// BatchCollectResult splits an ended batch into succeeded messages keyed by
// custom id and the failures that need a retry elsewhere.
type BatchCollectResult struct {
	Succeeded map[string]*MessageResponse
	Failures  []BatchFailure
}

// CollectBatchResultsDetailed drains the iterator. Failed items are logged
// and listed; a stream error aborts the collection.
func CollectBatchResultsDetailed(iter BatchResultIterator) (*BatchCollectResult, error) {
	defer iter.Close()

	out := &BatchCollectResult{Succeeded: make(map[string]*MessageResponse)}
	for iter.Next() {
		item := iter.Item()
		if item.Type == "succeeded" && item.Message != nil {
			out.Succeeded[item.CustomID] = item.Message
			continue
		}
		out.Failures = append(out.Failures, BatchFailure{CustomID: item.CustomID, Type: item.Type})
		zap.L().Warn("anthropic: batch item failed",
			zap.String("custom_id", item.CustomID),
			zap.String("type", item.Type),
		)
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: collect batch results")
	}
	if len(out.Failures) > 0 {
		zap.L().Warn("anthropic: batch partially failed",
			zap.Int("succeeded", len(out.Succeeded)),
			zap.Int("failed", len(out.Failures)),
		)
	}
	return out, nil
}
