package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// BuildCachedSystemBlocks wraps a system prompt in a single block with a
// 1-hour cache breakpoint. The research and messaging stages reuse the same
// system prompt across every lead in a run, so all requests after the first
// read the prompt from cache at a tenth of the input price.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{Text: text, CacheControl: &CacheControl{TTL: "1h"}},
	}
}

// PrimerRequest warms the prompt cache with one synchronous request before a
// batch is submitted, so the batch items hit a warm cache instead of each
// paying the cache write. The request should carry system blocks from
// BuildCachedSystemBlocks; the response is usually discarded.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	return resp, nil
}
