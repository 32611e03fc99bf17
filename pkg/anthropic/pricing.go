package anthropic

import "go.uber.org/zap"

// TokenUsage is the token consumption of one request, including prompt-cache
// traffic.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelPricing maps model id to {input, output} USD per million tokens.
// Cache writes bill at 1.25x input, cache reads at 0.1x.
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// EstimateCost converts usage into USD for the budget ledger. Unknown models
// return 0 so callers can fall back to a configured flat cost.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	cost := float64(u.InputTokens) / 1e6 * pricing[0]
	cost += float64(u.OutputTokens) / 1e6 * pricing[1]
	cost += float64(u.CacheCreationInputTokens) / 1e6 * pricing[0] * 1.25
	cost += float64(u.CacheReadInputTokens) / 1e6 * pricing[0] * 0.1
	return cost
}

// LogCost emits a structured cost-attribution line for one pipeline phase.
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("anthropic: cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
