package stage

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/anthropic"
)

// batchCostDiscount reflects the 50% price reduction on the Message Batches
// API relative to synchronous requests.
const batchCostDiscount = 0.5

// ResearchBatch generates research summaries for many leads in one message
// batch instead of per-lead synchronous calls. Slower (the batch is polled to
// completion) but half the token price, so it is the better fit for large
// backlogs. Leads whose batch item fails keep their status and are retried by
// a later run.
func (r *Runner) ResearchBatch(ctx context.Context, leads []model.Lead) (model.StageReport, error) {
	report := model.StageReport{Stage: model.StageResearch}
	start := r.now()
	defer func() { report.DurationMS = r.now().Sub(start).Milliseconds() }()

	if r.ai == nil {
		return report, eris.New("stage: anthropic client not configured")
	}

	pending := make([]model.Lead, 0, len(leads))
	for _, lead := range leads {
		if lead.Status != model.StageResearch.EligibleStatus() || lead.ResearchSummary != "" {
			continue
		}
		// Unqualified leads never buy research; same rule as the synchronous
		// path.
		if lead.Tier == model.TierUnqualified {
			continue
		}
		pending = append(pending, lead)
	}
	if len(pending) == 0 {
		return report, nil
	}

	estimate := r.aiCfg.CostPerRequest * batchCostDiscount * float64(len(pending))
	reservation, err := r.ledger.Reserve("anthropic", estimate)
	if err != nil {
		if budget.IsExhausted(err) {
			report.BudgetSkipped = len(pending)
			return report, err
		}
		return report, eris.Wrap(err, "stage: reserve batch budget")
	}

	req := anthropic.BatchRequest{Requests: make([]anthropic.BatchRequestItem, 0, len(pending))}
	for i := range pending {
		req.Requests = append(req.Requests, anthropic.BatchRequestItem{
			CustomID: pending[i].ID,
			Params: anthropic.MessageRequest{
				Model:     r.aiCfg.Model,
				MaxTokens: int64(r.aiCfg.MaxTokens),
				System:    anthropic.BuildCachedSystemBlocks(researchSystemPrompt),
				Messages:  []anthropic.Message{{Role: "user", Content: researchUserPrompt(&pending[i])}},
			},
		})
	}

	batch, err := r.ai.CreateBatch(ctx, req)
	if err != nil {
		r.ledger.Release(reservation)
		return report, eris.Wrap(err, "stage: create research batch")
	}
	zap.L().Info("stage: research batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("leads", len(pending)),
	)

	if _, err := anthropic.PollBatch(ctx, r.ai, batch.ID); err != nil {
		r.ledger.Release(reservation)
		return report, err
	}
	iter, err := r.ai.GetBatchResults(ctx, batch.ID)
	if err != nil {
		r.ledger.Release(reservation)
		return report, err
	}
	collected, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		r.ledger.Release(reservation)
		return report, err
	}

	var actual float64
	for _, msg := range collected.Succeeded {
		actual += msg.Usage.EstimateCost(r.aiCfg.Model) * batchCostDiscount
	}
	if actual == 0 {
		actual = estimate
	}
	if err := r.ledger.Commit(ctx, reservation, actual, ""); err != nil {
		return report, err
	}
	report.CostUSD = actual

	for i := range pending {
		lead := pending[i]
		report.Processed++

		msg, ok := collected.Succeeded[lead.ID]
		if !ok {
			report.Errored++
			continue
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		summary := strings.TrimSpace(sb.String())
		if summary == "" {
			report.Errored++
			continue
		}

		fromStatus := lead.Status
		lead.ResearchSummary = summary
		lead.MarkStageComplete(model.StageResearch, r.now())
		if terr := r.store.TransitionLead(ctx, &lead, fromStatus); terr != nil {
			if eris.Is(terr, store.ErrStaleTransition) {
				report.Succeeded++
				continue
			}
			zap.L().Error("stage: persist batch research result",
				zap.String("lead_id", lead.ID),
				zap.Error(terr),
			)
			report.Errored++
			continue
		}
		report.Succeeded++
	}

	zap.L().Info("stage: research batch finished",
		zap.String("batch_id", batch.ID),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("errored", report.Errored),
		zap.Float64("cost_usd", report.CostUSD),
	)
	return report, nil
}
