package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/anthropic"
)

type fakeBatchAI struct {
	items   []anthropic.BatchResultItem
	lastReq anthropic.BatchRequest
	batches int
}

func (f *fakeBatchAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	panic("batch path must not make synchronous requests")
}

func (f *fakeBatchAI) CreateBatch(ctx context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	f.batches++
	f.lastReq = req
	return &anthropic.BatchResponse{ID: "batch-1", ProcessingStatus: "in_progress"}, nil
}

func (f *fakeBatchAI) GetBatch(ctx context.Context, batchID string) (*anthropic.BatchResponse, error) {
	return &anthropic.BatchResponse{ID: batchID, ProcessingStatus: "ended"}, nil
}

func (f *fakeBatchAI) GetBatchResults(ctx context.Context, batchID string) (anthropic.BatchResultIterator, error) {
	return &sliceResultIterator{items: f.items}, nil
}

type sliceResultIterator struct {
	items []anthropic.BatchResultItem
	pos   int
}

func (it *sliceResultIterator) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceResultIterator) Item() anthropic.BatchResultItem { return it.items[it.pos-1] }
func (it *sliceResultIterator) Err() error                      { return nil }
func (it *sliceResultIterator) Close() error                    { return nil }

func succeededItem(customID, text string) anthropic.BatchResultItem {
	return anthropic.BatchResultItem{
		CustomID: customID,
		Type:     "succeeded",
		Message: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		},
	}
}

func researchEligibleLead(domain, email string) *model.Lead {
	lead := store.NewTestLead(domain, email)
	now := lead.CreatedAt
	for s := model.StageCompanyEnrich; s < model.StageResearch; s++ {
		lead.MarkStageComplete(s, now)
	}
	return lead
}

func TestResearchBatchGeneratesSummaries(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)

	lead1 := researchEligibleLead("acme.io", "ada@acme.io")
	lead2 := researchEligibleLead("globex.com", "hank@globex.com")
	require.NoError(t, mem.CreateLead(context.Background(), lead1))
	require.NoError(t, mem.CreateLead(context.Background(), lead2))

	ai := &fakeBatchAI{items: []anthropic.BatchResultItem{
		succeededItem(lead1.ID, "Acme builds billing software for SaaS teams."),
		succeededItem(lead2.ID, "Globex runs industrial logistics at scale."),
	}}
	deps.AI = ai

	report, err := NewRunner(deps, 1).ResearchBatch(context.Background(), []model.Lead{*lead1, *lead2})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, ai.batches)
	require.Len(t, ai.lastReq.Requests, 2)
	assert.Equal(t, lead1.ID, ai.lastReq.Requests[0].CustomID)

	// Zero reported usage falls back to the discounted per-request estimate.
	assert.InDelta(t, 0.002, report.CostUSD, 1e-9)
	assert.InDelta(t, 0.002, deps.Ledger.Status().ByProvider["anthropic"], 1e-9)

	stored, err := mem.GetLead(context.Background(), lead1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageResearch.CompletionStatus(), stored.Status)
	assert.Equal(t, "Acme builds billing software for SaaS teams.", stored.ResearchSummary)
}

func TestResearchBatchFailedItemStaysEligible(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)

	lead1 := researchEligibleLead("acme.io", "ada@acme.io")
	lead2 := researchEligibleLead("globex.com", "hank@globex.com")
	require.NoError(t, mem.CreateLead(context.Background(), lead1))
	require.NoError(t, mem.CreateLead(context.Background(), lead2))

	deps.AI = &fakeBatchAI{items: []anthropic.BatchResultItem{
		succeededItem(lead1.ID, "Acme builds billing software."),
		{CustomID: lead2.ID, Type: "errored"},
	}}

	report, err := NewRunner(deps, 1).ResearchBatch(context.Background(), []model.Lead{*lead1, *lead2})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Errored)

	stored, err := mem.GetLead(context.Background(), lead2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageResearch.EligibleStatus(), stored.Status)
	assert.Empty(t, stored.ResearchSummary)
}

func TestResearchBatchFiltersIneligibleLeads(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	ai := &fakeBatchAI{}
	deps.AI = ai

	fresh := store.NewTestLead("acme.io", "ada@acme.io") // still at ingest
	summarized := researchEligibleLead("globex.com", "hank@globex.com")
	summarized.ResearchSummary = "already researched"

	report, err := NewRunner(deps, 1).ResearchBatch(context.Background(), []model.Lead{*fresh, *summarized})
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Zero(t, ai.batches, "no batch submitted when nothing is pending")
}

func TestResearchBatchBudgetExhausted(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.Ledger = budget.NewLedger(budget.Options{MonthlyCapUSD: 0.0001, HardStop: true}, nil)
	ai := &fakeBatchAI{}
	deps.AI = ai

	lead := researchEligibleLead("acme.io", "ada@acme.io")
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).ResearchBatch(context.Background(), []model.Lead{*lead})
	require.Error(t, err)
	assert.True(t, budget.IsExhausted(err))
	assert.Equal(t, 1, report.BudgetSkipped)
	assert.Zero(t, ai.batches)
}
