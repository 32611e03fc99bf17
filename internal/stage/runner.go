// Package stage executes the nine pipeline stages against batches of
// eligible leads. One Runner serves every stage; per-stage behavior lives in
// the handler methods.
package stage

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/campaign"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/cascade"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/scorer"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/anthropic"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/attio"
)

// CRM is the slice of the Attio client the sync stage uses.
type CRM interface {
	UpsertCompany(ctx context.Context, rec attio.CompanyRecord) (string, error)
	UpsertPerson(ctx context.Context, rec attio.PersonRecord) (string, error)
	CreateNote(ctx context.Context, parentObject, recordID, title, content string) error
}

// Runner executes one stage for a batch of leads with bounded concurrency.
type Runner struct {
	store     store.Store
	resolver  *cascade.Resolver
	scorer    *scorer.Scorer
	ai        anthropic.Client
	aiCfg     config.AnthropicConfig
	crm       CRM
	campaigns *campaign.Manager
	ledger    *budget.Ledger
	limiter   *ratelimit.Limiter

	concurrency int
	now         func() time.Time
}

// Deps bundles the Runner's collaborators. Stages whose dependencies are nil
// fail leads with an error outcome rather than panicking.
type Deps struct {
	Store     store.Store
	Resolver  *cascade.Resolver
	Scorer    *scorer.Scorer
	AI        anthropic.Client
	AIConfig  config.AnthropicConfig
	CRM       CRM
	Campaigns *campaign.Manager
	Ledger    *budget.Ledger
	Limiter   *ratelimit.Limiter
}

// NewRunner creates a stage Runner.
func NewRunner(deps Deps, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Runner{
		store:       deps.Store,
		resolver:    deps.Resolver,
		scorer:      deps.Scorer,
		ai:          deps.AI,
		aiCfg:       deps.AIConfig,
		crm:         deps.CRM,
		campaigns:   deps.Campaigns,
		ledger:      deps.Ledger,
		limiter:     deps.Limiter,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithNow overrides the clock. For tests.
func (r *Runner) WithNow(now func() time.Time) *Runner {
	r.now = now
	return r
}

// result couples a lead's outcome with the cost its processing committed.
type result struct {
	outcome model.LeadOutcome
	costUSD float64
}

// Execute runs one stage over the leads. It returns the aggregated report
// and a budget.ExhaustedError when the cap halted processing; leads not yet
// started at that point count as budget-skipped.
func (r *Runner) Execute(ctx context.Context, st model.Stage, leads []model.Lead) (model.StageReport, error) {
	report := model.StageReport{Stage: st}
	start := r.now()

	var (
		mu        sync.Mutex
		exhausted error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	// Collapse duplicate IDs so the same lead is never in flight twice within
	// one batch. Concurrent runners are handled by the store's optimistic
	// status check.
	seen := make(map[string]struct{}, len(leads))

	for idx := range leads {
		lead := leads[idx]
		if _, dup := seen[lead.ID]; dup {
			continue
		}
		seen[lead.ID] = struct{}{}

		mu.Lock()
		halted := exhausted != nil
		if halted {
			report.BudgetSkipped++
		}
		mu.Unlock()
		if halted {
			continue
		}

		g.Go(func() error {
			res, err := r.runLead(gctx, st, &lead)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			report.CostUSD += res.costUSD
			switch res.outcome {
			case model.OutcomeSuccess:
				report.Succeeded++
			case model.OutcomePartial:
				report.Partial++
			case model.OutcomeFailure:
				report.Failed++
			case model.OutcomeError:
				report.Errored++
			}
			if err != nil && budget.IsExhausted(err) && exhausted == nil {
				exhausted = err
			}
			return nil
		})
	}
	g.Wait()

	report.DurationMS = r.now().Sub(start).Milliseconds()
	zap.L().Info("stage: finished",
		zap.Stringer("stage", st),
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("partial", report.Partial),
		zap.Int("failed", report.Failed),
		zap.Int("errored", report.Errored),
		zap.Int("budget_skipped", report.BudgetSkipped),
		zap.Float64("cost_usd", report.CostUSD),
	)
	return report, exhausted
}

// runLead processes one lead through one stage and persists the transition.
func (r *Runner) runLead(ctx context.Context, st model.Stage, lead *model.Lead) (result, error) {
	if lead.Status != st.EligibleStatus() {
		// Already advanced by an earlier run; idempotent no-op.
		zap.L().Debug("stage: lead not eligible, skipping",
			zap.String("lead_id", lead.ID),
			zap.Stringer("stage", st),
			zap.String("status", string(lead.Status)),
		)
		return result{outcome: model.OutcomeSuccess}, nil
	}
	fromStatus := lead.Status

	// An unqualified lead never enters the paid stages, even when a prior run
	// persisted it as scored without flipping the status. Park it as
	// disqualified instead of spending on research or messaging.
	if lead.Tier == model.TierUnqualified && st >= model.StageResearch {
		lead.Status = model.StatusDisqualified
		lead.UpdatedAt = r.now()
		if terr := r.store.TransitionLead(ctx, lead, fromStatus); terr != nil && !eris.Is(terr, store.ErrStaleTransition) {
			return result{outcome: model.OutcomeError}, terr
		}
		return result{outcome: model.OutcomeSuccess}, nil
	}

	res, err := r.handle(ctx, st, lead)
	if err != nil && budget.IsExhausted(err) {
		// Fields committed before the cap halted the cascade stay on the
		// lead; the status is unchanged so the resumed run picks it up here
		// without re-buying them.
		if terr := r.store.TransitionLead(ctx, lead, fromStatus); terr != nil && !eris.Is(terr, store.ErrStaleTransition) {
			zap.L().Error("stage: persist partial enrichment",
				zap.String("lead_id", lead.ID),
				zap.Error(terr),
			)
		}
		return res, err
	}
	if err != nil {
		zap.L().Warn("stage: lead errored",
			zap.String("lead_id", lead.ID),
			zap.Stringer("stage", st),
			zap.Error(err),
		)
	}

	switch res.outcome {
	case model.OutcomeSuccess, model.OutcomePartial:
		lead.MarkStageComplete(st, r.now())
	case model.OutcomeFailure:
		lead.Status = model.StatusFailed
		lead.UpdatedAt = r.now()
	case model.OutcomeError:
		// Status unchanged; the lead stays eligible for the next run.
		return res, err
	}

	// Disqualification set by the scoring handler overrides the completion
	// status.
	if lead.Tier == model.TierUnqualified && st == model.StageScore {
		lead.Status = model.StatusDisqualified
	}

	if terr := r.store.TransitionLead(ctx, lead, fromStatus); terr != nil {
		if eris.Is(terr, store.ErrStaleTransition) {
			zap.L().Debug("stage: transition lost race", zap.String("lead_id", lead.ID))
			return result{outcome: model.OutcomeSuccess, costUSD: res.costUSD}, nil
		}
		return result{outcome: model.OutcomeError, costUSD: res.costUSD}, terr
	}
	return res, err
}

func (r *Runner) handle(ctx context.Context, st model.Stage, lead *model.Lead) (result, error) {
	switch st {
	case model.StageCompanyEnrich:
		return r.enrichCompany(ctx, lead)
	case model.StageContactEnrich:
		return r.enrichContact(ctx, lead)
	case model.StageEmailVerify:
		return r.verifyEmail(ctx, lead)
	case model.StageScore:
		return r.score(lead)
	case model.StageResearch:
		return r.research(ctx, lead)
	case model.StageMessage:
		return r.message(ctx, lead)
	case model.StageCRMSync:
		return r.syncCRM(ctx, lead)
	case model.StageCampaign:
		return r.sendCampaign(ctx, lead)
	default:
		return result{outcome: model.OutcomeError}, eris.Errorf("stage: no handler for %s", st)
	}
}
