package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/campaign"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/cascade"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ingest"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/pipeline"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/provider"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/scorer"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/stage"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
	anthropicpkg "github.com/friso-kolkman/lead-enrichment-crm/pkg/anthropic"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/attio"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/resend"
)

// pipelineEnv holds the initialized store, clients and orchestrator shared
// by the run/ingest/status/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Ledger       *budget.Ledger
	Limiter      *ratelimit.Limiter
	Registry     *provider.Registry
	Orchestrator *pipeline.Orchestrator
	Runner       *stage.Runner
	Importer     *ingest.Importer
	Campaigns    *campaign.Manager
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline wires the store, budget ledger, rate limiter, provider
// registry and stage runner into an orchestrator. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Budget.Timezone)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrapf(err, "load budget timezone %q", cfg.Budget.Timezone)
	}
	ledger := budget.NewLedger(budget.Options{
		MonthlyCapUSD:  cfg.Budget.MonthlyUSD,
		AlertThreshold: cfg.Budget.AlertThreshold,
		HardStop:       cfg.Budget.HardStop,
		Location:       loc,
	}, st)
	if err := ledger.Prime(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	limiter := ratelimit.New(cfg.Providers.GlobalPerMinute)
	limiter.Configure("apollo", cfg.Providers.Apollo.RequestsPerMinute, cfg.Providers.Apollo.Burst)
	limiter.Configure("clearbit", cfg.Providers.Clearbit.RequestsPerMinute, cfg.Providers.Clearbit.Burst)
	limiter.Configure("hunter", cfg.Providers.Hunter.RequestsPerMinute, cfg.Providers.Hunter.Burst)
	limiter.Configure("prospeo", cfg.Providers.Prospeo.RequestsPerMinute, cfg.Providers.Prospeo.Burst)
	limiter.Configure("dropcontact", cfg.Providers.Dropcontact.RequestsPerMinute, cfg.Providers.Dropcontact.Burst)
	limiter.Configure("zerobounce", cfg.Providers.ZeroBounce.RequestsPerMinute, cfg.Providers.ZeroBounce.Burst)
	limiter.Configure("anthropic", cfg.Anthropic.RequestsPerMinute, 0)
	limiter.Configure("attio", cfg.Attio.RequestsPerMinute, 0)
	limiter.Configure("resend", cfg.Resend.RequestsPerMinute, 1)

	retryCfg := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMS,
		cfg.Retry.MaxBackoffMS, cfg.Retry.Multiplier, cfg.Retry.JitterFraction)
	registry := provider.BuildRegistry(cfg, retryCfg)
	resolver := cascade.NewResolver(registry, ledger, limiter, st, cfg.Cascade,
		time.Duration(cfg.Pipeline.CallTimeoutSecs)*time.Second)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	attioClient := attio.NewClient(cfg.Attio.BaseURL, cfg.Attio.Key)
	resendClient := resend.NewClient(cfg.Resend.BaseURL, cfg.Resend.Key, cfg.Resend.FromEmail, cfg.Resend.FromName)
	campaigns := campaign.NewManager(st, resendClient, limiter)

	runner := stage.NewRunner(stage.Deps{
		Store:     st,
		Resolver:  resolver,
		Scorer:    scorer.New(cfg.Scoring, cfg.ICP, cfg.Tiers),
		AI:        anthropicClient,
		AIConfig:  cfg.Anthropic,
		CRM:       attioClient,
		Campaigns: campaigns,
		Ledger:    ledger,
		Limiter:   limiter,
	}, cfg.Pipeline.MaxConcurrentLeads)

	zap.L().Info("pipeline initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.Strings("providers", registry.List()),
		zap.Float64("budget_cap_usd", cfg.Budget.MonthlyUSD),
	)

	return &pipelineEnv{
		Store:        st,
		Ledger:       ledger,
		Limiter:      limiter,
		Registry:     registry,
		Orchestrator: pipeline.New(st, runner, ledger),
		Runner:       runner,
		Importer:     ingest.New(st),
		Campaigns:    campaigns,
	}, nil
}
