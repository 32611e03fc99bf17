// Package pipeline orchestrates stage execution over ranges of the fixed
// nine-stage sequence. The orchestrator selects eligible leads per stage,
// delegates to the stage Runner, and assembles the run report.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/stage"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
)

// ConfigError reports an invalid run request. No provider calls are made and
// no lead state changes when one is returned.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pipeline: invalid run config: %s", e.Reason)
}

// IsConfigError returns true if the error chain contains a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return eris.As(err, &ce)
}

// Options selects what a run covers.
type Options struct {
	StartStage model.Stage
	EndStage   model.Stage
	// LeadIDs restricts the run to specific leads. Empty means every
	// eligible lead.
	LeadIDs []string
	// Limit caps leads per stage. Zero means no cap.
	Limit int
}

// Orchestrator drives multi-stage runs.
type Orchestrator struct {
	store  store.Store
	runner *stage.Runner
	ledger *budget.Ledger
	now    func() time.Time
}

// New creates an Orchestrator.
func New(s store.Store, runner *stage.Runner, ledger *budget.Ledger) *Orchestrator {
	return &Orchestrator{store: s, runner: runner, ledger: ledger, now: time.Now}
}

// WithNow overrides the clock. For tests.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

func validate(opts Options) error {
	if !opts.StartStage.Valid() {
		return &ConfigError{Reason: fmt.Sprintf("start stage %d out of range", int(opts.StartStage))}
	}
	if !opts.EndStage.Valid() {
		return &ConfigError{Reason: fmt.Sprintf("end stage %d out of range", int(opts.EndStage))}
	}
	if opts.StartStage > opts.EndStage {
		return &ConfigError{Reason: fmt.Sprintf("start stage %s after end stage %s", opts.StartStage, opts.EndStage)}
	}
	if opts.Limit < 0 {
		return &ConfigError{Reason: "negative lead limit"}
	}
	return nil
}

// Run executes stages StartStage..EndStage in order. A report is always
// returned, also when the budget cap or a context cancellation cuts the run
// short. Re-running with the same options is safe: leads already advanced
// are not reprocessed.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.RunReport, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	report := &model.RunReport{
		StartStage: opts.StartStage,
		EndStage:   opts.EndStage,
		Status:     model.RunCompleted,
		StartedAt:  o.now(),
	}
	defer func() { report.FinishedAt = o.now() }()

	if o.ledger.Exhausted() {
		report.Status = model.RunBudgetExhausted
		zap.L().Warn("pipeline: budget exhausted before run start")
		return report, nil
	}

	zap.L().Info("pipeline: run starting",
		zap.Stringer("start_stage", opts.StartStage),
		zap.Stringer("end_stage", opts.EndStage),
		zap.Int("limit", opts.Limit),
	)

	for st := opts.StartStage; st <= opts.EndStage; st++ {
		if st == model.StageIngest {
			// File import runs through the ingest command, not the stage
			// loop.
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Status = model.RunAborted
			return report, eris.Wrap(err, "pipeline: run canceled")
		}

		leads, err := o.selectLeads(ctx, st, opts)
		if err != nil {
			report.Status = model.RunAborted
			return report, err
		}
		if len(leads) == 0 {
			zap.L().Debug("pipeline: no eligible leads", zap.Stringer("stage", st))
			continue
		}

		sr, err := o.runner.Execute(ctx, st, leads)
		report.AddStage(sr)
		if err != nil {
			if budget.IsExhausted(err) {
				report.Status = model.RunBudgetExhausted
				zap.L().Warn("pipeline: halting run, budget exhausted",
					zap.Stringer("stage", st),
					zap.Float64("run_cost_usd", report.TotalCost),
				)
				return report, nil
			}
			report.Status = model.RunAborted
			return report, err
		}
	}

	zap.L().Info("pipeline: run finished",
		zap.String("status", string(report.Status)),
		zap.Float64("total_cost_usd", report.TotalCost),
	)
	return report, nil
}

// selectLeads returns the stage's eligible leads, optionally narrowed to the
// requested lead ids.
func (o *Orchestrator) selectLeads(ctx context.Context, st model.Stage, opts Options) ([]model.Lead, error) {
	if len(opts.LeadIDs) > 0 {
		eligible := st.EligibleStatus()
		out := make([]model.Lead, 0, len(opts.LeadIDs))
		for _, id := range opts.LeadIDs {
			lead, err := o.store.GetLead(ctx, id)
			if err != nil {
				if eris.Is(err, store.ErrNotFound) {
					return nil, &ConfigError{Reason: fmt.Sprintf("lead %s not found", id)}
				}
				return nil, err
			}
			if lead.Status == eligible {
				out = append(out, *lead)
			}
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return out, nil
	}
	return o.store.EligibleLeads(ctx, st, opts.Limit)
}
