package model

import "time"

// LeadOutcome is a lead's per-stage result. Failure is a data-quality
// terminal outcome for that lead at that stage; Error is transient and
// retried on the next orchestrator invocation.
type LeadOutcome string

const (
	OutcomeSuccess LeadOutcome = "success"
	OutcomePartial LeadOutcome = "partial"
	OutcomeFailure LeadOutcome = "failure"
	OutcomeError   LeadOutcome = "error"
)

// RunStatus is the overall result of one orchestrator run.
type RunStatus string

const (
	RunCompleted       RunStatus = "completed"
	RunBudgetExhausted RunStatus = "budget_exhausted"
	RunAborted         RunStatus = "aborted"
)

// StageReport aggregates per-lead outcomes for one stage of a run.
type StageReport struct {
	Stage         Stage   `json:"stage"`
	Processed     int     `json:"processed"`
	Succeeded     int     `json:"succeeded"`
	Partial       int     `json:"partial"`
	Failed        int     `json:"failed"`
	Errored       int     `json:"errored"`
	BudgetSkipped int     `json:"budget_skipped"`
	CostUSD       float64 `json:"cost_usd"`
	DurationMS    int64   `json:"duration_ms"`
}

// RunReport is the aggregate result of one pipeline run. It is always
// returned, even on partial failure.
type RunReport struct {
	StartStage Stage         `json:"start_stage"`
	EndStage   Stage         `json:"end_stage"`
	Status     RunStatus     `json:"status"`
	Stages     []StageReport `json:"stages"`
	TotalCost  float64       `json:"total_cost_usd"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// AddStage appends a stage report and accumulates total cost.
func (r *RunReport) AddStage(sr StageReport) {
	r.Stages = append(r.Stages, sr)
	r.TotalCost += sr.CostUSD
}
