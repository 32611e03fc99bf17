// Package cascade walks the configured provider priority order for one field
// category, merging results field by field. With stop_on_success set the walk
// ends as soon as the required fields are covered; otherwise every provider
// in the order is consulted for supplemental fields. Every attempt reserves
// budget first and takes
// a rate-limit permit second; a denial of either skips the provider without
// counting against its reliability.
package cascade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/provider"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// CallRecordStore persists the append-only audit trail of provider calls and
// answers the dedup question on resume.
type CallRecordStore interface {
	AppendCallRecord(ctx context.Context, rec model.ProviderCallRecord) error
	HasRecentSuccess(ctx context.Context, leadID, providerName string, category model.FieldCategory, since time.Time) (bool, error)
}

// Outcome is the merged result of one cascade walk.
type Outcome struct {
	Fields    provider.Fields
	Providers []string // providers that contributed at least one field
	CostUSD   float64
	Complete  bool // all required fields for the category resolved
}

// Resolver runs the cascade. Safe for concurrent use by pipeline workers.
type Resolver struct {
	registry *provider.Registry
	ledger   *budget.Ledger
	limiter  *ratelimit.Limiter
	records  CallRecordStore
	cfg      config.CascadeConfig
	timeout  time.Duration
	now      func() time.Time
}

// NewResolver wires the cascade against its collaborators. records may be nil
// in tests; dedup and auditing are then disabled.
func NewResolver(reg *provider.Registry, ledger *budget.Ledger, limiter *ratelimit.Limiter, records CallRecordStore, cfg config.CascadeConfig, callTimeout time.Duration) *Resolver {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Resolver{
		registry: reg,
		ledger:   ledger,
		limiter:  limiter,
		records:  records,
		cfg:      cfg,
		timeout:  callTimeout,
		now:      time.Now,
	}
}

// WithNow overrides the clock. For tests.
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.now = now
	return r
}

func (r *Resolver) order(category model.FieldCategory) []string {
	switch category {
	case model.CategoryCompany:
		return r.cfg.CompanyOrder
	case model.CategoryContact:
		return r.cfg.ContactOrder
	case model.CategoryEmail:
		return []string{r.cfg.EmailVerification}
	default:
		return nil
	}
}

// Resolve walks the priority order for the category. It returns a partial
// Outcome alongside a budget.ExhaustedError when the cap blocks remaining
// providers; callers must treat that as a run-level halt, not a lead failure.
func (r *Resolver) Resolve(ctx context.Context, stage model.Stage, id provider.Identity, category model.FieldCategory) (*Outcome, error) {
	out := &Outcome{Fields: provider.Fields{}}
	required := provider.RequiredFields(category)
	adapters := r.registry.Ordered(r.order(category), category)
	if len(adapters) == 0 {
		return out, eris.Errorf("cascade: no adapters configured for category %s", category)
	}

	for _, a := range adapters {
		if r.cfg.StopOnSuccess && covered(out.Fields, required) {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "cascade: context done")
		}

		if r.isDuplicate(ctx, id.LeadID, a.Name(), category) {
			zap.L().Debug("cascade: dedup skip",
				zap.String("provider", a.Name()),
				zap.String("lead_id", id.LeadID),
			)
			continue
		}

		res, err := r.ledger.Reserve(a.Name(), a.CostPerCall())
		if err != nil {
			if budget.IsExhausted(err) {
				r.record(ctx, id.LeadID, stage, a.Name(), category, 0, model.CallBudgetDenied, err, 0)
				out.Complete = covered(out.Fields, required)
				return out, err
			}
			return out, eris.Wrapf(err, "cascade: reserve budget for %s", a.Name())
		}

		if !r.admit(ctx, a.Name()) {
			r.ledger.Release(res)
			r.record(ctx, id.LeadID, stage, a.Name(), category, 0, model.CallRateLimited, nil, 0)
			continue
		}

		result, dur, err := r.call(ctx, a, id, category)
		if err != nil {
			r.ledger.Release(res)
			r.classifyFailure(ctx, id.LeadID, stage, a.Name(), category, dur, err)
			continue
		}

		if err := r.ledger.Commit(ctx, res, result.CostUSD, id.LeadID); err != nil {
			zap.L().Error("cascade: commit spend", zap.String("provider", a.Name()), zap.Error(err))
		}
		out.CostUSD += result.CostUSD

		added := mergeMissing(out.Fields, result.Fields)
		outcome := model.CallSuccess
		if added == 0 {
			outcome = model.CallPartial
		}
		r.record(ctx, id.LeadID, stage, a.Name(), category, result.CostUSD, outcome, nil, dur)
		if added > 0 {
			out.Providers = append(out.Providers, a.Name())
		}
	}

	out.Complete = covered(out.Fields, required)
	return out, nil
}

// admit takes a rate-limit permit, either skipping or waiting per config.
func (r *Resolver) admit(ctx context.Context, providerName string) bool {
	d := r.limiter.Acquire(providerName)
	if d.Allowed {
		return true
	}
	if !r.cfg.WaitForRateLimit {
		zap.L().Debug("cascade: rate limited, skipping provider",
			zap.String("provider", providerName),
			zap.Time("retry_at", d.RetryAt),
		)
		return false
	}
	if err := r.limiter.Wait(ctx, providerName); err != nil {
		return false
	}
	return true
}

func (r *Resolver) call(ctx context.Context, a provider.Adapter, id provider.Identity, category model.FieldCategory) (*provider.Result, int64, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := r.now()
	result, err := a.Lookup(cctx, id, category)
	dur := r.now().Sub(start).Milliseconds()
	if err != nil {
		return nil, dur, err
	}
	return result, dur, nil
}

func (r *Resolver) classifyFailure(ctx context.Context, leadID string, stage model.Stage, providerName string, category model.FieldCategory, dur int64, err error) {
	outcome := model.CallFailed
	if resilience.IsQuotaError(err) {
		outcome = model.CallRateLimited
	}
	switch {
	case errors.Is(err, provider.ErrNoData):
		zap.L().Debug("cascade: no data", zap.String("provider", providerName), zap.String("lead_id", leadID))
	default:
		zap.L().Warn("cascade: provider call failed",
			zap.String("provider", providerName),
			zap.String("lead_id", leadID),
			zap.String("category", string(category)),
			zap.Error(err),
		)
	}
	r.record(ctx, leadID, stage, providerName, category, 0, outcome, err, dur)
}

func (r *Resolver) isDuplicate(ctx context.Context, leadID, providerName string, category model.FieldCategory) bool {
	if r.records == nil || r.cfg.DedupTTLHours <= 0 {
		return false
	}
	since := r.now().Add(-time.Duration(r.cfg.DedupTTLHours) * time.Hour)
	dup, err := r.records.HasRecentSuccess(ctx, leadID, providerName, category, since)
	if err != nil {
		zap.L().Warn("cascade: dedup lookup failed", zap.Error(err))
		return false
	}
	return dup
}

func (r *Resolver) record(ctx context.Context, leadID string, stage model.Stage, providerName string, category model.FieldCategory, cost float64, outcome model.CallOutcome, callErr error, dur int64) {
	if r.records == nil {
		return
	}
	rec := model.ProviderCallRecord{
		ID:            uuid.NewString(),
		Provider:      providerName,
		LeadID:        leadID,
		Stage:         stage,
		FieldCategory: category,
		CostUSD:       cost,
		Outcome:       outcome,
		DurationMS:    dur,
		CreatedAt:     r.now(),
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	if err := r.records.AppendCallRecord(ctx, rec); err != nil {
		zap.L().Error("cascade: append call record", zap.Error(err))
	}
}

// mergeMissing copies keys from src that dst does not yet have, returning how
// many were added. Earlier providers in the order win on conflicts.
func mergeMissing(dst, src provider.Fields) int {
	added := 0
	for k, v := range src {
		if _, ok := dst[k]; ok {
			continue
		}
		dst[k] = v
		added++
	}
	return added
}

func covered(fields provider.Fields, required []string) bool {
	for _, k := range required {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}
