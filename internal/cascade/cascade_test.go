package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/provider"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
)

type fakeAdapter struct {
	name   string
	caps   []model.FieldCategory
	cost   float64
	fields provider.Fields
	err    error
	calls  int
}

func (f *fakeAdapter) Name() string                        { return f.name }
func (f *fakeAdapter) Capabilities() []model.FieldCategory { return f.caps }
func (f *fakeAdapter) CostPerCall() float64                { return f.cost }

func (f *fakeAdapter) Lookup(ctx context.Context, id provider.Identity, category model.FieldCategory) (*provider.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	fields := provider.Fields{}
	for k, v := range f.fields {
		fields[k] = v
	}
	return &provider.Result{Provider: f.name, Fields: fields, CostUSD: f.cost}, nil
}

func companyAdapter(name string, cost float64, fields provider.Fields) *fakeAdapter {
	return &fakeAdapter{
		name:   name,
		caps:   []model.FieldCategory{model.CategoryCompany},
		cost:   cost,
		fields: fields,
	}
}

type fixture struct {
	registry *provider.Registry
	ledger   *budget.Ledger
	limiter  *ratelimit.Limiter
	records  *store.MemStore
	cfg      config.CascadeConfig
}

func newFixture(adapters ...provider.Adapter) *fixture {
	f := &fixture{
		registry: provider.NewRegistry(),
		ledger:   budget.NewLedger(budget.Options{MonthlyCapUSD: 100, HardStop: true}, nil),
		limiter:  ratelimit.New(0),
		records:  store.NewMemStore(),
		cfg: config.CascadeConfig{
			CompanyOrder:  []string{"apollo", "clearbit"},
			ContactOrder:  []string{"apollo", "hunter"},
			StopOnSuccess: true,
			DedupTTLHours: 720,
		},
	}
	for _, a := range adapters {
		f.registry.Register(a)
	}
	return f
}

func (f *fixture) resolver() *Resolver {
	return NewResolver(f.registry, f.ledger, f.limiter, f.records, f.cfg, time.Second)
}

var testID = provider.Identity{LeadID: "lead-1", Domain: "acme.io"}

func fullCompanyFields() provider.Fields {
	return provider.Fields{"name": "Acme", "industry": "Software", "employee_count": 120}
}

func TestShortCircuitSkipsLaterProviders(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, fullCompanyFields())
	clearbit := companyAdapter("clearbit", 0.10, fullCompanyFields())
	f := newFixture(apollo, clearbit)

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.True(t, out.Complete)
	assert.Equal(t, []string{"apollo"}, out.Providers)
	assert.InDelta(t, 0.03, out.CostUSD, 1e-9)
	assert.Equal(t, 1, apollo.calls)
	assert.Equal(t, 0, clearbit.calls, "second provider must not be called once required fields are covered")
	assert.InDelta(t, 0.03, f.ledger.Status().SpentUSD, 1e-9)
}

func TestStopOnSuccessDisabledConsultsEveryProvider(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, fullCompanyFields())
	clearbit := companyAdapter("clearbit", 0.10, provider.Fields{"name": "Acme Inc", "revenue": 12_000_000.0})
	f := newFixture(apollo, clearbit)
	f.cfg.StopOnSuccess = false

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.True(t, out.Complete)
	assert.Equal(t, 1, apollo.calls)
	assert.Equal(t, 1, clearbit.calls, "full walk gathers supplemental fields")
	assert.Equal(t, 12_000_000.0, out.Fields["revenue"])
	assert.Equal(t, "Acme", out.Fields["name"], "earlier provider still wins conflicts")
	assert.InDelta(t, 0.13, out.CostUSD, 1e-9)
}

func TestFieldLevelMergeFirstWriterWins(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, provider.Fields{"name": "Acme", "industry": "Software"})
	clearbit := companyAdapter("clearbit", 0.10, provider.Fields{"industry": "Tech", "employee_count": 120})
	f := newFixture(apollo, clearbit)

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.True(t, out.Complete)
	assert.Equal(t, "Software", out.Fields["industry"], "earlier provider wins conflicting fields")
	assert.Equal(t, 120, out.Fields["employee_count"])
	assert.Equal(t, []string{"apollo", "clearbit"}, out.Providers)
	assert.InDelta(t, 0.13, out.CostUSD, 1e-9)
}

func TestNoDataFallsThroughWithoutSpend(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, nil)
	apollo.err = provider.ErrNoData
	clearbit := companyAdapter("clearbit", 0.10, fullCompanyFields())
	f := newFixture(apollo, clearbit)

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.True(t, out.Complete)
	assert.Equal(t, []string{"clearbit"}, out.Providers)
	assert.InDelta(t, 0.10, out.CostUSD, 1e-9)
	// Failed calls never commit spend.
	assert.InDelta(t, 0.10, f.ledger.Status().SpentUSD, 1e-9)

	recs, err := f.records.ListCallRecords(context.Background(), "lead-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.CallFailed, recs[0].Outcome)
	assert.Equal(t, model.CallSuccess, recs[1].Outcome)
}

func TestRateLimitDenialSkipsProvider(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, fullCompanyFields())
	clearbit := companyAdapter("clearbit", 0.10, fullCompanyFields())
	f := newFixture(apollo, clearbit)
	f.limiter.Configure("apollo", 60, 1)
	f.limiter.Acquire("apollo") // drain the only token

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.Equal(t, 0, apollo.calls)
	assert.Equal(t, []string{"clearbit"}, out.Providers)
	assert.True(t, out.Complete)

	recs, err := f.records.ListCallRecords(context.Background(), "lead-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.CallRateLimited, recs[0].Outcome)
	assert.Zero(t, recs[0].CostUSD)
	// The skip released its hold; nothing stays reserved.
	assert.InDelta(t, 0.0, f.ledger.Status().ReservedUSD, 1e-9)
}

func TestBudgetExhaustionHaltsCascade(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, fullCompanyFields())
	f := newFixture(apollo)
	f.ledger = budget.NewLedger(budget.Options{MonthlyCapUSD: 0.01, HardStop: true}, nil)

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.Error(t, err)
	assert.True(t, budget.IsExhausted(err))
	assert.False(t, out.Complete)
	assert.Equal(t, 0, apollo.calls)

	recs, listErr := f.records.ListCallRecords(context.Background(), "lead-1")
	require.NoError(t, listErr)
	require.Len(t, recs, 1)
	assert.Equal(t, model.CallBudgetDenied, recs[0].Outcome)
}

func TestDedupSkipsRecentlySucceededProvider(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, fullCompanyFields())
	clearbit := companyAdapter("clearbit", 0.10, fullCompanyFields())
	f := newFixture(apollo, clearbit)
	require.NoError(t, f.records.AppendCallRecord(context.Background(), model.ProviderCallRecord{
		ID:            "prior",
		Provider:      "apollo",
		LeadID:        "lead-1",
		Stage:         model.StageCompanyEnrich,
		FieldCategory: model.CategoryCompany,
		Outcome:       model.CallSuccess,
		CreatedAt:     time.Now().Add(-time.Hour),
	}))

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.Equal(t, 0, apollo.calls, "recent success within the dedup TTL suppresses the call")
	assert.Equal(t, 1, clearbit.calls)
	assert.Equal(t, []string{"clearbit"}, out.Providers)
}

func TestRedundantFieldsRecordedAsPartial(t *testing.T) {
	apollo := companyAdapter("apollo", 0.03, provider.Fields{"name": "Acme"})
	clearbit := companyAdapter("clearbit", 0.10, provider.Fields{"name": "Acme Inc"})
	f := newFixture(apollo, clearbit)

	out, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	require.NoError(t, err)

	assert.False(t, out.Complete)
	assert.Equal(t, []string{"apollo"}, out.Providers)

	recs, err := f.records.ListCallRecords(context.Background(), "lead-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.CallSuccess, recs[0].Outcome)
	assert.Equal(t, model.CallPartial, recs[1].Outcome)
}

func TestNoAdaptersConfigured(t *testing.T) {
	f := newFixture()
	_, err := f.resolver().Resolve(context.Background(), model.StageCompanyEnrich, testID, model.CategoryCompany)
	assert.Error(t, err)
}
