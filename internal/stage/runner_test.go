package stage

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/budget"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/campaign"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/cascade"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/provider"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/scorer"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/anthropic"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/attio"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/resend"
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

type fakeAI struct {
	text  string
	err   error
	calls int
}

func (f *fakeAI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func (f *fakeAI) CreateBatch(ctx context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	return nil, eris.New("not implemented")
}

func (f *fakeAI) GetBatch(ctx context.Context, batchID string) (*anthropic.BatchResponse, error) {
	return nil, eris.New("not implemented")
}

func (f *fakeAI) GetBatchResults(ctx context.Context, batchID string) (anthropic.BatchResultIterator, error) {
	return nil, eris.New("not implemented")
}

type fakeCRM struct {
	companies int
	people    int
	notes     int
	err       error
}

func (f *fakeCRM) UpsertCompany(ctx context.Context, rec attio.CompanyRecord) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.companies++
	return "company-1", nil
}

func (f *fakeCRM) UpsertPerson(ctx context.Context, rec attio.PersonRecord) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.people++
	return "person-1", nil
}

func (f *fakeCRM) CreateNote(ctx context.Context, parentObject, recordID, title, content string) error {
	f.notes++
	return nil
}

type fakeSender struct {
	sent int
}

func (f *fakeSender) Send(ctx context.Context, email resend.Email) (string, error) {
	f.sent++
	return "msg-1", nil
}

func testDeps(mem *store.MemStore) Deps {
	weights := config.ScoringConfig{
		IndustryMatch: 25, RevenueFit: 20, TechStackMatch: 20,
		EmployeeFit: 15, GeographyMatch: 10, TitleMatch: 10, MaxScore: 100,
	}
	icp := config.ICPConfig{
		TargetIndustries: []string{"Software"},
		MinEmployees:     50, MaxEmployees: 1000,
		MinRevenue: 5_000_000, MaxRevenue: 100_000_000,
		TargetCountries: []string{"US"},
		TargetTitles:    []string{"VP"},
	}
	return Deps{
		Store:   mem,
		Scorer:  scorer.New(weights, icp, config.TierConfig{HighTouchMin: 80, StandardMin: 40}),
		Ledger:  budget.NewLedger(budget.Options{MonthlyCapUSD: 100, HardStop: true}, nil),
		Limiter: ratelimit.New(0),
		AIConfig: config.AnthropicConfig{
			Model:          "claude-haiku-4-5-20251001",
			MaxTokens:      500,
			CostPerRequest: 0.002,
		},
	}
}

func withResolver(d *Deps, records cascade.CallRecordStore, adapters ...provider.Adapter) {
	reg := provider.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	d.Resolver = cascade.NewResolver(reg, d.Ledger, d.Limiter, records, config.CascadeConfig{
		CompanyOrder:      []string{"apollo"},
		ContactOrder:      []string{"apollo"},
		EmailVerification: "zerobounce",
	}, time.Second)
}

// leadAt builds a lead whose status makes it eligible for the given stage.
func leadAt(st model.Stage) *model.Lead {
	lead := store.NewTestLead("acme.io", "ada@acme.io")
	lead.Contact.FirstName = "Ada"
	lead.Contact.LastName = "Lovelace"
	now := time.Now()
	for s := model.StageCompanyEnrich; s < st; s++ {
		lead.MarkStageComplete(s, now)
	}
	return lead
}

func TestEnrichCompanyAdvancesLead(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	withResolver(&deps, mem, &fakeAdapter{
		name: "apollo",
		caps: []model.FieldCategory{model.CategoryCompany},
		cost: 0.03,
		fields: provider.Fields{
			"name": "Acme", "industry": "Software", "employee_count": 120,
		},
	})
	lead := leadAt(model.StageCompanyEnrich)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageCompanyEnrich, []model.Lead{*lead})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.InDelta(t, 0.03, report.CostUSD, 1e-9)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompanyEnrich.CompletionStatus(), stored.Status)
	assert.Equal(t, "Acme", stored.Company.Name)
	require.NotNil(t, stored.Company.EmployeeCount)
	assert.Equal(t, 120, *stored.Company.EmployeeCount)
}

func TestEnrichCompanyNoDataFailsLead(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	withResolver(&deps, mem, &fakeAdapter{
		name: "apollo",
		caps: []model.FieldCategory{model.CategoryCompany},
		err:  provider.ErrNoData,
	})
	lead := leadAt(model.StageCompanyEnrich)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageCompanyEnrich, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestVerifyEmailMapsStatus(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	withResolver(&deps, mem, &fakeAdapter{
		name:   "zerobounce",
		caps:   []model.FieldCategory{model.CategoryEmail},
		cost:   0.008,
		fields: provider.Fields{"email_status": model.EmailValid},
	})
	lead := leadAt(model.StageEmailVerify)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageEmailVerify, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailValid, stored.EmailStatus)
	assert.NotNil(t, stored.EmailVerifiedAt)
	assert.Equal(t, model.StageEmailVerify.CompletionStatus(), stored.Status)
}

func TestScoreStageTiersLead(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	lead := leadAt(model.StageScore)
	lead.Company.Industry = "Software"
	count := 200
	lead.Company.EmployeeCount = &count
	lead.Company.HQCountry = "US"
	lead.Contact.Title = "VP Engineering"
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageScore, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageScore.CompletionStatus(), stored.Status)
	assert.Equal(t, model.TierStandard, stored.Tier)
	require.NotNil(t, stored.Score)
	assert.InDelta(t, 60, *stored.Score, 1e-9)
	assert.NotEmpty(t, stored.ScoreBreakdown)
}

func TestScoreStageDisqualifiesBareLead(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	lead := leadAt(model.StageScore)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageScore, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisqualified, stored.Status)
	assert.Equal(t, model.TierUnqualified, stored.Tier)
	assert.Nil(t, stored.Score)
}

func TestIneligibleLeadIsIdempotentNoOp(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	lead := store.NewTestLead("acme.io", "ada@acme.io") // status new
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageScore, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, stored.Status)
}

func TestLostTransitionRaceCountsAsSuccess(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)

	lead := leadAt(model.StageScore)
	lead.Company.Industry = "Software"
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	// Another worker advances the stored copy first.
	advanced := *lead
	advanced.MarkStageComplete(model.StageScore, time.Now())
	require.NoError(t, mem.TransitionLead(context.Background(), &advanced, lead.Status))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageScore, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageScore.CompletionStatus(), stored.Status)
}

func TestBudgetExhaustionHaltsBatch(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.Ledger = budget.NewLedger(budget.Options{MonthlyCapUSD: 0.001, HardStop: true}, nil)
	withResolver(&deps, mem, &fakeAdapter{
		name: "apollo",
		caps: []model.FieldCategory{model.CategoryCompany},
		cost: 0.03,
		fields: provider.Fields{
			"name": "Acme", "industry": "Software", "employee_count": 120,
		},
	})

	leads := make([]model.Lead, 0, 2)
	for i := 0; i < 2; i++ {
		lead := leadAt(model.StageCompanyEnrich)
		require.NoError(t, mem.CreateLead(context.Background(), lead))
		leads = append(leads, *lead)
	}

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageCompanyEnrich, leads)
	require.Error(t, err)
	assert.True(t, budget.IsExhausted(err))
	assert.Equal(t, 2, report.Errored+report.BudgetSkipped)
	assert.Zero(t, report.Succeeded)
}

func TestResearchStageGeneratesSummary(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.AI = &fakeAI{text: "Acme builds widgets. They are hiring, so timing is good."}

	lead := leadAt(model.StageResearch)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageResearch, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	// Zero reported usage falls back to the configured per-request cost.
	assert.InDelta(t, 0.002, report.CostUSD, 1e-9)
	assert.InDelta(t, 0.002, deps.Ledger.Status().ByProvider["anthropic"], 1e-9)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme builds widgets. They are hiring, so timing is good.", stored.ResearchSummary)
	assert.Equal(t, model.StageResearch.CompletionStatus(), stored.Status)
}

func TestMessageStageParsesVariants(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.AI = &fakeAI{text: `Here you go: {"high_touch":"Hi Ada","standard":"Hello","nurture":"Hey"}`}

	lead := leadAt(model.StageMessage)
	lead.Tier = model.TierStandard
	lead.ResearchSummary = "Acme builds widgets."
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageMessage, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", stored.EmailVariants["high_touch"])
	assert.Equal(t, "Hey", stored.EmailVariants["nurture"])
}

func TestMessageStageRejectsBadModelOutput(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.AI = &fakeAI{text: "sorry, I cannot help with that"}

	lead := leadAt(model.StageMessage)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageMessage, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)

	// Status unchanged: the lead stays eligible for the next run.
	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageMessage.EligibleStatus(), stored.Status)
}

func TestSyncCRMUpsertsAndNotes(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	crm := &fakeCRM{}
	deps.CRM = crm

	lead := leadAt(model.StageCRMSync)
	lead.ResearchSummary = "Acme builds widgets."
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageCRMSync, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, crm.companies)
	assert.Equal(t, 1, crm.people)
	assert.Equal(t, 1, crm.notes)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "person-1", stored.CRMRecordID)
	assert.NotNil(t, stored.SyncedAt)
}

func TestSyncCRMOutageLeavesLeadEligible(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.CRM = &fakeCRM{err: &attio.UnavailableError{StatusCode: 503, Err: eris.New("upstream down")}}

	lead := leadAt(model.StageCRMSync)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageCRMSync, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCRMSync.EligibleStatus(), stored.Status)
}

func TestSendCampaignStage(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	mgr := campaign.NewManager(mem, &fakeSender{}, nil)
	deps.Campaigns = mgr

	ctx := context.Background()
	c := &model.Campaign{
		Name:            "Standard outreach",
		TargetTier:      model.TierStandard,
		SubjectTemplate: "Hi {{.FirstName}}",
		BodyTemplate:    "{{.Body}}",
	}
	require.NoError(t, mgr.Create(ctx, c))
	_, err := mgr.Transition(ctx, c.ID, model.CampaignActive)
	require.NoError(t, err)

	lead := leadAt(model.StageCampaign)
	lead.Tier = model.TierStandard
	score := 55.0
	lead.Score = &score
	lead.EmailStatus = model.EmailValid
	lead.EmailVariants = map[string]string{"standard": "Hello"}
	require.NoError(t, mem.CreateLead(ctx, lead))

	report, err := NewRunner(deps, 1).Execute(ctx, model.StageCampaign, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	stored, err := mem.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCampaigned, stored.Status)
	assert.Equal(t, c.ID, stored.CampaignID)
}

func TestUnqualifiedLeadSkipsPaidStages(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	ai := &fakeAI{text: "should never be asked"}
	deps.AI = ai

	// A prior run tiered the lead unqualified but lost the race to flip the
	// status, so it shows up eligible for research.
	lead := leadAt(model.StageResearch)
	lead.Tier = model.TierUnqualified
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageResearch, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Zero(t, ai.calls, "no paid call for an unqualified lead")
	assert.Zero(t, report.CostUSD)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisqualified, stored.Status)
}

func TestBudgetHaltKeepsPartialEnrichment(t *testing.T) {
	mem := store.NewMemStore()
	ctx := context.Background()

	apollo := &fakeAdapter{
		name:   "apollo",
		caps:   []model.FieldCategory{model.CategoryCompany},
		cost:   0.6,
		fields: provider.Fields{"name": "Acme", "industry": "Software"},
	}
	clearbit := &fakeAdapter{
		name:   "clearbit",
		caps:   []model.FieldCategory{model.CategoryCompany},
		cost:   0.5,
		fields: provider.Fields{"name": "Acme Corp", "industry": "Data", "employee_count": 300},
	}
	reg := provider.NewRegistry()
	reg.Register(apollo)
	reg.Register(clearbit)
	cascadeCfg := config.CascadeConfig{
		CompanyOrder:  []string{"apollo", "clearbit"},
		StopOnSuccess: true,
		DedupTTLHours: 720,
	}

	// The cap covers apollo but not clearbit, so the cascade halts after one
	// paid call.
	deps := testDeps(mem)
	deps.Ledger = budget.NewLedger(budget.Options{MonthlyCapUSD: 1.0, HardStop: true}, nil)
	deps.Resolver = cascade.NewResolver(reg, deps.Ledger, deps.Limiter, mem, cascadeCfg, time.Second)

	lead := leadAt(model.StageCompanyEnrich)
	require.NoError(t, mem.CreateLead(ctx, lead))

	report, err := NewRunner(deps, 1).Execute(ctx, model.StageCompanyEnrich, []model.Lead{*lead})
	require.Error(t, err)
	assert.True(t, budget.IsExhausted(err))
	assert.Equal(t, 1, report.Errored)

	stored, err := mem.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompanyEnrich.EligibleStatus(), stored.Status, "lead stays eligible")
	assert.Equal(t, "Acme", stored.Company.Name, "paid fields survive the halt")
	assert.Equal(t, "Software", stored.Company.Industry)
	assert.Nil(t, stored.Company.EmployeeCount)

	// Next month the cap resets. Dedup skips apollo, clearbit fills the gap,
	// and the fields already bought are not overwritten.
	deps2 := testDeps(mem)
	deps2.Resolver = cascade.NewResolver(reg, deps2.Ledger, deps2.Limiter, mem, cascadeCfg, time.Second)

	report, err = NewRunner(deps2, 1).Execute(ctx, model.StageCompanyEnrich, []model.Lead{*stored})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, apollo.calls, "dedup spares the provider already paid")
	assert.Equal(t, 1, clearbit.calls)

	stored, err = mem.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompanyEnrich.CompletionStatus(), stored.Status)
	assert.Equal(t, "Acme", stored.Company.Name)
	assert.Equal(t, "Software", stored.Company.Industry)
	require.NotNil(t, stored.Company.EmployeeCount)
	assert.Equal(t, 300, *stored.Company.EmployeeCount)
}

func TestNilDependenciesErrorWithoutPanic(t *testing.T) {
	mem := store.NewMemStore()
	ctx := context.Background()

	t.Run("resolver", func(t *testing.T) {
		deps := testDeps(mem) // no resolver wired
		lead := leadAt(model.StageCompanyEnrich)
		require.NoError(t, mem.CreateLead(ctx, lead))

		report, err := NewRunner(deps, 1).Execute(ctx, model.StageCompanyEnrich, []model.Lead{*lead})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Errored)

		stored, err := mem.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageCompanyEnrich.EligibleStatus(), stored.Status)
	})

	t.Run("scorer", func(t *testing.T) {
		deps := testDeps(mem)
		deps.Scorer = nil
		lead := leadAt(model.StageScore)
		require.NoError(t, mem.CreateLead(ctx, lead))

		report, err := NewRunner(deps, 1).Execute(ctx, model.StageScore, []model.Lead{*lead})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Errored)
	})
}

func TestDuplicateLeadIDsProcessedOnce(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	apollo := &fakeAdapter{
		name: "apollo",
		caps: []model.FieldCategory{model.CategoryCompany},
		cost: 0.03,
		fields: provider.Fields{
			"name": "Acme", "industry": "Software", "employee_count": 120,
		},
	}
	withResolver(&deps, mem, apollo)

	lead := leadAt(model.StageCompanyEnrich)
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 4).Execute(context.Background(), model.StageCompanyEnrich,
		[]model.Lead{*lead, *lead, *lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, apollo.calls)

	// Exactly one audit row for the single transition.
	assert.Len(t, mem.LeadTransitions(lead.ID), 1)
}

func TestSendCampaignNoMatchLeavesLeadEligible(t *testing.T) {
	mem := store.NewMemStore()
	deps := testDeps(mem)
	deps.Campaigns = campaign.NewManager(mem, &fakeSender{}, nil)

	lead := leadAt(model.StageCampaign)
	lead.Tier = model.TierNurture
	require.NoError(t, mem.CreateLead(context.Background(), lead))

	report, err := NewRunner(deps, 1).Execute(context.Background(), model.StageCampaign, []model.Lead{*lead})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)

	stored, err := mem.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageCampaign.EligibleStatus(), stored.Status)
}
