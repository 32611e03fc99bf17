package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// MemStore is an in-memory Store used by tests and dry runs. Safe for
// concurrent use; contents vanish on process exit.
type MemStore struct {
	mu          sync.Mutex
	leads       map[string]model.Lead
	transitions []model.LeadTransition
	calls       []model.ProviderCallRecord
	ledger      []model.BudgetLedgerEntry
	campaigns   map[string]model.Campaign
	sends       []campaignSend
}

type campaignSend struct {
	campaignID string
	leadID     string
	sentAt     time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		leads:     make(map[string]model.Lead),
		campaigns: make(map[string]model.Campaign),
	}
}

func (s *MemStore) Migrate(ctx context.Context) error { return nil }
func (s *MemStore) Ping(ctx context.Context) error    { return nil }
func (s *MemStore) Close() error                      { return nil }

func (s *MemStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = *lead
	return nil
}

func (s *MemStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &lead, nil
}

func (s *MemStore) FindLeadByIdentity(ctx context.Context, email, domain string) (*model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.leads {
		if (email != "" && lead.Contact.Email == email) || (domain != "" && lead.Domain == domain) {
			out := lead
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, lead := range s.leads {
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		if filter.Tier != "" && lead.Tier != filter.Tier {
			continue
		}
		out = append(out, lead)
	}
	sortLeads(out)
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemStore) EligibleLeads(ctx context.Context, stage model.Stage, limit int) ([]model.Lead, error) {
	leads, err := s.ListLeads(ctx, LeadFilter{Status: stage.EligibleStatus(), Limit: limit})
	return leads, err
}

func (s *MemStore) TransitionLead(ctx context.Context, lead *model.Lead, fromStatus model.LeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.leads[lead.ID]
	if !ok || current.Status != fromStatus {
		return ErrStaleTransition
	}
	s.leads[lead.ID] = *lead
	s.transitions = append(s.transitions, model.LeadTransition{
		ID:         uuid.NewString(),
		LeadID:     lead.ID,
		FromStatus: fromStatus,
		ToStatus:   lead.Status,
		CreatedAt:  lead.UpdatedAt,
	})
	return nil
}

// LeadTransitions returns the audit rows recorded for one lead. Test helper.
func (s *MemStore) LeadTransitions(leadID string) []model.LeadTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LeadTransition
	for _, tr := range s.transitions {
		if tr.LeadID == leadID {
			out = append(out, tr)
		}
	}
	return out
}

func (s *MemStore) CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.LeadStatus]int)
	for _, lead := range s.leads {
		out[lead.Status]++
	}
	return out, nil
}

func (s *MemStore) AppendCallRecord(ctx context.Context, rec model.ProviderCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec)
	return nil
}

func (s *MemStore) HasRecentSuccess(ctx context.Context, leadID, providerName string, category model.FieldCategory, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.calls {
		if rec.LeadID == leadID && rec.Provider == providerName &&
			rec.FieldCategory == category && rec.Outcome == model.CallSuccess &&
			rec.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ListCallRecords(ctx context.Context, leadID string) ([]model.ProviderCallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ProviderCallRecord
	for _, rec := range s.calls {
		if rec.LeadID == leadID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemStore) AppendLedgerEntry(ctx context.Context, entry model.BudgetLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, entry)
	return nil
}

func (s *MemStore) MonthToDateSpend(ctx context.Context, year, month int) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64)
	for _, entry := range s.ledger {
		if entry.Year == year && entry.Month == month {
			out[entry.Provider] += entry.CostUSD
		}
	}
	return out, nil
}

func (s *MemStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = *c
	return nil
}

func (s *MemStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	s.campaigns[c.ID] = *c
	return nil
}

func (s *MemStore) CampaignSendsToday(ctx context.Context, campaignID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	midnight := now.UTC().Truncate(24 * time.Hour)
	count := 0
	for _, send := range s.sends {
		if send.campaignID == campaignID && !send.sentAt.Before(midnight) {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) RecordCampaignSend(ctx context.Context, campaignID, leadID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, campaignSend{campaignID: campaignID, leadID: leadID, sentAt: at})
	return nil
}

var _ Store = (*MemStore)(nil)

func sortLeads(leads []model.Lead) {
	sort.Slice(leads, func(i, j int) bool {
		if leads[i].CreatedAt.Equal(leads[j].CreatedAt) {
			return leads[i].ID < leads[j].ID
		}
		return leads[i].CreatedAt.Before(leads[j].CreatedAt)
	})
}

// NewTestLead builds a minimal new-status lead. Test helper.
func NewTestLead(domain, email string) *model.Lead {
	now := time.Now()
	lead := &model.Lead{
		ID:          uuid.NewString(),
		Domain:      domain,
		Contact:     model.ContactAttrs{Email: email},
		EmailStatus: model.EmailPending,
		Status:      model.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	lead.MarkStageComplete(model.StageIngest, now)
	return lead
}
