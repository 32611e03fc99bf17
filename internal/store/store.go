// Package store persists leads, provider call records, budget postings and
// campaigns. Two backends: Postgres via pgxpool for deployments, SQLite via
// modernc.org/sqlite for local runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// ErrStaleTransition is returned when a lead status transition loses an
// optimistic-concurrency check: another worker already moved the lead.
var ErrStaleTransition = eris.New("store: stale lead transition")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Status model.LeadStatus `json:"status,omitempty"`
	Tier   model.Tier       `json:"tier,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	FindLeadByIdentity(ctx context.Context, email, domain string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	// EligibleLeads returns leads whose status admits them to the stage,
	// oldest first.
	EligibleLeads(ctx context.Context, stage model.Stage, limit int) ([]model.Lead, error)
	// TransitionLead persists the lead's new state and appends a status
	// transition audit row in the same transaction. The update only applies
	// while the stored status still equals fromStatus; a lost race returns
	// ErrStaleTransition.
	TransitionLead(ctx context.Context, lead *model.Lead, fromStatus model.LeadStatus) error
	CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error)

	// Provider call audit trail
	AppendCallRecord(ctx context.Context, rec model.ProviderCallRecord) error
	HasRecentSuccess(ctx context.Context, leadID, providerName string, category model.FieldCategory, since time.Time) (bool, error)
	ListCallRecords(ctx context.Context, leadID string) ([]model.ProviderCallRecord, error)

	// Budget ledger
	AppendLedgerEntry(ctx context.Context, entry model.BudgetLedgerEntry) error
	MonthToDateSpend(ctx context.Context, year, month int) (map[string]float64, error)

	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context) ([]model.Campaign, error)
	UpdateCampaign(ctx context.Context, c *model.Campaign) error
	// CampaignSendsToday counts emails sent for the campaign since midnight
	// UTC, for daily-limit enforcement.
	CampaignSendsToday(ctx context.Context, campaignID string, now time.Time) (int, error)
	RecordCampaignSend(ctx context.Context, campaignID, leadID string, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
