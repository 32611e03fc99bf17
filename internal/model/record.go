package model

import "time"

// CallOutcome classifies one attempted provider call.
type CallOutcome string

const (
	CallSuccess      CallOutcome = "success"
	CallPartial      CallOutcome = "partial"
	CallFailed       CallOutcome = "fail"
	CallRateLimited  CallOutcome = "rate_limited"
	CallBudgetDenied CallOutcome = "budget_denied"
)

// ProviderCallRecord is one row per attempted external call. Append-only;
// never mutated after creation. A successful record for a lead+stage+category
// suppresses redundant calls on resume.
type ProviderCallRecord struct {
	ID            string        `json:"id"`
	Provider      string        `json:"provider"`
	LeadID        string        `json:"lead_id"`
	Stage         Stage         `json:"stage"`
	FieldCategory FieldCategory `json:"field_category"`
	CostUSD       float64       `json:"cost_usd"`
	Outcome       CallOutcome   `json:"outcome"`
	Error         string        `json:"error,omitempty"`
	DurationMS    int64         `json:"duration_ms"`
	CreatedAt     time.Time     `json:"created_at"`
}

// LeadTransition is one audit row of a lead status change. Written in the
// same transaction as the status update itself.
type LeadTransition struct {
	ID         string     `json:"id"`
	LeadID     string     `json:"lead_id"`
	FromStatus LeadStatus `json:"from_status"`
	ToStatus   LeadStatus `json:"to_status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// BudgetLedgerEntry is a monotonic cost posting keyed by provider and
// calendar month. The current-spend view is the sum of postings for the
// active month.
type BudgetLedgerEntry struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	CostUSD   float64   `json:"cost_usd"`
	LeadID    string    `json:"lead_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
