package model

import "time"

// LeadStatus tracks a lead's progress through the pipeline. The status only
// ever advances along the fixed stage order or moves to a terminal state.
type LeadStatus string

const (
	StatusNew              LeadStatus = "new"
	StatusEnrichingCompany LeadStatus = "enriching_company"
	StatusEnrichingContact LeadStatus = "enriching_contact"
	StatusVerifying        LeadStatus = "verifying"
	StatusScored           LeadStatus = "scored"
	StatusResearched       LeadStatus = "researched"
	StatusMessaged         LeadStatus = "messaged"
	StatusSynced           LeadStatus = "synced"
	StatusCampaigned       LeadStatus = "campaigned"
	StatusFailed           LeadStatus = "failed"
	StatusDisqualified     LeadStatus = "disqualified"
)

// Terminal reports whether the status ends the lead's pipeline lifetime.
func (s LeadStatus) Terminal() bool {
	return s == StatusFailed || s == StatusDisqualified || s == StatusCampaigned
}

// Tier is the coarse lead-priority classification derived from score.
type Tier string

const (
	TierHighTouch   Tier = "high_touch"
	TierStandard    Tier = "standard"
	TierNurture     Tier = "nurture"
	TierUnqualified Tier = "unqualified"
)

// EmailStatus is the verification outcome for a contact email.
type EmailStatus string

const (
	EmailPending  EmailStatus = "pending"
	EmailValid    EmailStatus = "valid"
	EmailInvalid  EmailStatus = "invalid"
	EmailCatchAll EmailStatus = "catch_all"
	EmailUnknown  EmailStatus = "unknown"
)

// CompanyAttrs holds firmographic and technographic attributes. Fields are
// nullable until an enrichment stage fills them.
type CompanyAttrs struct {
	Name            string     `json:"name,omitempty"`
	Industry        string     `json:"industry,omitempty"`
	EmployeeCount   *int       `json:"employee_count,omitempty"`
	Revenue         *float64   `json:"revenue,omitempty"`
	FoundedYear     *int       `json:"founded_year,omitempty"`
	HQCity          string     `json:"hq_city,omitempty"`
	HQCountry       string     `json:"hq_country,omitempty"`
	HQRegion        string     `json:"hq_region,omitempty"`
	TechStack       []string   `json:"tech_stack,omitempty"`
	LastFundingDate *time.Time `json:"last_funding_date,omitempty"`
	IsHiring        bool       `json:"is_hiring,omitempty"`
	OpenPositions   *int       `json:"open_positions,omitempty"`
	LinkedInURL     string     `json:"linkedin_url,omitempty"`
	Description     string     `json:"description,omitempty"`
}

// ContactAttrs holds personal and professional attributes for the lead's
// primary contact.
type ContactAttrs struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Title       string `json:"title,omitempty"`
	Seniority   string `json:"seniority,omitempty"`
	Department  string `json:"department,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
}

// Lead is the unit of work owned by the pipeline. Only Stage Runners mutate
// it, and every mutation is attributable to a provider call record or a
// scoring invocation.
type Lead struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`

	Company CompanyAttrs `json:"company"`
	Contact ContactAttrs `json:"contact"`

	EmailStatus     EmailStatus `json:"email_status"`
	EmailVerifiedAt *time.Time  `json:"email_verified_at,omitempty"`

	Score          *float64           `json:"score,omitempty"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
	Tier           Tier               `json:"tier,omitempty"`

	ResearchSummary string            `json:"research_summary,omitempty"`
	EmailVariants   map[string]string `json:"email_variants,omitempty"`

	CRMRecordID string     `json:"crm_record_id,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	CampaignID  string     `json:"campaign_id,omitempty"`

	Status LeadStatus `json:"status"`
	// StageCompletedAt records the last successful completion per stage.
	StageCompletedAt map[Stage]time.Time `json:"stage_completed_at,omitempty"`

	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastCompletedStage returns the highest stage the lead has completed, or 0.
func (l *Lead) LastCompletedStage() Stage {
	var last Stage
	for s := range l.StageCompletedAt {
		if s > last {
			last = s
		}
	}
	return last
}

// MarkStageComplete records a successful stage completion and advances the
// status. Callers persist the transition through the store.
func (l *Lead) MarkStageComplete(stage Stage, at time.Time) {
	if l.StageCompletedAt == nil {
		l.StageCompletedAt = make(map[Stage]time.Time)
	}
	l.StageCompletedAt[stage] = at
	l.Status = stage.CompletionStatus()
	l.UpdatedAt = at
}
