package model

import "time"

// CampaignState is the campaign lifecycle: Draft -> Active <-> Paused -> Completed.
type CampaignState string

const (
	CampaignDraft     CampaignState = "draft"
	CampaignActive    CampaignState = "active"
	CampaignPaused    CampaignState = "paused"
	CampaignCompleted CampaignState = "completed"
)

// Campaign targets scored leads for outbound email. It consumes Lead.tier and
// Lead.score as read-only inputs and is otherwise independent of enrichment.
type Campaign struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	TargetTier Tier     `json:"target_tier,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	MaxScore   *float64 `json:"max_score,omitempty"`

	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`

	DailyLimit int `json:"daily_limit"`

	// Steps defines the optional follow-up sequence; Enrollments tracks each
	// lead's position in it. Both live inside the campaign document.
	Steps       []SequenceStep       `json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `json:"enrollments,omitempty"`

	State CampaignState `json:"state"`

	Sent    int `json:"sent"`
	Opened  int `json:"opened"`
	Clicked int `json:"clicked"`
	Replied int `json:"replied"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SequenceStatus tracks one lead's progress through a follow-up sequence.
type SequenceStatus string

const (
	SequenceActive       SequenceStatus = "active"
	SequenceCompleted    SequenceStatus = "completed"
	SequenceReplied      SequenceStatus = "replied"
	SequenceBounced      SequenceStatus = "bounced"
	SequenceUnsubscribed SequenceStatus = "unsubscribed"
)

// SequenceStep is one scheduled follow-up email. Steps are ordered by Number;
// gaps in the numbering are allowed.
type SequenceStep struct {
	Number          int    `json:"number"`
	DelayDays       int    `json:"delay_days"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
}

// SequenceEnrollment is one lead's position in the campaign's sequence.
// CurrentStep is the last step number sent, 0 before the first send.
type SequenceEnrollment struct {
	LeadID         string         `json:"lead_id"`
	CurrentStep    int            `json:"current_step"`
	Status         SequenceStatus `json:"status"`
	EnrolledAt     time.Time      `json:"enrolled_at"`
	NextSendAt     *time.Time     `json:"next_send_at,omitempty"`
	LastStepSentAt *time.Time     `json:"last_step_sent_at,omitempty"`
}

// NextStep returns the lowest-numbered step after n, or nil when the sequence
// is exhausted.
func (c *Campaign) NextStep(n int) *SequenceStep {
	var best *SequenceStep
	for i := range c.Steps {
		s := &c.Steps[i]
		if s.Number <= n {
			continue
		}
		if best == nil || s.Number < best.Number {
			best = s
		}
	}
	return best
}

// Matches reports whether a lead satisfies the campaign's targeting filter.
func (c *Campaign) Matches(lead *Lead) bool {
	if c.TargetTier != "" && lead.Tier != c.TargetTier {
		return false
	}
	if lead.Score == nil {
		return c.MinScore == nil && c.MaxScore == nil
	}
	if c.MinScore != nil && *lead.Score < *c.MinScore {
		return false
	}
	if c.MaxScore != nil && *lead.Score > *c.MaxScore {
		return false
	}
	return true
}
