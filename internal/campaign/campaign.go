// Package campaign manages outbound email campaigns: lifecycle, targeting,
// template rendering and daily-limited sending through Resend.
package campaign

import (
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/ratelimit"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/resend"
)

// ErrDailyLimitReached means no more sends are allowed today for the
// campaign. Leads stay eligible for the next day's run.
var ErrDailyLimitReached = eris.New("campaign: daily send limit reached")

// ErrNoMatchingCampaign means no active campaign targets the lead.
var ErrNoMatchingCampaign = eris.New("campaign: no active campaign matches lead")

// Sender delivers one email. Satisfied by *resend.Client.
type Sender interface {
	Send(ctx context.Context, email resend.Email) (string, error)
}

// Manager owns campaign state and sending.
type Manager struct {
	store   store.Store
	sender  Sender
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewManager creates a campaign Manager. limiter may be nil to disable send
// pacing (tests).
func NewManager(s store.Store, sender Sender, limiter *ratelimit.Limiter) *Manager {
	return &Manager{store: s, sender: sender, limiter: limiter, now: time.Now}
}

// WithNow overrides the clock. For tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create validates and persists a new campaign in draft state.
func (m *Manager) Create(ctx context.Context, c *model.Campaign) error {
	if c.Name == "" {
		return eris.New("campaign: name is required")
	}
	if c.SubjectTemplate == "" || c.BodyTemplate == "" {
		return eris.New("campaign: subject and body templates are required")
	}
	if _, _, err := parsePair(c.SubjectTemplate, c.BodyTemplate); err != nil {
		return err
	}
	for _, step := range c.Steps {
		if step.SubjectTemplate == "" || step.BodyTemplate == "" {
			return eris.Errorf("campaign: step %d needs subject and body templates", step.Number)
		}
		if _, _, err := parsePair(step.SubjectTemplate, step.BodyTemplate); err != nil {
			return eris.Wrapf(err, "campaign: step %d", step.Number)
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.State = model.CampaignDraft
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	return m.store.CreateCampaign(ctx, c)
}

// legalTransitions encodes Draft -> Active <-> Paused -> Completed.
var legalTransitions = map[model.CampaignState][]model.CampaignState{
	model.CampaignDraft:  {model.CampaignActive},
	model.CampaignActive: {model.CampaignPaused, model.CampaignCompleted},
	model.CampaignPaused: {model.CampaignActive, model.CampaignCompleted},
}

// Transition moves a campaign to a new lifecycle state.
func (m *Manager) Transition(ctx context.Context, id string, to model.CampaignState) (*model.Campaign, error) {
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, s := range legalTransitions[c.State] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, eris.Errorf("campaign: illegal transition %s -> %s", c.State, to)
	}
	c.State = to
	c.UpdatedAt = m.now()
	if err := m.store.UpdateCampaign(ctx, c); err != nil {
		return nil, err
	}
	zap.L().Info("campaign: state changed",
		zap.String("campaign_id", c.ID),
		zap.String("state", string(to)),
	)
	return c, nil
}

// PickFor returns the first active campaign whose targeting filter matches
// the lead.
func (m *Manager) PickFor(ctx context.Context, lead *model.Lead) (*model.Campaign, error) {
	campaigns, err := m.store.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	for idx := range campaigns {
		c := &campaigns[idx]
		if c.State != model.CampaignActive {
			continue
		}
		if c.Matches(lead) {
			return c, nil
		}
	}
	return nil, ErrNoMatchingCampaign
}

// SendToLead renders the campaign templates for the lead and sends one
// email. Enforces the campaign's daily limit; a limited send returns
// ErrDailyLimitReached without touching the lead.
func (m *Manager) SendToLead(ctx context.Context, c *model.Campaign, lead *model.Lead) error {
	if lead.Contact.Email == "" || lead.EmailStatus == model.EmailInvalid {
		return eris.Errorf("campaign: lead %s has no sendable email", lead.ID)
	}

	if c.DailyLimit > 0 {
		sent, err := m.store.CampaignSendsToday(ctx, c.ID, m.now())
		if err != nil {
			return err
		}
		if sent >= c.DailyLimit {
			return ErrDailyLimitReached
		}
	}

	subject, body, err := m.render(c, lead)
	if err != nil {
		return err
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, "resend"); err != nil {
			return eris.Wrap(err, "campaign: wait for send slot")
		}
	}

	msgID, err := m.sender.Send(ctx, resend.Email{
		To:      lead.Contact.Email,
		Subject: subject,
		Text:    body,
		Tags: map[string]string{
			"campaign_id": c.ID,
			"lead_id":     lead.ID,
			"tier":        string(lead.Tier),
		},
	})
	if err != nil {
		return err
	}

	if err := m.store.RecordCampaignSend(ctx, c.ID, lead.ID, m.now()); err != nil {
		return err
	}
	c.Sent++
	c.UpdatedAt = m.now()
	if err := m.store.UpdateCampaign(ctx, c); err != nil {
		return err
	}
	zap.L().Info("campaign: sent",
		zap.String("campaign_id", c.ID),
		zap.String("lead_id", lead.ID),
		zap.String("message_id", msgID),
	)
	return nil
}

// templateData is the context available to campaign templates.
type templateData struct {
	FirstName       string
	LastName        string
	Title           string
	CompanyName     string
	Domain          string
	Industry        string
	Tier            string
	ResearchSummary string
	Body            string // tier-matched pre-generated email variant
}

func (m *Manager) render(c *model.Campaign, lead *model.Lead) (subject, body string, err error) {
	return renderPair(c.SubjectTemplate, c.BodyTemplate, lead)
}

// renderPair renders one subject/body template pair against the lead. Shared
// by the campaign's own templates and sequence step templates.
func renderPair(subjectTmpl, bodyTmpl string, lead *model.Lead) (subject, body string, err error) {
	st, bt, err := parsePair(subjectTmpl, bodyTmpl)
	if err != nil {
		return "", "", err
	}
	data := templateData{
		FirstName:       lead.Contact.FirstName,
		LastName:        lead.Contact.LastName,
		Title:           lead.Contact.Title,
		CompanyName:     lead.Company.Name,
		Domain:          lead.Domain,
		Industry:        lead.Company.Industry,
		Tier:            string(lead.Tier),
		ResearchSummary: lead.ResearchSummary,
		Body:            lead.EmailVariants[string(lead.Tier)],
	}

	var sb, bb strings.Builder
	if err := st.Execute(&sb, data); err != nil {
		return "", "", eris.Wrap(err, "campaign: render subject")
	}
	if err := bt.Execute(&bb, data); err != nil {
		return "", "", eris.Wrap(err, "campaign: render body")
	}
	return sb.String(), bb.String(), nil
}

func parsePair(subjectTmpl, bodyTmpl string) (*template.Template, *template.Template, error) {
	subject, err := template.New("subject").Option("missingkey=zero").Parse(subjectTmpl)
	if err != nil {
		return nil, nil, eris.Wrap(err, "campaign: parse subject template")
	}
	body, err := template.New("body").Option("missingkey=zero").Parse(bodyTmpl)
	if err != nil {
		return nil, nil, eris.Wrap(err, "campaign: parse body template")
	}
	return subject, body, nil
}
