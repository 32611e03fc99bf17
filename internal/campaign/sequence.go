package campaign

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/resend"
)

// sendRetryDelay is how far a failed step send is pushed out before the next
// attempt.
const sendRetryDelay = time.Hour

// AddStep appends a follow-up step to the campaign's sequence. Step numbers
// must be positive and unique within the campaign.
func (m *Manager) AddStep(ctx context.Context, campaignID string, step model.SequenceStep) (*model.Campaign, error) {
	if step.Number <= 0 {
		return nil, eris.New("campaign: step number must be positive")
	}
	if step.DelayDays < 0 {
		return nil, eris.New("campaign: step delay cannot be negative")
	}
	if step.SubjectTemplate == "" || step.BodyTemplate == "" {
		return nil, eris.Errorf("campaign: step %d needs subject and body templates", step.Number)
	}
	if _, _, err := parsePair(step.SubjectTemplate, step.BodyTemplate); err != nil {
		return nil, eris.Wrapf(err, "campaign: step %d", step.Number)
	}

	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, s := range c.Steps {
		if s.Number == step.Number {
			return nil, eris.Errorf("campaign: step %d already exists", step.Number)
		}
	}
	c.Steps = append(c.Steps, step)
	c.UpdatedAt = m.now()
	if err := m.store.UpdateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Enroll puts leads into the campaign's follow-up sequence. Leads that are
// already enrolled or have no sendable email are skipped, not errored, so one
// bad row never blocks a batch. Returns the number actually enrolled.
func (m *Manager) Enroll(ctx context.Context, campaignID string, leadIDs []string) (int, error) {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if len(c.Steps) == 0 {
		return 0, eris.Errorf("campaign: %s has no sequence steps", campaignID)
	}
	first := c.NextStep(0)

	enrolled := make(map[string]bool, len(c.Enrollments))
	for _, e := range c.Enrollments {
		enrolled[e.LeadID] = true
	}

	now := m.now()
	added := 0
	for _, id := range leadIDs {
		if enrolled[id] {
			continue
		}
		lead, err := m.store.GetLead(ctx, id)
		if err != nil {
			return added, err
		}
		if lead.Contact.Email == "" || lead.EmailStatus == model.EmailInvalid {
			zap.L().Warn("campaign: skipping enrollment, no sendable email",
				zap.String("campaign_id", c.ID),
				zap.String("lead_id", id),
			)
			continue
		}
		due := now.AddDate(0, 0, first.DelayDays)
		c.Enrollments = append(c.Enrollments, model.SequenceEnrollment{
			LeadID:     id,
			Status:     model.SequenceActive,
			EnrolledAt: now,
			NextSendAt: &due,
		})
		enrolled[id] = true
		added++
	}
	if added == 0 {
		return 0, nil
	}

	c.UpdatedAt = now
	if err := m.store.UpdateCampaign(ctx, c); err != nil {
		return 0, err
	}
	zap.L().Info("campaign: enrolled leads",
		zap.String("campaign_id", c.ID),
		zap.Int("enrolled", added),
	)
	return added, nil
}

// ProcessSequences walks the campaign's enrollments and sends every step that
// has come due, advancing or completing each enrollment. The campaign must be
// active. Send failures push the enrollment's next attempt out by an hour
// instead of aborting the run. Returns the number of emails sent.
func (m *Manager) ProcessSequences(ctx context.Context, campaignID string) (int, error) {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if c.State != model.CampaignActive {
		return 0, eris.Errorf("campaign: %s is %s, not active", c.ID, c.State)
	}

	now := m.now()
	sent := 0
	limited := false
	for i := range c.Enrollments {
		e := &c.Enrollments[i]
		if e.Status != model.SequenceActive {
			continue
		}
		if e.NextSendAt == nil || now.Before(*e.NextSendAt) {
			continue
		}

		step := c.NextStep(e.CurrentStep)
		if step == nil {
			e.Status = model.SequenceCompleted
			e.NextSendAt = nil
			continue
		}

		if c.DailyLimit > 0 {
			today, err := m.store.CampaignSendsToday(ctx, c.ID, now)
			if err != nil {
				return sent, err
			}
			if today >= c.DailyLimit {
				limited = true
				break
			}
		}

		lead, err := m.store.GetLead(ctx, e.LeadID)
		if err != nil {
			return sent, err
		}
		if lead.Contact.Email == "" || lead.EmailStatus == model.EmailInvalid {
			e.Status = model.SequenceBounced
			e.NextSendAt = nil
			continue
		}

		if err := m.sendStep(ctx, c, step, lead); err != nil {
			retry := now.Add(sendRetryDelay)
			e.NextSendAt = &retry
			zap.L().Warn("campaign: step send failed, will retry",
				zap.String("campaign_id", c.ID),
				zap.String("lead_id", e.LeadID),
				zap.Int("step", step.Number),
				zap.Error(err),
			)
			continue
		}
		sent++

		e.CurrentStep = step.Number
		sentAt := now
		e.LastStepSentAt = &sentAt
		if next := c.NextStep(step.Number); next != nil {
			due := now.AddDate(0, 0, next.DelayDays)
			e.NextSendAt = &due
		} else {
			e.Status = model.SequenceCompleted
			e.NextSendAt = nil
		}
	}

	c.UpdatedAt = now
	if err := m.store.UpdateCampaign(ctx, c); err != nil {
		return sent, err
	}
	zap.L().Info("campaign: sequences processed",
		zap.String("campaign_id", c.ID),
		zap.Int("sent", sent),
		zap.Bool("daily_limit_hit", limited),
	)
	return sent, nil
}

// StopEnrollment takes a lead out of the sequence. reason must be replied,
// bounced or unsubscribed; a reply also counts toward the campaign's reply
// stat.
func (m *Manager) StopEnrollment(ctx context.Context, campaignID, leadID string, reason model.SequenceStatus) error {
	switch reason {
	case model.SequenceReplied, model.SequenceBounced, model.SequenceUnsubscribed:
	default:
		return eris.Errorf("campaign: invalid stop reason %q", reason)
	}

	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	for i := range c.Enrollments {
		e := &c.Enrollments[i]
		if e.LeadID != leadID {
			continue
		}
		e.Status = reason
		e.NextSendAt = nil
		if reason == model.SequenceReplied {
			c.Replied++
		}
		c.UpdatedAt = m.now()
		return m.store.UpdateCampaign(ctx, c)
	}
	return eris.Errorf("campaign: lead %s is not enrolled in %s", leadID, campaignID)
}

func (m *Manager) sendStep(ctx context.Context, c *model.Campaign, step *model.SequenceStep, lead *model.Lead) error {
	subject, body, err := renderPair(step.SubjectTemplate, step.BodyTemplate, lead)
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
			"step":        strconv.Itoa(step.Number),
			"tier":        string(lead.Tier),
		},
	})
	if err != nil {
		return err
	}

	now := m.now()
	if err := m.store.RecordCampaignSend(ctx, c.ID, lead.ID, now); err != nil {
		return err
	}
	c.Sent++
	zap.L().Info("campaign: step sent",
		zap.String("campaign_id", c.ID),
		zap.String("lead_id", lead.ID),
		zap.Int("step", step.Number),
		zap.String("message_id", msgID),
	)
	return nil
}
