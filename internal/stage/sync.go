package stage

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/campaign"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/pkg/attio"
)

// syncCRM upserts the lead into Attio. Keyed on domain and email, so re-runs
// land on the same records instead of duplicating them.
func (r *Runner) syncCRM(ctx context.Context, lead *model.Lead) (result, error) {
	if r.crm == nil {
		return result{outcome: model.OutcomeError}, eris.New("stage: CRM client not configured")
	}
	if d := r.limiter.Acquire("attio"); !d.Allowed {
		return result{outcome: model.OutcomeError}, eris.Errorf("stage: attio rate limited until %s", d.RetryAt.Format("15:04:05"))
	}

	companyID, err := r.crm.UpsertCompany(ctx, attio.CompanyRecord{
		Domain:        lead.Domain,
		Name:          lead.Company.Name,
		Industry:      lead.Company.Industry,
		EmployeeCount: lead.Company.EmployeeCount,
		HQCity:        lead.Company.HQCity,
		HQCountry:     lead.Company.HQCountry,
		LinkedInURL:   lead.Company.LinkedInURL,
	})
	if err != nil {
		return result{outcome: classifyCRMError(err)}, err
	}

	personID, err := r.crm.UpsertPerson(ctx, attio.PersonRecord{
		Email:       lead.Contact.Email,
		FirstName:   lead.Contact.FirstName,
		LastName:    lead.Contact.LastName,
		Title:       lead.Contact.Title,
		LinkedInURL: lead.Contact.LinkedInURL,
		CompanyID:   companyID,
	})
	if err != nil {
		return result{outcome: classifyCRMError(err)}, err
	}

	if lead.ResearchSummary != "" {
		if err := r.crm.CreateNote(ctx, "people", personID, "Research summary", lead.ResearchSummary); err != nil {
			// The records are synced; a lost note is not worth re-running
			// the stage.
			zap.L().Warn("stage: attach research note", zap.String("lead_id", lead.ID), zap.Error(err))
		}
	}

	lead.CRMRecordID = personID
	at := r.now()
	lead.SyncedAt = &at
	return result{outcome: model.OutcomeSuccess}, nil
}

func classifyCRMError(err error) model.LeadOutcome {
	var ue *attio.UnavailableError
	if errors.As(err, &ue) {
		return model.OutcomeError
	}
	return model.OutcomeFailure
}

// sendCampaign delivers the lead's campaign email. Daily-limit and
// no-matching-campaign denials leave the lead eligible for a later run.
func (r *Runner) sendCampaign(ctx context.Context, lead *model.Lead) (result, error) {
	if r.campaigns == nil {
		return result{outcome: model.OutcomeError}, eris.New("stage: campaign manager not configured")
	}
	c, err := r.campaigns.PickFor(ctx, lead)
	if err != nil {
		if eris.Is(err, campaign.ErrNoMatchingCampaign) {
			return result{outcome: model.OutcomeError}, nil
		}
		return result{outcome: model.OutcomeError}, err
	}

	if err := r.campaigns.SendToLead(ctx, c, lead); err != nil {
		if eris.Is(err, campaign.ErrDailyLimitReached) {
			return result{outcome: model.OutcomeError}, nil
		}
		return result{outcome: model.OutcomeError}, err
	}

	lead.CampaignID = c.ID
	return result{outcome: model.OutcomeSuccess}, nil
}
