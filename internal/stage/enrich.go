package stage

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/provider"
)

func (r *Runner) identity(lead *model.Lead) provider.Identity {
	return provider.Identity{
		LeadID:      lead.ID,
		Domain:      lead.Domain,
		CompanyName: lead.Company.Name,
		Email:       lead.Contact.Email,
		FirstName:   lead.Contact.FirstName,
		LastName:    lead.Contact.LastName,
		LinkedInURL: lead.Contact.LinkedInURL,
	}
}

func (r *Runner) enrichCompany(ctx context.Context, lead *model.Lead) (result, error) {
	if r.resolver == nil {
		return result{outcome: model.OutcomeError}, eris.New("stage: cascade resolver not configured")
	}
	out, err := r.resolver.Resolve(ctx, model.StageCompanyEnrich, r.identity(lead), model.CategoryCompany)
	res := result{costUSD: out.CostUSD}
	if err != nil {
		applyCompanyFields(&lead.Company, out.Fields)
		res.outcome = model.OutcomeError
		return res, err
	}
	applyCompanyFields(&lead.Company, out.Fields)
	switch {
	case out.Complete:
		res.outcome = model.OutcomeSuccess
	case len(out.Fields) > 0:
		res.outcome = model.OutcomePartial
	default:
		res.outcome = model.OutcomeFailure
	}
	return res, nil
}

func (r *Runner) enrichContact(ctx context.Context, lead *model.Lead) (result, error) {
	if r.resolver == nil {
		return result{outcome: model.OutcomeError}, eris.New("stage: cascade resolver not configured")
	}
	out, err := r.resolver.Resolve(ctx, model.StageContactEnrich, r.identity(lead), model.CategoryContact)
	res := result{costUSD: out.CostUSD}
	if err != nil {
		applyContactFields(&lead.Contact, out.Fields)
		res.outcome = model.OutcomeError
		return res, err
	}
	applyContactFields(&lead.Contact, out.Fields)
	switch {
	case out.Complete:
		res.outcome = model.OutcomeSuccess
	case len(out.Fields) > 0:
		res.outcome = model.OutcomePartial
	default:
		res.outcome = model.OutcomeFailure
	}
	return res, nil
}

func (r *Runner) verifyEmail(ctx context.Context, lead *model.Lead) (result, error) {
	if lead.Contact.Email == "" {
		// Nothing to verify; a lead without an email cannot be messaged.
		return result{outcome: model.OutcomeFailure}, nil
	}
	if r.resolver == nil {
		return result{outcome: model.OutcomeError}, eris.New("stage: cascade resolver not configured")
	}
	out, err := r.resolver.Resolve(ctx, model.StageEmailVerify, r.identity(lead), model.CategoryEmail)
	res := result{costUSD: out.CostUSD}
	if err != nil {
		res.outcome = model.OutcomeError
		return res, err
	}
	status, ok := out.Fields["email_status"].(model.EmailStatus)
	if !ok {
		res.outcome = model.OutcomeError
		return res, nil
	}
	lead.EmailStatus = status
	at := r.now()
	lead.EmailVerifiedAt = &at

	switch status {
	case model.EmailValid, model.EmailCatchAll:
		res.outcome = model.OutcomeSuccess
	case model.EmailUnknown:
		res.outcome = model.OutcomePartial
	default:
		res.outcome = model.OutcomeFailure
	}
	return res, nil
}

func (r *Runner) score(lead *model.Lead) (result, error) {
	if r.scorer == nil {
		return result{outcome: model.OutcomeError}, eris.New("stage: scorer not configured")
	}
	sc := r.scorer.Score(lead)
	lead.Tier = sc.Tier
	if sc.Disqualified {
		// runLead maps the unqualified tier onto the disqualified status.
		return result{outcome: model.OutcomeSuccess}, nil
	}
	score := sc.Score
	lead.Score = &score
	lead.ScoreBreakdown = sc.Breakdown
	return result{outcome: model.OutcomeSuccess}, nil
}

// applyCompanyFields copies canonical cascade fields onto the lead without
// overwriting attributes already present.
func applyCompanyFields(c *model.CompanyAttrs, fields provider.Fields) {
	if v, ok := str(fields, "name"); ok && c.Name == "" {
		c.Name = v
	}
	if v, ok := str(fields, "industry"); ok && c.Industry == "" {
		c.Industry = v
	}
	if v, ok := num(fields, "employee_count"); ok && c.EmployeeCount == nil {
		n := int(v)
		c.EmployeeCount = &n
	}
	if v, ok := num(fields, "revenue"); ok && c.Revenue == nil {
		c.Revenue = &v
	}
	if v, ok := num(fields, "founded_year"); ok && c.FoundedYear == nil {
		n := int(v)
		c.FoundedYear = &n
	}
	if v, ok := str(fields, "city"); ok && c.HQCity == "" {
		c.HQCity = v
	}
	if v, ok := str(fields, "region"); ok && c.HQRegion == "" {
		c.HQRegion = v
	}
	if v, ok := str(fields, "country"); ok && c.HQCountry == "" {
		c.HQCountry = v
	}
	if v, ok := fields["tech_stack"].([]string); ok && len(c.TechStack) == 0 {
		c.TechStack = v
	}
	if v, ok := fields["last_funding_date"].(time.Time); ok && c.LastFundingDate == nil {
		c.LastFundingDate = &v
	}
	if v, ok := fields["is_hiring"].(bool); ok && v {
		c.IsHiring = true
	}
	if v, ok := num(fields, "open_positions"); ok && c.OpenPositions == nil {
		n := int(v)
		c.OpenPositions = &n
	}
	if v, ok := str(fields, "linkedin_url"); ok && c.LinkedInURL == "" {
		c.LinkedInURL = v
	}
	if v, ok := str(fields, "description"); ok && c.Description == "" {
		c.Description = v
	}
}

func applyContactFields(c *model.ContactAttrs, fields provider.Fields) {
	if v, ok := str(fields, "first_name"); ok && c.FirstName == "" {
		c.FirstName = v
	}
	if v, ok := str(fields, "last_name"); ok && c.LastName == "" {
		c.LastName = v
	}
	if v, ok := str(fields, "email"); ok && c.Email == "" {
		c.Email = v
	}
	if v, ok := str(fields, "title"); ok && c.Title == "" {
		c.Title = v
	}
	if v, ok := str(fields, "seniority"); ok && c.Seniority == "" {
		c.Seniority = v
	}
	if v, ok := str(fields, "department"); ok && c.Department == "" {
		c.Department = v
	}
	if v, ok := str(fields, "phone"); ok && c.Phone == "" {
		c.Phone = v
	}
	if v, ok := str(fields, "linkedin_url"); ok && c.LinkedInURL == "" {
		c.LinkedInURL = v
	}
}

func str(fields provider.Fields, key string) (string, bool) {
	v, ok := fields[key].(string)
	return v, ok && v != ""
}

// num accepts ints and floats; providers are inconsistent about numeric
// JSON types.
func num(fields provider.Fields, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
