package provider

import (
	"context"
	"net/url"
	"time"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// Apollo resolves both company and contact fields. It sits first in both
// cascade orders because a single vendor covering both categories keeps
// per-lead call counts down.
type Apollo struct {
	httpBase
}

// NewApollo builds the Apollo adapter from provider config.
func NewApollo(cfg config.ProviderConfig, retry resilience.RetryConfig) *Apollo {
	return &Apollo{
		httpBase: newHTTPBase("apollo", cfg.BaseURL, cfg.Key, cfg.CostPerRequest,
			[]model.FieldCategory{model.CategoryCompany, model.CategoryContact}, retry),
	}
}

type apolloOrgResponse struct {
	Organization struct {
		Name                  string `json:"name"`
		Industry              string `json:"industry"`
		EstimatedNumEmployees int    `json:"estimated_num_employees"`
		AnnualRevenue         float64 `json:"annual_revenue"`
		FoundedYear           int    `json:"founded_year"`
		City                  string `json:"city"`
		State                 string `json:"state"`
		Country               string `json:"country"`
		LatestFundingDate     string `json:"latest_funding_round_date"`
		TechnologyNames       []string `json:"technologies_names"`
		JobPostings           []struct {
			Title string `json:"title"`
		} `json:"job_postings"`
		LinkedinURL      string `json:"linkedin_url"`
		ShortDescription string `json:"short_description"`
	} `json:"organization"`
}

type apolloPersonResponse struct {
	Person struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		Title       string `json:"title"`
		Email       string `json:"email"`
		LinkedinURL string `json:"linkedin_url"`
		Seniority   string `json:"seniority"`
		Departments []string `json:"departments"`
		PhoneNumbers []struct {
			SanitizedNumber string `json:"sanitized_number"`
		} `json:"phone_numbers"`
	} `json:"person"`
}

// Lookup resolves the requested category via the organization-enrich or
// people-match endpoint.
func (a *Apollo) Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error) {
	headers := map[string]string{"X-Api-Key": a.apiKey}
	switch category {
	case model.CategoryCompany:
		if id.Domain == "" {
			return nil, ErrNoData
		}
		var resp apolloOrgResponse
		q := url.Values{"domain": {id.Domain}}
		if err := a.getJSON(ctx, "/organizations/enrich", q, headers, &resp); err != nil {
			return nil, err
		}
		org := resp.Organization
		if org.Name == "" && org.Industry == "" {
			return nil, ErrNoData
		}
		fields := Fields{}
		putIfSet(fields, "name", org.Name)
		putIfSet(fields, "industry", org.Industry)
		putIfSet(fields, "employee_count", org.EstimatedNumEmployees)
		putIfSet(fields, "revenue", org.AnnualRevenue)
		putIfSet(fields, "founded_year", org.FoundedYear)
		putIfSet(fields, "city", org.City)
		putIfSet(fields, "region", org.State)
		putIfSet(fields, "country", org.Country)
		putIfSet(fields, "tech_stack", org.TechnologyNames)
		putIfSet(fields, "linkedin_url", org.LinkedinURL)
		putIfSet(fields, "description", org.ShortDescription)
		if len(org.JobPostings) > 0 {
			fields["is_hiring"] = true
			fields["open_positions"] = len(org.JobPostings)
		}
		if t, err := time.Parse("2006-01-02", org.LatestFundingDate); err == nil {
			fields["last_funding_date"] = t
		}
		return &Result{Provider: a.name, Fields: fields, Confidence: 0.85, CostUSD: a.cost}, nil

	case model.CategoryContact:
		q := url.Values{}
		if id.Email != "" {
			q.Set("email", id.Email)
		}
		if id.FirstName != "" {
			q.Set("first_name", id.FirstName)
		}
		if id.LastName != "" {
			q.Set("last_name", id.LastName)
		}
		if id.Domain != "" {
			q.Set("organization_domain", id.Domain)
		}
		if id.LinkedInURL != "" {
			q.Set("linkedin_url", id.LinkedInURL)
		}
		if len(q) == 0 {
			return nil, ErrNoData
		}
		var resp apolloPersonResponse
		if err := a.getJSON(ctx, "/people/match", q, headers, &resp); err != nil {
			return nil, err
		}
		p := resp.Person
		if p.FirstName == "" && p.Email == "" {
			return nil, ErrNoData
		}
		fields := Fields{}
		putIfSet(fields, "first_name", p.FirstName)
		putIfSet(fields, "last_name", p.LastName)
		putIfSet(fields, "email", p.Email)
		putIfSet(fields, "title", p.Title)
		putIfSet(fields, "linkedin_url", p.LinkedinURL)
		putIfSet(fields, "seniority", p.Seniority)
		if len(p.Departments) > 0 {
			fields["department"] = p.Departments[0]
		}
		if len(p.PhoneNumbers) > 0 {
			putIfSet(fields, "phone", p.PhoneNumbers[0].SanitizedNumber)
		}
		return &Result{Provider: a.name, Fields: fields, Confidence: 0.85, CostUSD: a.cost}, nil
	}
	return nil, ErrNoData
}
