package provider

import (
	"context"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// Prospeo enriches contacts from LinkedIn profiles, falling back to
// name-plus-domain email finding.
type Prospeo struct {
	httpBase
}

// NewProspeo builds the Prospeo adapter from provider config.
func NewProspeo(cfg config.ProviderConfig, retry resilience.RetryConfig) *Prospeo {
	return &Prospeo{
		httpBase: newHTTPBase("prospeo", cfg.BaseURL, cfg.Key, cfg.CostPerRequest,
			[]model.FieldCategory{model.CategoryContact}, retry),
	}
}

type prospeoResponse struct {
	Error    bool   `json:"error"`
	Message  string `json:"message"`
	Response struct {
		Email struct {
			Email string `json:"email"`
		} `json:"email"`
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		JobTitle    string `json:"job_title"`
		LinkedinURL string `json:"linkedin"`
		Company     struct {
			Name string `json:"name"`
		} `json:"company"`
	} `json:"response"`
}

// Lookup prefers the linkedin-email-finder endpoint and falls back to the
// name-based email finder when no profile URL is known.
func (p *Prospeo) Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error) {
	if category != model.CategoryContact {
		return nil, ErrNoData
	}
	headers := map[string]string{"X-KEY": p.apiKey}

	var resp prospeoResponse
	switch {
	case id.LinkedInURL != "":
		payload := map[string]string{"url": id.LinkedInURL}
		if err := p.postJSON(ctx, "/linkedin-email-finder", headers, payload, &resp); err != nil {
			return nil, err
		}
	case id.FirstName != "" && id.LastName != "" && id.Domain != "":
		payload := map[string]string{
			"first_name": id.FirstName,
			"last_name":  id.LastName,
			"company":    id.Domain,
		}
		if err := p.postJSON(ctx, "/email-finder", headers, payload, &resp); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoData
	}

	if resp.Error {
		return nil, ErrNoData
	}
	r := resp.Response
	if r.Email.Email == "" && r.FirstName == "" {
		return nil, ErrNoData
	}

	fields := Fields{}
	putIfSet(fields, "first_name", r.FirstName)
	putIfSet(fields, "last_name", r.LastName)
	putIfSet(fields, "email", r.Email.Email)
	putIfSet(fields, "title", r.JobTitle)
	putIfSet(fields, "linkedin_url", r.LinkedinURL)
	return &Result{Provider: p.name, Fields: fields, Confidence: 0.8, CostUSD: p.cost}, nil
}
