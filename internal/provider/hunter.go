package provider

import (
	"context"
	"net/url"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// Hunter finds work emails by name and domain. Cheap, so it runs early when
// apollo could not surface an email address.
type Hunter struct {
	httpBase
}

// NewHunter builds the Hunter adapter from provider config.
func NewHunter(cfg config.ProviderConfig, retry resilience.RetryConfig) *Hunter {
	return &Hunter{
		httpBase: newHTTPBase("hunter", cfg.BaseURL, cfg.Key, cfg.CostPerRequest,
			[]model.FieldCategory{model.CategoryContact}, retry),
	}
}

type hunterFinderResponse struct {
	Data struct {
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
		Email       string `json:"email"`
		Score       int    `json:"score"`
		Position    string `json:"position"`
		Department  string `json:"department"`
		LinkedinURL string `json:"linkedin_url"`
		PhoneNumber string `json:"phone_number"`
	} `json:"data"`
}

// Lookup finds a contact's email via the email-finder endpoint. Hunter needs
// a name and a domain; without both there is nothing to search on.
func (h *Hunter) Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error) {
	if category != model.CategoryContact {
		return nil, ErrNoData
	}
	if id.Domain == "" || (id.FirstName == "" && id.LastName == "") {
		return nil, ErrNoData
	}

	q := url.Values{
		"domain":  {id.Domain},
		"api_key": {h.apiKey},
	}
	if id.FirstName != "" {
		q.Set("first_name", id.FirstName)
	}
	if id.LastName != "" {
		q.Set("last_name", id.LastName)
	}

	var resp hunterFinderResponse
	if err := h.getJSON(ctx, "/email-finder", q, nil, &resp); err != nil {
		return nil, err
	}
	d := resp.Data
	if d.Email == "" {
		return nil, ErrNoData
	}

	fields := Fields{}
	putIfSet(fields, "first_name", d.FirstName)
	putIfSet(fields, "last_name", d.LastName)
	putIfSet(fields, "email", d.Email)
	putIfSet(fields, "title", d.Position)
	putIfSet(fields, "department", d.Department)
	putIfSet(fields, "linkedin_url", d.LinkedinURL)
	putIfSet(fields, "phone", d.PhoneNumber)

	// Hunter reports a 0-100 deliverability score for the found address.
	conf := float64(d.Score) / 100
	if conf <= 0 {
		conf = 0.5
	}
	return &Result{Provider: h.name, Fields: fields, Confidence: conf, CostUSD: h.cost}, nil
}
