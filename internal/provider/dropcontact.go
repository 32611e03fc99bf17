package provider

import (
	"context"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// Dropcontact enriches contacts from name and company. Last in the default
// contact order; it is slower than the others but finds GDPR-safe emails the
// rest miss.
type Dropcontact struct {
	httpBase
}

// NewDropcontact builds the Dropcontact adapter from provider config.
func NewDropcontact(cfg config.ProviderConfig, retry resilience.RetryConfig) *Dropcontact {
	return &Dropcontact{
		httpBase: newHTTPBase("dropcontact", cfg.BaseURL, cfg.Key, cfg.CostPerRequest,
			[]model.FieldCategory{model.CategoryContact}, retry),
	}
}

type dropcontactRequest struct {
	Data []dropcontactPerson `json:"data"`
	Siren bool               `json:"siren"`
}

type dropcontactPerson struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Website   string `json:"website,omitempty"`
	Company   string `json:"company,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
}

type dropcontactResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		FullName  string `json:"full_name"`
		Job       string `json:"job"`
		Email     []struct {
			Email         string `json:"email"`
			Qualification string `json:"qualification"`
		} `json:"email"`
		Phone       string `json:"phone"`
		MobilePhone string `json:"mobile_phone"`
		LinkedIn    string `json:"linkedin"`
	} `json:"data"`
}

// Lookup enriches one contact through the batch endpoint with a single-entry
// batch.
func (d *Dropcontact) Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error) {
	if category != model.CategoryContact {
		return nil, ErrNoData
	}
	if id.Email == "" && id.LinkedInURL == "" && (id.FirstName == "" || id.Domain == "") {
		return nil, ErrNoData
	}

	headers := map[string]string{"X-Access-Token": d.apiKey}
	payload := dropcontactRequest{Data: []dropcontactPerson{{
		FirstName: id.FirstName,
		LastName:  id.LastName,
		Email:     id.Email,
		Website:   id.Domain,
		Company:   id.CompanyName,
		LinkedIn:  id.LinkedInURL,
	}}}

	var resp dropcontactResponse
	if err := d.postJSON(ctx, "/batch", headers, payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || len(resp.Data) == 0 {
		return nil, ErrNoData
	}

	c := resp.Data[0]
	fields := Fields{}
	putIfSet(fields, "first_name", c.FirstName)
	putIfSet(fields, "last_name", c.LastName)
	putIfSet(fields, "title", c.Job)
	putIfSet(fields, "linkedin_url", c.LinkedIn)
	putIfSet(fields, "phone", c.Phone)
	if c.MobilePhone != "" && c.Phone == "" {
		fields["phone"] = c.MobilePhone
	}

	conf := 0.7
	for _, e := range c.Email {
		if e.Email == "" {
			continue
		}
		fields["email"] = e.Email
		if e.Qualification == "nominative@pro" {
			conf = 0.9
		}
		break
	}
	if len(fields) == 0 {
		return nil, ErrNoData
	}
	return &Result{Provider: d.name, Fields: fields, Confidence: conf, CostUSD: d.cost}, nil
}
