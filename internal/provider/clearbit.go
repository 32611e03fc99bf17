package provider

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// Clearbit resolves company firmographics by domain. The most expensive
// adapter in the default order, so it only runs when apollo leaves gaps.
type Clearbit struct {
	httpBase
}

// NewClearbit builds the Clearbit adapter from provider config.
func NewClearbit(cfg config.ProviderConfig, retry resilience.RetryConfig) *Clearbit {
	return &Clearbit{
		httpBase: newHTTPBase("clearbit", cfg.BaseURL, cfg.Key, cfg.CostPerRequest,
			[]model.FieldCategory{model.CategoryCompany}, retry),
	}
}

type clearbitCompanyResponse struct {
	Name     string `json:"name"`
	Category struct {
		Industry string `json:"industry"`
	} `json:"category"`
	Metrics struct {
		Employees       int     `json:"employees"`
		EstimatedAnnual float64 `json:"estimatedAnnualRevenue"`
		AnnualRevenue   float64 `json:"annualRevenue"`
	} `json:"metrics"`
	FoundedYear int      `json:"foundedYear"`
	Tech        []string `json:"tech"`
	Geo         struct {
		City    string `json:"city"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"geo"`
	Crunchbase struct {
		LastFundingDate string `json:"lastFundingDate"`
	} `json:"crunchbase"`
	LinkedIn struct {
		Handle string `json:"handle"`
	} `json:"linkedin"`
	Description string `json:"description"`
}

// Lookup resolves company fields via the company-find endpoint. Clearbit
// authenticates with basic auth, key as username.
func (c *Clearbit) Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error) {
	if category != model.CategoryCompany || id.Domain == "" {
		return nil, ErrNoData
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.apiKey + ":"))
	headers := map[string]string{"Authorization": "Basic " + auth}

	var resp clearbitCompanyResponse
	q := url.Values{"domain": {id.Domain}}
	if err := c.getJSON(ctx, "/companies/find", q, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" && resp.Category.Industry == "" {
		return nil, ErrNoData
	}

	revenue := resp.Metrics.AnnualRevenue
	if revenue == 0 {
		revenue = resp.Metrics.EstimatedAnnual
	}
	fields := Fields{}
	putIfSet(fields, "name", resp.Name)
	putIfSet(fields, "industry", resp.Category.Industry)
	putIfSet(fields, "employee_count", resp.Metrics.Employees)
	putIfSet(fields, "revenue", revenue)
	putIfSet(fields, "founded_year", resp.FoundedYear)
	putIfSet(fields, "city", resp.Geo.City)
	putIfSet(fields, "region", resp.Geo.State)
	putIfSet(fields, "country", resp.Geo.Country)
	putIfSet(fields, "tech_stack", resp.Tech)
	putIfSet(fields, "description", resp.Description)
	if resp.LinkedIn.Handle != "" {
		fields["linkedin_url"] = "https://linkedin.com/" + strings.TrimPrefix(resp.LinkedIn.Handle, "/")
	}
	if t, err := time.Parse("2006-01-02", resp.Crunchbase.LastFundingDate); err == nil {
		fields["last_funding_date"] = t
	}
	return &Result{Provider: c.name, Fields: fields, Confidence: 0.9, CostUSD: c.cost}, nil
}
