package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/config"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// ZeroBounce verifies deliverability of resolved email addresses. Sole
// adapter in the email category.
type ZeroBounce struct {
	httpBase
}

// NewZeroBounce builds the ZeroBounce adapter from provider config.
func NewZeroBounce(cfg config.ProviderConfig, retry resilience.RetryConfig) *ZeroBounce {
	return &ZeroBounce{
		httpBase: newHTTPBase("zerobounce", cfg.BaseURL, cfg.Key, cfg.CostPerRequest,
			[]model.FieldCategory{model.CategoryEmail}, retry),
	}
}

type zerobounceResponse struct {
	Address   string `json:"address"`
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
}

// zerobounceStatusMap folds vendor statuses onto the shared EmailStatus set.
var zerobounceStatusMap = map[string]model.EmailStatus{
	"valid":       model.EmailValid,
	"invalid":     model.EmailInvalid,
	"catch-all":   model.EmailCatchAll,
	"spamtrap":    model.EmailInvalid,
	"abuse":       model.EmailInvalid,
	"do_not_mail": model.EmailInvalid,
	"unknown":     model.EmailUnknown,
}

// Lookup validates the identity's email address.
func (z *ZeroBounce) Lookup(ctx context.Context, id Identity, category model.FieldCategory) (*Result, error) {
	if category != model.CategoryEmail || id.Email == "" {
		return nil, ErrNoData
	}

	q := url.Values{
		"api_key": {z.apiKey},
		"email":   {id.Email},
	}
	var resp zerobounceResponse
	if err := z.getJSON(ctx, "/validate", q, nil, &resp); err != nil {
		return nil, err
	}

	status, ok := zerobounceStatusMap[strings.ToLower(resp.Status)]
	if !ok {
		status = model.EmailUnknown
	}
	fields := Fields{"email_status": status}
	putIfSet(fields, "email_sub_status", resp.SubStatus)

	conf := 0.99
	if status == model.EmailUnknown || status == model.EmailCatchAll {
		conf = 0.5
	}
	return &Result{Provider: z.name, Fields: fields, Confidence: conf, CostUSD: z.cost}, nil
}
