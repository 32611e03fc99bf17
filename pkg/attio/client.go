// Package attio is a minimal client for the Attio CRM API covering the
// record upserts and notes the pipeline sync stage needs.
package attio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// UnavailableError means Attio could not be reached or answered with a
// server-side failure. The sync stage treats it as retryable.
type UnavailableError struct {
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("attio: unavailable (status %d): %v", e.StatusCode, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Client calls the Attio REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an Attio client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CompanyRecord holds the attributes synced onto an Attio company.
type CompanyRecord struct {
	Domain        string
	Name          string
	Industry      string
	EmployeeCount *int
	HQCity        string
	HQCountry     string
	LinkedInURL   string
}

// PersonRecord holds the attributes synced onto an Attio person.
type PersonRecord struct {
	Email       string
	FirstName   string
	LastName    string
	Title       string
	LinkedInURL string
	CompanyID   string
}

type upsertResponse struct {
	Data struct {
		ID struct {
			RecordID string `json:"record_id"`
		} `json:"id"`
	} `json:"data"`
}

// UpsertCompany creates or updates a company record matched by domain.
// Idempotent: repeated calls with the same domain return the same record.
func (c *Client) UpsertCompany(ctx context.Context, rec CompanyRecord) (string, error) {
	values := map[string]any{
		"domains": []map[string]string{{"domain": rec.Domain}},
	}
	if rec.Name != "" {
		values["name"] = rec.Name
	}
	if rec.Industry != "" {
		values["categories"] = []string{rec.Industry}
	}
	if rec.EmployeeCount != nil {
		values["employee_count"] = *rec.EmployeeCount
	}
	if rec.HQCity != "" || rec.HQCountry != "" {
		location := map[string]string{}
		if rec.HQCity != "" {
			location["city"] = rec.HQCity
		}
		if rec.HQCountry != "" {
			location["country"] = rec.HQCountry
		}
		values["primary_location"] = location
	}
	if rec.LinkedInURL != "" {
		values["linkedin"] = rec.LinkedInURL
	}
	return c.upsert(ctx, "/objects/companies/records", values, "domains")
}

// UpsertPerson creates or updates a person record matched by email.
func (c *Client) UpsertPerson(ctx context.Context, rec PersonRecord) (string, error) {
	values := map[string]any{
		"email_addresses": []map[string]string{{"email_address": rec.Email}},
	}
	if rec.FirstName != "" || rec.LastName != "" {
		values["name"] = map[string]string{
			"first_name": rec.FirstName,
			"last_name":  rec.LastName,
		}
	}
	if rec.Title != "" {
		values["job_title"] = rec.Title
	}
	if rec.LinkedInURL != "" {
		values["linkedin"] = rec.LinkedInURL
	}
	if rec.CompanyID != "" {
		values["company"] = rec.CompanyID
	}
	return c.upsert(ctx, "/objects/people/records", values, "email_addresses")
}

// CreateNote attaches a note, e.g. the AI research summary, to a record.
func (c *Client) CreateNote(ctx context.Context, parentObject, recordID, title, content string) error {
	payload := map[string]any{
		"data": map[string]any{
			"parent_object":    parentObject,
			"parent_record_id": recordID,
			"title":            title,
			"format":           "plaintext",
			"content":          content,
		},
	}
	var out json.RawMessage
	return c.do(ctx, http.MethodPost, "/notes", payload, &out)
}

func (c *Client) upsert(ctx context.Context, path string, values map[string]any, matchAttr string) (string, error) {
	payload := map[string]any{
		"data":               map[string]any{"values": values},
		"matching_attribute": matchAttr,
	}
	var out upsertResponse
	if err := c.do(ctx, http.MethodPut, path, payload, &out); err != nil {
		return "", err
	}
	if out.Data.ID.RecordID == "" {
		return "", eris.Errorf("attio: upsert %s returned no record id", path)
	}
	return out.Data.ID.RecordID, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "attio: encode payload")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "attio: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &UnavailableError{StatusCode: resp.StatusCode, Err: eris.Errorf("attio: %s", raw)}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return eris.Errorf("attio: %s %s: HTTP %d: %s", method, path, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "attio: decode response")
	}
	zap.L().Debug("attio: request ok", zap.String("method", method), zap.String("path", path))
	return nil
}
