// Package ingest imports leads from CSV and JSON files. Stage 1 of the
// pipeline: rows become leads in status new, duplicates against existing
// leads are suppressed by email or domain.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/store"
)

// Row is one imported lead record. Header names follow the export formats of
// common prospecting tools; Website and Email both back-fill Domain.
type Row struct {
	Domain      string `csv:"domain" json:"domain"`
	Website     string `csv:"website" json:"website"`
	CompanyName string `csv:"company_name" json:"company_name"`
	FirstName   string `csv:"first_name" json:"first_name"`
	LastName    string `csv:"last_name" json:"last_name"`
	Email       string `csv:"email" json:"email"`
	Title       string `csv:"title" json:"title"`
	LinkedInURL string `csv:"linkedin_url" json:"linkedin_url"`
}

// Result summarizes one import.
type Result struct {
	TotalRows int      `json:"total_rows"`
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// Importer reads lead files into the store.
type Importer struct {
	store store.Store
	now   func() time.Time
}

// New creates an Importer.
func New(s store.Store) *Importer {
	return &Importer{store: s, now: time.Now}
}

// WithNow overrides the clock. For tests.
func (i *Importer) WithNow(now func() time.Time) *Importer {
	i.now = now
	return i
}

// ImportFile dispatches on the file extension. Only .csv and .json are
// supported.
func (i *Importer) ImportFile(ctx context.Context, path, source string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return i.ImportCSV(ctx, f, source)
	case ".json":
		return i.ImportJSON(ctx, f, source)
	default:
		return nil, eris.Errorf("ingest: unsupported file format %q, use .csv or .json", filepath.Ext(path))
	}
}

// ImportCSV reads rows from r. Header names are normalized to lower snake
// case before decoding so exports with spaced or title-cased headers load
// without a mapping step.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader, source string) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	for idx, h := range header {
		header[idx] = normalizeHeader(h)
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create csv decoder")
	}

	result := &Result{}
	for {
		var row Row
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.TotalRows++
			continue
		}
		result.TotalRows++
		i.importRow(ctx, row, source, result)
	}
	i.logResult(source, result)
	return result, nil
}

// ImportJSON reads either a top-level array of rows or an object with a
// "leads" array.
func (i *Importer) ImportJSON(ctx context.Context, r io.Reader, source string) (*Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read json")
	}

	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		var wrapper struct {
			Leads []Row `json:"leads"`
		}
		if err2 := json.Unmarshal(raw, &wrapper); err2 != nil {
			return nil, eris.Wrap(err, "ingest: parse json")
		}
		rows = wrapper.Leads
	}

	result := &Result{TotalRows: len(rows)}
	for _, row := range rows {
		i.importRow(ctx, row, source, result)
	}
	i.logResult(source, result)
	return result, nil
}

func (i *Importer) importRow(ctx context.Context, row Row, source string, result *Result) {
	lead, err := i.toLead(row, source)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}

	existing, err := i.store.FindLeadByIdentity(ctx, lead.Contact.Email, lead.Domain)
	if err != nil && !eris.Is(err, store.ErrNotFound) {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	if existing != nil {
		result.Skipped++
		return
	}

	if err := i.store.CreateLead(ctx, lead); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return
	}
	result.Imported++
}

func (i *Importer) toLead(row Row, source string) (*model.Lead, error) {
	domain := extractDomain(row.Domain)
	if domain == "" {
		domain = extractDomain(row.Website)
	}
	if domain == "" {
		domain = extractDomain(row.Email)
	}
	if domain == "" && row.Email == "" {
		return nil, eris.Errorf("ingest: row for %q has no domain, website or email", row.CompanyName)
	}
	if row.Email != "" {
		if _, err := mail.ParseAddress(row.Email); err != nil {
			return nil, eris.Errorf("ingest: invalid email %q", row.Email)
		}
	}

	now := i.now()
	lead := &model.Lead{
		ID:     uuid.NewString(),
		Domain: domain,
		Company: model.CompanyAttrs{
			Name: row.CompanyName,
		},
		Contact: model.ContactAttrs{
			FirstName:   row.FirstName,
			LastName:    row.LastName,
			Email:       strings.ToLower(strings.TrimSpace(row.Email)),
			Title:       row.Title,
			LinkedInURL: row.LinkedInURL,
		},
		EmailStatus: model.EmailPending,
		Status:      model.StatusNew,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	lead.MarkStageComplete(model.StageIngest, now)
	return lead, nil
}

func (i *Importer) logResult(source string, result *Result) {
	zap.L().Info("ingest: import finished",
		zap.String("source", source),
		zap.Int("total", result.TotalRows),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)),
	)
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	switch h {
	case "company", "name":
		return "company_name"
	case "company_website", "url":
		return "website"
	case "job_title":
		return "title"
	case "linkedin":
		return "linkedin_url"
	}
	return h
}

// extractDomain pulls a bare domain from a URL, email address or raw domain.
func extractDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		s = s[at+1:]
	} else if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Hostname()
	}
	s = strings.TrimPrefix(s, "www.")
	if !strings.Contains(s, ".") {
		return ""
	}
	return s
}
