package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Single-file local
// backend for development and one-off batch runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Serialize writers; modernc.org/sqlite does not support concurrent
	// write transactions on one connection pool.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	tier       TEXT NOT NULL DEFAULT '',
	score      REAL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads (status, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_identity ON leads (email, domain);

CREATE TABLE IF NOT EXISTS lead_transitions (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_lead ON lead_transitions (lead_id, created_at);

CREATE TABLE IF NOT EXISTS provider_calls (
	id             TEXT PRIMARY KEY,
	provider       TEXT NOT NULL,
	lead_id        TEXT NOT NULL,
	stage          INTEGER NOT NULL,
	field_category TEXT NOT NULL,
	cost_usd       REAL NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_dedup ON provider_calls (lead_id, provider, field_category, outcome, created_at);

CREATE TABLE IF NOT EXISTS budget_ledger (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	cost_usd   REAL NOT NULL,
	lead_id    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_month ON budget_ledger (year, month);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	state      TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_sends (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	lead_id     TEXT NOT NULL,
	sent_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sends_daily ON campaign_sends (campaign_id, sent_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	payload, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, domain, email, status, tier, score, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier), lead.Score, string(payload), lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM leads WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get lead")
	}
	return unmarshalLead([]byte(payload))
}

func (s *SQLiteStore) FindLeadByIdentity(ctx context.Context, email, domain string) (*model.Lead, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM leads WHERE (email = ? AND email <> '') OR (domain = ? AND domain <> '') ORDER BY created_at LIMIT 1`,
		email, domain,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find lead by identity")
	}
	return unmarshalLead([]byte(payload))
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT payload FROM leads`
	args := []any{}
	switch {
	case filter.Status != "" && filter.Tier != "":
		query += ` WHERE status = ? AND tier = ?`
		args = append(args, string(filter.Status), string(filter.Tier))
	case filter.Status != "":
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	case filter.Tier != "":
		query += ` WHERE tier = ?`
		args = append(args, string(filter.Tier))
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()
	return s.scanLeadRows(rows)
}

func (s *SQLiteStore) EligibleLeads(ctx context.Context, stage model.Stage, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM leads WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(stage.EligibleStatus()), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: eligible leads")
	}
	defer rows.Close()
	return s.scanLeadRows(rows)
}

// TransitionLead commits the status change and its audit row in one
// transaction.
func (s *SQLiteStore) TransitionLead(ctx context.Context, lead *model.Lead, fromStatus model.LeadStatus) error {
	payload, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET domain = ?, email = ?, status = ?, tier = ?, score = ?, payload = ?, updated_at = ? WHERE id = ? AND status = ?`,
		lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier), lead.Score, string(payload), lead.UpdatedAt, lead.ID, string(fromStatus),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: transition lead")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: transition lead rows affected")
	}
	if n == 0 {
		return ErrStaleTransition
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lead_transitions (id, lead_id, from_status, to_status, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), lead.ID, string(fromStatus), string(lead.Status), lead.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert transition audit")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()
	out := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		out[model.LeadStatus(status)] = count
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count rows")
}

func (s *SQLiteStore) AppendCallRecord(ctx context.Context, rec model.ProviderCallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_calls (id, provider, lead_id, stage, field_category, cost_usd, outcome, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.LeadID, int(rec.Stage), string(rec.FieldCategory), rec.CostUSD, string(rec.Outcome), rec.Error, rec.DurationMS, rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert call record")
}

func (s *SQLiteStore) HasRecentSuccess(ctx context.Context, leadID, providerName string, category model.FieldCategory, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM provider_calls WHERE lead_id = ? AND provider = ? AND field_category = ? AND outcome = 'success' AND created_at > ?)`,
		leadID, providerName, string(category), since,
	).Scan(&exists)
	return exists, eris.Wrap(err, "sqlite: recent success lookup")
}

func (s *SQLiteStore) ListCallRecords(ctx context.Context, leadID string) ([]model.ProviderCallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, lead_id, stage, field_category, cost_usd, outcome, error, duration_ms, created_at FROM provider_calls WHERE lead_id = ? ORDER BY created_at`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list call records")
	}
	defer rows.Close()

	var out []model.ProviderCallRecord
	for rows.Next() {
		var rec model.ProviderCallRecord
		var stage int
		var category, outcome string
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.LeadID, &stage, &category, &rec.CostUSD, &outcome, &rec.Error, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan call record")
		}
		rec.Stage = model.Stage(stage)
		rec.FieldCategory = model.FieldCategory(category)
		rec.Outcome = model.CallOutcome(outcome)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: call record rows")
}

func (s *SQLiteStore) AppendLedgerEntry(ctx context.Context, entry model.BudgetLedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_ledger (id, provider, year, month, cost_usd, lead_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Provider, entry.Year, entry.Month, entry.CostUSD, entry.LeadID, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert ledger entry")
}

func (s *SQLiteStore) MonthToDateSpend(ctx context.Context, year, month int) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, COALESCE(SUM(cost_usd), 0) FROM budget_ledger WHERE year = ? AND month = ? GROUP BY provider`,
		year, month,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: month-to-date spend")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var provider string
		var spend float64
		if err := rows.Scan(&provider, &spend); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan spend")
		}
		out[provider] = spend
	}
	return out, eris.Wrap(rows.Err(), "sqlite: spend rows")
}

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal campaign")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, state, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.State), string(payload), c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert campaign")
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM campaigns WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get campaign")
	}
	var c model.Campaign
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal campaign")
	}
	return &c, nil
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM campaigns ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		var c model.Campaign
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal campaign")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: campaign rows")
}

func (s *SQLiteStore) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal campaign")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, state = ?, payload = ?, updated_at = ? WHERE id = ?`,
		c.Name, string(c.State), string(payload), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update campaign")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update campaign rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CampaignSendsToday(ctx context.Context, campaignID string, now time.Time) (int, error) {
	midnight := now.UTC().Truncate(24 * time.Hour)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_sends WHERE campaign_id = ? AND sent_at >= ?`,
		campaignID, midnight,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: campaign sends today")
}

func (s *SQLiteStore) RecordCampaignSend(ctx context.Context, campaignID, leadID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_sends (id, campaign_id, lead_id, sent_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), campaignID, leadID, at,
	)
	return eris.Wrap(err, "sqlite: record campaign send")
}

func (s *SQLiteStore) scanLeadRows(rows *sql.Rows) ([]model.Lead, error) {
	var out []model.Lead
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		lead, err := unmarshalLead([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, *lead)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: lead rows")
}
