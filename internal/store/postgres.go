package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Narrowed so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool. Lead and campaign documents
// live in JSONB payloads with the filterable attributes mirrored to indexed
// columns.
type PostgresStore struct {
	pool Pool
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline paths.
var preparedStatements = map[string]string{
	"insert_lead":        `INSERT INTO leads (id, domain, email, status, tier, score, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"get_lead":           `SELECT payload FROM leads WHERE id = $1`,
	"transition_lead":    `UPDATE leads SET domain = $1, email = $2, status = $3, tier = $4, score = $5, payload = $6, updated_at = $7 WHERE id = $8 AND status = $9`,
	"eligible_leads":     `SELECT payload FROM leads WHERE status = $1 ORDER BY created_at LIMIT $2`,
	"insert_call":        `INSERT INTO provider_calls (id, provider, lead_id, stage, field_category, cost_usd, outcome, error, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"has_recent_success": `SELECT EXISTS (SELECT 1 FROM provider_calls WHERE lead_id = $1 AND provider = $2 AND field_category = $3 AND outcome = 'success' AND created_at > $4)`,
	"insert_ledger":      `INSERT INTO budget_ledger (id, provider, year, month, cost_usd, lead_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"month_spend":        `SELECT provider, COALESCE(SUM(cost_usd), 0) FROM budget_ledger WHERE year = $1 AND month = $2 GROUP BY provider`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	domain     TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	tier       TEXT NOT NULL DEFAULT '',
	score      DOUBLE PRECISION,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads (status, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_identity ON leads (email, domain);

CREATE TABLE IF NOT EXISTS lead_transitions (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_lead ON lead_transitions (lead_id, created_at);

CREATE TABLE IF NOT EXISTS provider_calls (
	id             TEXT PRIMARY KEY,
	provider       TEXT NOT NULL,
	lead_id        TEXT NOT NULL,
	stage          INT NOT NULL,
	field_category TEXT NOT NULL,
	cost_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
	outcome        TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_dedup ON provider_calls (lead_id, provider, field_category, outcome, created_at);

CREATE TABLE IF NOT EXISTS budget_ledger (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL,
	year       INT NOT NULL,
	month      INT NOT NULL,
	cost_usd   DOUBLE PRECISION NOT NULL,
	lead_id    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_month ON budget_ledger (year, month);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	state      TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_sends (
	id          TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	lead_id     TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sends_daily ON campaign_sends (campaign_id, sent_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	payload, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lead")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, domain, email, status, tier, score, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lead.ID, lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier), lead.Score, payload, lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert lead")
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM leads WHERE id = $1`, id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lead")
	}
	return unmarshalLead(payload)
}

func (s *PostgresStore) FindLeadByIdentity(ctx context.Context, email, domain string) (*model.Lead, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM leads WHERE (email = $1 AND email <> '') OR (domain = $2 AND domain <> '') ORDER BY created_at LIMIT 1`,
		email, domain,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find lead by identity")
	}
	return unmarshalLead(payload)
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	sql := `SELECT payload FROM leads`
	args := []any{}
	where := ""
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = ` WHERE status = $1`
	}
	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		if where == "" {
			where = ` WHERE tier = $1`
		} else {
			where += ` AND tier = $2`
		}
	}
	sql += where + ` ORDER BY created_at`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += ` LIMIT $` + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (s *PostgresStore) EligibleLeads(ctx context.Context, stage model.Stage, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM leads WHERE status = $1 ORDER BY created_at LIMIT $2`,
		string(stage.EligibleStatus()), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: eligible leads")
	}
	defer rows.Close()
	return scanLeads(rows)
}

// TransitionLead commits the status change and its audit row in one
// transaction: a crash can never leave one without the other.
func (s *PostgresStore) TransitionLead(ctx context.Context, lead *model.Lead, fromStatus model.LeadStatus) error {
	payload, err := json.Marshal(lead)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lead")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE leads SET domain = $1, email = $2, status = $3, tier = $4, score = $5, payload = $6, updated_at = $7 WHERE id = $8 AND status = $9`,
		lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier), lead.Score, payload, lead.UpdatedAt, lead.ID, string(fromStatus),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: transition lead")
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO lead_transitions (id, lead_id, from_status, to_status, created_at) VALUES (gen_random_uuid()::text, $1, $2, $3, $4)`,
		lead.ID, string(fromStatus), string(lead.Status), lead.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert transition audit")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit transition")
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()
	out := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		out[model.LeadStatus(status)] = count
	}
	return out, eris.Wrap(rows.Err(), "postgres: count by status rows")
}

func (s *PostgresStore) AppendCallRecord(ctx context.Context, rec model.ProviderCallRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_calls (id, provider, lead_id, stage, field_category, cost_usd, outcome, error, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Provider, rec.LeadID, int(rec.Stage), string(rec.FieldCategory), rec.CostUSD, string(rec.Outcome), rec.Error, rec.DurationMS, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert call record")
}

func (s *PostgresStore) HasRecentSuccess(ctx context.Context, leadID, providerName string, category model.FieldCategory, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM provider_calls WHERE lead_id = $1 AND provider = $2 AND field_category = $3 AND outcome = 'success' AND created_at > $4)`,
		leadID, providerName, string(category), since,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: recent success lookup")
}

func (s *PostgresStore) ListCallRecords(ctx context.Context, leadID string) ([]model.ProviderCallRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, lead_id, stage, field_category, cost_usd, outcome, error, duration_ms, created_at FROM provider_calls WHERE lead_id = $1 ORDER BY created_at`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list call records")
	}
	defer rows.Close()

	var out []model.ProviderCallRecord
	for rows.Next() {
		var rec model.ProviderCallRecord
		var stage int
		var category string
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.LeadID, &stage, &category, &rec.CostUSD, &outcome, &rec.Error, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan call record")
		}
		rec.Stage = model.Stage(stage)
		rec.FieldCategory = model.FieldCategory(category)
		rec.Outcome = model.CallOutcome(outcome)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: call record rows")
}

func (s *PostgresStore) AppendLedgerEntry(ctx context.Context, entry model.BudgetLedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO budget_ledger (id, provider, year, month, cost_usd, lead_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Provider, entry.Year, entry.Month, entry.CostUSD, entry.LeadID, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert ledger entry")
}

func (s *PostgresStore) MonthToDateSpend(ctx context.Context, year, month int) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, COALESCE(SUM(cost_usd), 0) FROM budget_ledger WHERE year = $1 AND month = $2 GROUP BY provider`,
		year, month,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: month-to-date spend")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var provider string
		var spend float64
		if err := rows.Scan(&provider, &spend); err != nil {
			return nil, eris.Wrap(err, "postgres: scan spend")
		}
		out[provider] = spend
	}
	return out, eris.Wrap(rows.Err(), "postgres: spend rows")
}

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal campaign")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, state, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, string(c.State), payload, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert campaign")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM campaigns WHERE id = $1`, id).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get campaign")
	}
	var c model.Campaign
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal campaign")
	}
	return &c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx, `SELECT payload FROM campaigns ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		var c model.Campaign
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal campaign")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: campaign rows")
}

func (s *PostgresStore) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal campaign")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET name = $1, state = $2, payload = $3, updated_at = $4 WHERE id = $5`,
		c.Name, string(c.State), payload, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update campaign")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CampaignSendsToday(ctx context.Context, campaignID string, now time.Time) (int, error) {
	midnight := now.UTC().Truncate(24 * time.Hour)
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM campaign_sends WHERE campaign_id = $1 AND sent_at >= $2`,
		campaignID, midnight,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: campaign sends today")
}

func (s *PostgresStore) RecordCampaignSend(ctx context.Context, campaignID, leadID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaign_sends (id, campaign_id, lead_id, sent_at) VALUES (gen_random_uuid()::text, $1, $2, $3)`,
		campaignID, leadID, at,
	)
	return eris.Wrap(err, "postgres: record campaign send")
}

func unmarshalLead(payload []byte) (*model.Lead, error) {
	var lead model.Lead
	if err := json.Unmarshal(payload, &lead); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal lead")
	}
	return &lead, nil
}

func scanLeads(rows pgx.Rows) ([]model.Lead, error) {
	var out []model.Lead
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		lead, err := unmarshalLead(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *lead)
	}
	return out, eris.Wrap(rows.Err(), "postgres: lead rows")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
