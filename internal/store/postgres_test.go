package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresGetLeadRoundtrip(t *testing.T) {
	st, mock := newMockStore(t)
	lead := NewTestLead("acme.io", "ada@acme.io")
	payload, err := json.Marshal(lead)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM leads").
		WithArgs(lead.ID).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.ID, got.ID)
	assert.Equal(t, "acme.io", got.Domain)
	assert.Equal(t, model.StatusNew, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetLeadNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT payload FROM leads").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetLead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionLeadCommitsAudit(t *testing.T) {
	st, mock := newMockStore(t)
	lead := NewTestLead("acme.io", "ada@acme.io")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leads SET").
		WithArgs(lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier),
			lead.Score, pgxmock.AnyArg(), lead.UpdatedAt, lead.ID, string(model.StatusNew)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO lead_transitions").
		WithArgs(lead.ID, string(model.StatusNew), string(lead.Status), lead.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, st.TransitionLead(context.Background(), lead, model.StatusNew))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionLeadStale(t *testing.T) {
	st, mock := newMockStore(t)
	lead := NewTestLead("acme.io", "ada@acme.io")

	// Zero rows updated means another worker already advanced the lead. The
	// transaction rolls back; no audit row lands.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leads SET").
		WithArgs(lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier),
			lead.Score, pgxmock.AnyArg(), lead.UpdatedAt, lead.ID, string(model.StatusNew)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := st.TransitionLead(context.Background(), lead, model.StatusNew)
	assert.ErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionLeadAuditFailureRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	lead := NewTestLead("acme.io", "ada@acme.io")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE leads SET").
		WithArgs(lead.Domain, lead.Contact.Email, string(lead.Status), string(lead.Tier),
			lead.Score, pgxmock.AnyArg(), lead.UpdatedAt, lead.ID, string(model.StatusNew)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO lead_transitions").
		WithArgs(lead.ID, string(model.StatusNew), string(lead.Status), lead.UpdatedAt).
		WillReturnError(eris.New("disk full"))
	mock.ExpectRollback()

	err := st.TransitionLead(context.Background(), lead, model.StatusNew)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendLedgerEntry(t *testing.T) {
	st, mock := newMockStore(t)
	entry := model.BudgetLedgerEntry{
		ID:        "entry-1",
		Provider:  "apollo",
		Year:      2026,
		Month:     8,
		CostUSD:   0.03,
		LeadID:    "lead-1",
		CreatedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO budget_ledger").
		WithArgs(entry.ID, entry.Provider, entry.Year, entry.Month, entry.CostUSD, entry.LeadID, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.AppendLedgerEntry(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMonthToDateSpend(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT provider, COALESCE").
		WithArgs(2026, 8).
		WillReturnRows(pgxmock.NewRows([]string{"provider", "sum"}).
			AddRow("apollo", 1.23).
			AddRow("clearbit", 0.40))

	spend, err := st.MonthToDateSpend(context.Background(), 2026, 8)
	require.NoError(t, err)
	assert.InDelta(t, 1.23, spend["apollo"], 1e-9)
	assert.InDelta(t, 0.40, spend["clearbit"], 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHasRecentSuccess(t *testing.T) {
	st, mock := newMockStore(t)
	since := time.Now().Add(-720 * time.Hour)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("lead-1", "apollo", "company", since).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	dup, err := st.HasRecentSuccess(context.Background(), "lead-1", "apollo", model.CategoryCompany, since)
	require.NoError(t, err)
	assert.True(t, dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountByStatus(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("new", 10).
			AddRow("scored", 4))

	counts, err := st.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, counts[model.StatusNew])
	assert.Equal(t, 4, counts[model.StatusScored])
	require.NoError(t, mock.ExpectationsWereMet())
}
