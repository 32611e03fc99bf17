package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

type fakePostingStore struct {
	mu      sync.Mutex
	entries []model.BudgetLedgerEntry
	spend   map[string]float64
}

func (f *fakePostingStore) AppendLedgerEntry(ctx context.Context, entry model.BudgetLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakePostingStore) MonthToDateSpend(ctx context.Context, year, month int) (map[string]float64, error) {
	return f.spend, nil
}

func newTestLedger(capUSD float64) *Ledger {
	return NewLedger(Options{MonthlyCapUSD: capUSD, HardStop: true}, nil)
}

func TestReserveCommit(t *testing.T) {
	l := newTestLedger(1.0)

	res, err := l.Reserve("apollo", 0.03)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), res, 0.03, "lead-1"))

	snap := l.Status()
	assert.InDelta(t, 0.03, snap.SpentUSD, 1e-9)
	assert.InDelta(t, 0.0, snap.ReservedUSD, 1e-9)
	assert.InDelta(t, 0.97, snap.RemainingUSD, 1e-9)
}

func TestReserveDeniedAtCap(t *testing.T) {
	l := newTestLedger(0.10)

	res, err := l.Reserve("clearbit", 0.10)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), res, 0.10, "lead-1"))

	_, err = l.Reserve("clearbit", 0.10)
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
}

func TestOutstandingReservationsCountAgainstCap(t *testing.T) {
	l := newTestLedger(0.10)

	_, err := l.Reserve("apollo", 0.06)
	require.NoError(t, err)

	// Committed spend is still zero but the hold blocks overcommit.
	_, err = l.Reserve("apollo", 0.06)
	assert.True(t, IsExhausted(err))
}

func TestReleaseReturnsHold(t *testing.T) {
	l := newTestLedger(0.10)

	res, err := l.Reserve("hunter", 0.08)
	require.NoError(t, err)
	l.Release(res)

	_, err = l.Reserve("hunter", 0.08)
	assert.NoError(t, err)
}

func TestCommitTwiceRejected(t *testing.T) {
	l := newTestLedger(1.0)
	res, err := l.Reserve("apollo", 0.03)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), res, 0.03, ""))
	assert.Error(t, l.Commit(context.Background(), res, 0.03, ""))
}

func TestConcurrentReservationsNeverOvercommit(t *testing.T) {
	// 600 workers each reserving 1.00 against a 500.00 cap: exactly 500
	// reservations may succeed.
	l := newTestLedger(500)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 600; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve("apollo", 1.0); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, granted)
}

func TestCommitActualMayDifferFromEstimate(t *testing.T) {
	l := newTestLedger(1.0)

	res, err := l.Reserve("anthropic", 0.05)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), res, 0.012, "lead-1"))

	assert.InDelta(t, 0.012, l.Status().SpentUSD, 1e-9)
}

func TestCommitAppendsPosting(t *testing.T) {
	fs := &fakePostingStore{}
	l := NewLedger(Options{MonthlyCapUSD: 1, HardStop: true}, fs)

	res, err := l.Reserve("zerobounce", 0.008)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), res, 0.008, "lead-7"))

	require.Len(t, fs.entries, 1)
	assert.Equal(t, "zerobounce", fs.entries[0].Provider)
	assert.Equal(t, "lead-7", fs.entries[0].LeadID)
	assert.InDelta(t, 0.008, fs.entries[0].CostUSD, 1e-9)
}

func TestPrimeRestoresSpend(t *testing.T) {
	fs := &fakePostingStore{spend: map[string]float64{"apollo": 0.09}}
	l := NewLedger(Options{MonthlyCapUSD: 0.10, HardStop: true}, fs)
	require.NoError(t, l.Prime(context.Background()))

	_, err := l.Reserve("apollo", 0.03)
	assert.True(t, IsExhausted(err))
}

func TestMonthRollResetsSpend(t *testing.T) {
	now := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewLedger(Options{MonthlyCapUSD: 0.10, HardStop: true, Now: clock}, nil)

	res, err := l.Reserve("apollo", 0.10)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), res, 0.10, ""))
	assert.True(t, l.Exhausted())

	now = time.Date(2026, 2, 1, 0, 1, 0, 0, time.UTC)
	assert.False(t, l.Exhausted())
	assert.Equal(t, "2026-02", l.Status().Month)
	assert.InDelta(t, 0.0, l.Status().SpentUSD, 1e-9)
}

func TestSoftStopAlwaysGrants(t *testing.T) {
	l := NewLedger(Options{MonthlyCapUSD: 0.01, HardStop: false}, nil)
	for i := 0; i < 5; i++ {
		res, err := l.Reserve("apollo", 0.03)
		require.NoError(t, err)
		require.NoError(t, l.Commit(context.Background(), res, 0.03, ""))
	}
	assert.True(t, l.Status().OverBudget)
}

func TestStatusByProvider(t *testing.T) {
	l := newTestLedger(1)
	for _, p := range []string{"apollo", "apollo", "clearbit"} {
		res, err := l.Reserve(p, 0.03)
		require.NoError(t, err)
		require.NoError(t, l.Commit(context.Background(), res, 0.03, ""))
	}
	snap := l.Status()
	assert.InDelta(t, 0.06, snap.ByProvider["apollo"], 1e-9)
	assert.InDelta(t, 0.03, snap.ByProvider["clearbit"], 1e-9)
}
