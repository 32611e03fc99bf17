// Package budget enforces the hard monthly spend cap across all paid
// providers. The Ledger is the single point of truth for reservations and
// committed spend; granting a reservation and incrementing the provisional
// total is one indivisible operation.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
)

// ExhaustedError reports that the monthly cap blocks further spend. It halts
// the whole run rather than failing individual leads.
type ExhaustedError struct {
	SpentUSD float64
	CapUSD   float64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget: monthly cap reached (spent %.4f of %.2f USD)", e.SpentUSD, e.CapUSD)
}

// IsExhausted returns true if the error is a budget exhaustion.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return eris.As(err, &ee)
}

// PostingStore persists committed ledger entries and restores month-to-date
// spend on startup.
type PostingStore interface {
	AppendLedgerEntry(ctx context.Context, entry model.BudgetLedgerEntry) error
	MonthToDateSpend(ctx context.Context, year, month int) (map[string]float64, error)
}

// Options configures a Ledger.
type Options struct {
	MonthlyCapUSD  float64
	AlertThreshold float64 // fraction of cap that triggers a warning log
	HardStop       bool    // when false, reservations are always granted
	Location       *time.Location
	Now            func() time.Time
}

// Reservation is a provisional, atomic hold against the cap. Exactly one of
// Commit or Release must follow.
type Reservation struct {
	id        string
	provider  string
	amountUSD float64
	settled   bool
}

// Provider returns the provider the hold was taken for.
func (r *Reservation) Provider() string { return r.provider }

// AmountUSD returns the size of the provisional hold.
func (r *Reservation) AmountUSD() float64 { return r.amountUSD }

// Snapshot is a read-only view of the current month's budget.
type Snapshot struct {
	CapUSD       float64            `json:"cap_usd"`
	SpentUSD     float64            `json:"spent_usd"`
	ReservedUSD  float64            `json:"reserved_usd"`
	RemainingUSD float64            `json:"remaining_usd"`
	PercentUsed  float64            `json:"percent_used"`
	OverBudget   bool               `json:"over_budget"`
	ByProvider   map[string]float64 `json:"by_provider"`
	Month        string             `json:"month"`
}

// Ledger tracks committed and reserved spend for the active calendar month.
type Ledger struct {
	mu sync.Mutex

	capUSD    float64
	alertFrac float64
	hardStop  bool
	loc       *time.Location
	now       func() time.Time
	store     PostingStore

	monthKey  string
	committed map[string]float64
	reserved  float64
	alerted   bool
}

// NewLedger creates a Ledger. The store may be nil (in-memory accounting
// only, used in tests).
func NewLedger(opts Options, store PostingStore) *Ledger {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	alert := opts.AlertThreshold
	if alert <= 0 {
		alert = 0.8
	}
	l := &Ledger{
		capUSD:    opts.MonthlyCapUSD,
		alertFrac: alert,
		hardStop:  opts.HardStop,
		loc:       loc,
		now:       now,
		store:     store,
		committed: make(map[string]float64),
	}
	l.monthKey = l.keyFor(now())
	return l
}

// Prime loads the active month's committed spend from the store so that
// restarts keep honoring the cap.
func (l *Ledger) Prime(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	t := l.now().In(l.loc)
	spend, err := l.store.MonthToDateSpend(ctx, t.Year(), int(t.Month()))
	if err != nil {
		return eris.Wrap(err, "budget: prime month-to-date spend")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollMonthLocked()
	for provider, usd := range spend {
		l.committed[provider] += usd
	}
	return nil
}

// Reserve atomically checks the cap and places a provisional hold. No two
// concurrent reservations may jointly overcommit past the cap.
func (l *Ledger) Reserve(provider string, estimatedUSD float64) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollMonthLocked()

	spent := l.spentLocked()
	if l.hardStop && spent+l.reserved+estimatedUSD > l.capUSD {
		return nil, &ExhaustedError{SpentUSD: spent + l.reserved, CapUSD: l.capUSD}
	}

	l.reserved += estimatedUSD
	return &Reservation{
		id:        uuid.NewString(),
		provider:  provider,
		amountUSD: estimatedUSD,
	}, nil
}

// Commit finalizes a reservation with the actual cost, which may differ from
// the estimate, and appends the posting to the store.
func (l *Ledger) Commit(ctx context.Context, res *Reservation, actualUSD float64, leadID string) error {
	l.mu.Lock()
	if res.settled {
		l.mu.Unlock()
		return eris.New("budget: reservation already settled")
	}
	res.settled = true
	l.rollMonthLocked()
	l.reserved -= res.amountUSD
	l.committed[res.provider] += actualUSD
	spent := l.spentLocked()
	alertNow := !l.alerted && l.capUSD > 0 && spent >= l.capUSD*l.alertFrac
	if alertNow {
		l.alerted = true
	}
	t := l.now().In(l.loc)
	l.mu.Unlock()

	if alertNow {
		zap.L().Warn("budget: alert threshold reached",
			zap.Float64("spent_usd", spent),
			zap.Float64("cap_usd", l.capUSD),
		)
	}

	if l.store == nil {
		return nil
	}
	entry := model.BudgetLedgerEntry{
		ID:        res.id,
		Provider:  res.provider,
		Year:      t.Year(),
		Month:     int(t.Month()),
		CostUSD:   actualUSD,
		LeadID:    leadID,
		CreatedAt: t,
	}
	if err := l.store.AppendLedgerEntry(ctx, entry); err != nil {
		return eris.Wrap(err, "budget: append ledger entry")
	}
	return nil
}

// Release returns a provisional hold without posting any cost. Called when a
// call is skipped, e.g. deduplicated.
func (l *Ledger) Release(res *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if res.settled {
		return
	}
	res.settled = true
	l.reserved -= res.amountUSD
}

// Exhausted reports whether committed spend has reached the cap.
func (l *Ledger) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollMonthLocked()
	return l.hardStop && l.spentLocked() >= l.capUSD
}

// Status returns a read-only snapshot for reporting.
func (l *Ledger) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollMonthLocked()

	spent := l.spentLocked()
	byProvider := make(map[string]float64, len(l.committed))
	for p, usd := range l.committed {
		byProvider[p] = usd
	}
	pct := 0.0
	if l.capUSD > 0 {
		pct = spent / l.capUSD * 100
	}
	return Snapshot{
		CapUSD:       l.capUSD,
		SpentUSD:     spent,
		ReservedUSD:  l.reserved,
		RemainingUSD: l.capUSD - spent,
		PercentUsed:  pct,
		OverBudget:   spent >= l.capUSD,
		ByProvider:   byProvider,
		Month:        l.monthKey,
	}
}

func (l *Ledger) spentLocked() float64 {
	var total float64
	for _, usd := range l.committed {
		total += usd
	}
	return total
}

// rollMonthLocked resets in-memory accounting when the calendar month flips
// in the configured timezone. Outstanding holds carry over; postings for the
// old month stay in the store.
func (l *Ledger) rollMonthLocked() {
	key := l.keyFor(l.now())
	if key == l.monthKey {
		return
	}
	l.monthKey = key
	l.committed = make(map[string]float64)
	l.alerted = false
}

func (l *Ledger) keyFor(t time.Time) string {
	t = t.In(l.loc)
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
