// Package budget bounds cumulative spend on paid external APIs against
// rolling daily and monthly ceilings. Callers authorize before each paid
// call and record the reconciled cost after; a denial is a normal terminal
// signal for the accounting period, not an error.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
)

// Ledger persists committed spend so restarts within a period do not
// forget it.
type Ledger interface {
	InsertCostEntry(ctx context.Context, entry model.CostEntry) error
	SumCostsSince(ctx context.Context, since time.Time) (float64, error)
}

// Denial explains why an authorization was refused.
type Denial struct {
	Ceiling string // "daily" or "monthly"
	Reason  string
}

func (d *Denial) String() string {
	return d.Reason
}

// Grant is an authorized reservation. Exactly one of Record or Release must
// be called: Record commits the reconciled actual cost to the ledger,
// Release returns the reservation after a call that failed before costing
// anything.
type Grant struct {
	enforcer *Enforcer
	op       string
	estUSD   float64
	once     sync.Once
}

// Enforcer tracks reconciled spend plus outstanding reservations against
// daily and monthly ceilings, evaluated in a configured time zone.
type Enforcer struct {
	mu       sync.Mutex
	ledger   Ledger
	daily    float64
	monthly  float64
	loc      *time.Location
	now      func() time.Time
	day      periodState
	month    periodState
	hydrated bool
}

type periodState struct {
	start    time.Time
	spent    float64
	reserved float64
}

// Config holds enforcer ceilings and time zone.
type Config struct {
	DailyCeilingUSD   float64 `yaml:"daily_ceiling_usd" mapstructure:"daily_ceiling_usd"`
	MonthlyCeilingUSD float64 `yaml:"monthly_ceiling_usd" mapstructure:"monthly_ceiling_usd"`
	Timezone          string  `yaml:"timezone" mapstructure:"timezone"`
}

// EnforcerOption configures the enforcer.
type EnforcerOption func(*Enforcer)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) EnforcerOption {
	return func(e *Enforcer) {
		e.now = now
	}
}

// NewEnforcer creates an Enforcer. An empty timezone means UTC.
func NewEnforcer(cfg Config, ledger Ledger, opts ...EnforcerOption) (*Enforcer, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, eris.Wrapf(err, "budget: load timezone %s", cfg.Timezone)
		}
	}
	e := &Enforcer{
		ledger:  ledger,
		daily:   cfg.DailyCeilingUSD,
		monthly: cfg.MonthlyCeilingUSD,
		loc:     loc,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Hydrate loads committed spend for the current periods from the ledger.
// Call once at startup; Authorize works without it but starts from zero.
func (e *Enforcer) Hydrate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollPeriods()

	daySum, err := e.ledger.SumCostsSince(ctx, e.day.start)
	if err != nil {
		return eris.Wrap(err, "budget: hydrate daily spend")
	}
	monthSum, err := e.ledger.SumCostsSince(ctx, e.month.start)
	if err != nil {
		return eris.Wrap(err, "budget: hydrate monthly spend")
	}

	e.day.spent = daySum
	e.month.spent = monthSum
	e.hydrated = true

	zap.L().Info("budget hydrated",
		zap.Float64("daily_spent_usd", daySum),
		zap.Float64("monthly_spent_usd", monthSum),
	)
	return nil
}

// Authorize reserves estUSD against both ceilings. On success the returned
// Grant must be resolved with Record or Release. On refusal the Grant is nil
// and the Denial names the ceiling that blocked it.
func (e *Enforcer) Authorize(op string, estUSD float64) (*Grant, *Denial) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollPeriods()

	if d := e.check(&e.day, e.daily, "daily", op, estUSD); d != nil {
		return nil, d
	}
	if d := e.check(&e.month, e.monthly, "monthly", op, estUSD); d != nil {
		return nil, d
	}

	e.day.reserved += estUSD
	e.month.reserved += estUSD
	return &Grant{enforcer: e, op: op, estUSD: estUSD}, nil
}

func (e *Enforcer) check(p *periodState, ceiling float64, name, op string, estUSD float64) *Denial {
	if ceiling <= 0 {
		return nil // unconfigured ceiling means unlimited
	}
	// A request that would land exactly on the ceiling is denied too: the
	// ceiling is a hard stop, not a target to spend up to.
	if p.spent+p.reserved+estUSD >= ceiling {
		return &Denial{
			Ceiling: name,
			Reason: fmt.Sprintf("%s ceiling reached: spent %.4f + reserved %.4f + %.4f for %s reaches %.2f",
				name, p.spent, p.reserved, estUSD, op, ceiling),
		}
	}
	return nil
}

// Record commits the reconciled actual cost, replacing the estimate in the
// running totals and persisting a ledger entry.
func (g *Grant) Record(ctx context.Context, actualUSD float64) error {
	var err error
	g.once.Do(func() {
		e := g.enforcer
		e.mu.Lock()
		releaseReservation(&e.day, g.estUSD)
		releaseReservation(&e.month, g.estUSD)
		e.day.spent += actualUSD
		e.month.spent += actualUSD
		e.mu.Unlock()

		err = e.ledger.InsertCostEntry(ctx, model.CostEntry{
			ID:        uuid.New().String(),
			Timestamp: e.now().In(e.loc),
			Operation: g.op,
			CostUSD:   actualUSD,
		})
	})
	return eris.Wrap(err, "budget: record")
}

// Release cancels the reservation without recording spend. Used when an
// authorized call fails transiently before incurring cost.
func (g *Grant) Release() {
	g.once.Do(func() {
		e := g.enforcer
		e.mu.Lock()
		releaseReservation(&e.day, g.estUSD)
		releaseReservation(&e.month, g.estUSD)
		e.mu.Unlock()
	})
}

// releaseReservation clamps at zero so a grant resolved after a period
// boundary cannot drive the fresh period's reservation negative.
func releaseReservation(p *periodState, estUSD float64) {
	p.reserved -= estUSD
	if p.reserved < 0 {
		p.reserved = 0
	}
}

// Standing reports the current period totals for the status surface.
type Standing struct {
	DailySpentUSD     float64 `json:"daily_spent_usd"`
	DailyCeilingUSD   float64 `json:"daily_ceiling_usd"`
	MonthlySpentUSD   float64 `json:"monthly_spent_usd"`
	MonthlyCeilingUSD float64 `json:"monthly_ceiling_usd"`
	DayStart          string  `json:"day_start"`
	MonthStart        string  `json:"month_start"`
}

// Standing returns the current totals (reconciled spend, excluding
// outstanding reservations).
func (e *Enforcer) Standing() Standing {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollPeriods()
	return Standing{
		DailySpentUSD:     e.day.spent,
		DailyCeilingUSD:   e.daily,
		MonthlySpentUSD:   e.month.spent,
		MonthlyCeilingUSD: e.monthly,
		DayStart:          e.day.start.Format(time.RFC3339),
		MonthStart:        e.month.start.Format(time.RFC3339),
	}
}

// rollPeriods resets totals when the clock crosses a period boundary in the
// configured zone. Ceilings reset at local midnight and the first of the
// month; reservations outstanding across a boundary stay attributed to the
// period they were granted in.
func (e *Enforcer) rollPeriods() {
	now := e.now().In(e.loc)

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	if !dayStart.Equal(e.day.start) {
		e.day = periodState{start: dayStart}
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.loc)
	if !monthStart.Equal(e.month.start) {
		e.month = periodState{start: monthStart}
	}
}
