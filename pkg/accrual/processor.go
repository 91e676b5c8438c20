// Package accrual advances running investments by one day's return per
// elapsed accrual window and closes them out at maturity.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/fredInvest/pkg/clock"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/mcclellann/fredInvest/pkg/models"
	"github.com/mcclellann/fredInvest/pkg/notify"
	"github.com/mcclellann/fredInvest/pkg/store"
)

// MaturityPolicy decides whether the accrual applied at now is the last one.
type MaturityPolicy int

const (
	// MaturityDay closes an investment on the pass whose accrual window reaches
	// its end date, or on any pass once the end date is at or before the start
	// of the current UTC day.
	MaturityDay MaturityPolicy = iota
	// EndInstant closes an investment on the first pass at or after its end date.
	EndInstant
)

// ParseMaturityPolicy maps a config value to a policy.
func ParseMaturityPolicy(s string) (MaturityPolicy, error) {
	switch s {
	case "", "maturity_day":
		return MaturityDay, nil
	case "end_instant":
		return EndInstant, nil
	}
	return MaturityDay, fmt.Errorf("unknown maturity policy %q", s)
}

func (p MaturityPolicy) String() string {
	if p == EndInstant {
		return "end_instant"
	}
	return "maturity_day"
}

// Matures reports whether the accrual applied to inv at now is its last one.
//
// Under MaturityDay the window being paid runs from the previous accrual (or
// the start date) for one AccrualWindow. Late passes shift each window forward
// by the poll delay, so the window end, not the calendar day of now, decides
// whether the end date has been reached.
func (p MaturityPolicy) Matures(inv *models.Investment, now time.Time) bool {
	end := inv.EndDate
	if p == EndInstant {
		return !end.After(now)
	}
	anchor := inv.StartDate
	if inv.LastIncrementDate != nil {
		anchor = *inv.LastIncrementDate
	}
	return !end.After(anchor.Add(store.AccrualWindow)) || !end.After(clock.DayStart(now))
}

// Processor runs accrual passes against a Storage.
type Processor struct {
	storage  store.Storage
	notifier notify.Notifier
	log      *logging.Logger
	maturity MaturityPolicy
	clock    clock.Clock
}

type Option func(*Processor)

func WithNotifier(n notify.Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) { p.log = l.Component("accrual") }
}

func WithMaturityPolicy(m MaturityPolicy) Option {
	return func(p *Processor) { p.maturity = m }
}

// WithClock sets the clock used to stamp pass reports.
func WithClock(c clock.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

// NewProcessor creates a Processor over s.
func NewProcessor(s store.Storage, opts ...Option) *Processor {
	p := &Processor{
		storage:  s,
		notifier: notify.Nop{},
		log:      logging.NewSilent(),
		maturity: MaturityDay,
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunPass advances every investment due at now.
//
// Each investment is updated in its own store transaction guarded by its
// version, so a pass may run concurrently with another pass: the loser of a
// race sees ErrConflict and leaves the record alone. Per-record failures are
// collected in the report and do not stop the pass; the record stays due and
// is retried on the next pass. The returned error is non-nil only when the due
// set could not be read or ctx was cancelled.
func (p *Processor) RunPass(ctx context.Context, now time.Time) (models.PassReport, error) {
	now = now.UTC()
	report := models.PassReport{StartedAt: p.clock.Now().UTC(), Now: now}

	due, err := p.storage.FindDueInvestments(ctx, now)
	if err != nil {
		report.FinishedAt = p.clock.Now().UTC()
		return report, fmt.Errorf("failed to get due investments: %w", err)
	}

	for _, inv := range due {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = p.clock.Now().UTC()
			p.log.Warn().Int("remaining", len(due)-report.Examined).Msg("Accrual pass interrupted; remaining investments stay due")
			return report, err
		}
		report.Examined++
		p.advance(ctx, inv, now, &report)
	}

	report.FinishedAt = p.clock.Now().UTC()
	p.log.Info().
		Time("now", now).
		Int("examined", report.Examined).
		Int("accrued", report.Accrued).
		Int("completed", report.Completed).
		Int("conflicts", report.Conflicts).
		Int("failures", len(report.Failures)).
		Msg("Accrual pass complete")
	return report, nil
}

func (p *Processor) advance(ctx context.Context, inv *models.Investment, now time.Time, report *models.PassReport) {
	if err := checkConsistency(inv, now); err != nil {
		p.log.Error().Err(err).Str("investment_id", inv.ID.String()).Msg("Investment violates accrual invariants")
		report.Failures = append(report.Failures, models.RecordFailure{InvestmentID: inv.ID, Error: err.Error(), Err: err})
		return
	}
	if !store.IsDue(inv, now) {
		return
	}

	increment := inv.DailyIncrement()
	update := models.AccrualUpdate{
		PayoutAmount:      inv.PayoutAmount.Add(increment),
		LastIncrementDate: now,
		Status:            models.InvestmentStatusRunning,
	}
	maturing := p.maturity.Matures(inv, now)
	if maturing {
		update.Status = models.InvestmentStatusCompleted
	}

	err := p.storage.UpdateInvestmentAccrual(ctx, inv.ID, inv.Version, update)
	switch {
	case errors.Is(err, store.ErrConflict):
		report.Conflicts++
		p.log.Debug().Str("investment_id", inv.ID.String()).Msg("Investment advanced by a concurrent pass; skipping")
		return
	case err != nil:
		perr := &models.PersistenceError{Op: "accrue investment", ID: inv.ID, Err: err}
		report.Failures = append(report.Failures, models.RecordFailure{InvestmentID: inv.ID, Error: perr.Error(), Err: perr})
		p.log.Error().Err(err).Str("investment_id", inv.ID.String()).Msg("Failed to persist accrual; will retry next pass")
		return
	}

	report.Accrued++
	p.log.Info().
		Str("investment_id", inv.ID.String()).
		Str("increment", increment.StringFixed(2)).
		Str("payout", update.PayoutAmount.StringFixed(2)).
		Msg("Accrued daily return")

	event := notify.Event{
		Type:         notify.EventInvestmentAccrued,
		UserID:       inv.UserID,
		InvestmentID: inv.ID,
		Amount:       update.PayoutAmount,
		At:           now,
	}
	if maturing {
		report.Completed++
		event.Type = notify.EventInvestmentCompleted
		p.log.Info().Str("investment_id", inv.ID.String()).Str("payout", update.PayoutAmount.StringFixed(2)).Msg("Investment marked as completed")
	}
	if err := p.notifier.Notify(ctx, event); err != nil {
		p.log.Warn().Err(err).Str("investment_id", inv.ID.String()).Msg("Notification failed")
	}
}

func checkConsistency(inv *models.Investment, now time.Time) error {
	if err := inv.CheckPayout(); err != nil {
		return err
	}
	if inv.LastIncrementDate != nil && inv.LastIncrementDate.After(now) {
		return &models.InconsistentStateError{
			InvestmentID: inv.ID,
			Reason:       fmt.Sprintf("last increment %s is after now %s", inv.LastIncrementDate.Format(time.RFC3339), now.Format(time.RFC3339)),
		}
	}
	return nil
}
