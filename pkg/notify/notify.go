// Package notify delivers investment events to whoever wants to tell the user.
// Delivery is best-effort: a failed or dropped notification never affects the
// ledger write that produced it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventInvestmentPlaced    EventType = "investment_placed"
	EventInvestmentAccrued   EventType = "investment_accrued"
	EventInvestmentCompleted EventType = "investment_completed"
	EventWithdrawalRequested EventType = "withdrawal_requested"
)

type Event struct {
	Type         EventType
	UserID       string
	InvestmentID uuid.UUID
	Amount       decimal.Decimal
	At           time.Time
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Log writes each event to the logger.
type Log struct {
	log *logging.Logger
}

func NewLog(log *logging.Logger) *Log {
	return &Log{log: log.Component("notify")}
}

func (n *Log) Notify(_ context.Context, e Event) error {
	n.log.Info().
		Str("event", string(e.Type)).
		Str("user_id", e.UserID).
		Str("investment_id", e.InvestmentID.String()).
		Str("amount", e.Amount.StringFixed(2)).
		Time("at", e.At).
		Msg("notification")
	return nil
}

// Async hands events to next on a background goroutine. When the buffer is
// full the event is dropped and logged.
type Async struct {
	next   Notifier
	log    *logging.Logger
	events chan Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Notifier, buffer int, log *logging.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{next: next, log: log.Component("notify"), events: make(chan Event, buffer)}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer a.wg.Done()
	for e := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.next.Notify(ctx, e); err != nil {
			a.log.Warn().Err(err).Str("event", string(e.Type)).Str("user_id", e.UserID).Msg("notification failed")
		}
		cancel()
	}
}

// Notify enqueues e and returns immediately.
func (a *Async) Notify(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.events <- e:
	default:
		a.log.Warn().Str("event", string(e.Type)).Str("user_id", e.UserID).Msg("notification buffer full, dropping event")
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
