package accrual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcclellann/fredInvest/pkg/clock"
	"github.com/mcclellann/fredInvest/pkg/lock"
	"github.com/mcclellann/fredInvest/pkg/logging"
	"github.com/mcclellann/fredInvest/pkg/models"
)

// DefaultPollInterval bounds how stale due detection can get. It does not
// change how often a single investment accrues.
const DefaultPollInterval = 10 * time.Minute

const passLockName = "accrual-pass"

// Scheduler triggers accrual passes on a fixed interval.
type Scheduler struct {
	processor *Processor
	clock     clock.Clock
	interval  time.Duration
	locker    lock.Locker
	log       *logging.Logger

	mu   sync.Mutex
	last *models.PassReport
}

// NewScheduler creates a Scheduler. A nil locker lets passes overlap, which is
// safe but does redundant reads.
func NewScheduler(p *Processor, c clock.Clock, interval time.Duration, locker lock.Locker, log *logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = logging.NewSilent()
	}
	return &Scheduler{
		processor: p,
		clock:     c,
		interval:  interval,
		locker:    locker,
		log:       log.Component("scheduler"),
	}
}

// Interval returns the poll interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Tick runs one pass at the clock's current time.
func (s *Scheduler) Tick(ctx context.Context) (models.PassReport, error) {
	return s.run(ctx, "schedule")
}

// Trigger runs one pass on demand, e.g. from an administrator.
func (s *Scheduler) Trigger(ctx context.Context) (models.PassReport, error) {
	return s.run(ctx, "manual")
}

func (s *Scheduler) run(ctx context.Context, source string) (models.PassReport, error) {
	now := s.clock.Now()

	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx, passLockName)
		if err != nil {
			return models.PassReport{Now: now}, fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		if !ok {
			s.log.Info().Str("source", source).Msg("Accrual pass already running; skipping")
			return models.PassReport{Now: now, Skipped: true}, nil
		}
		defer release()
	}

	s.log.Debug().Str("source", source).Time("now", now).Msg("Running accrual pass")
	report, err := s.processor.RunPass(ctx, now)

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report, err
}

// LastReport returns the most recent pass report, if any.
func (s *Scheduler) LastReport() (models.PassReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return models.PassReport{}, false
	}
	return *s.last, true
}

// Run runs a pass immediately and then on every interval until ctx is done.
// It returns once the in-flight pass has finished.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Accrual scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Accrual pass failed")
		}
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Accrual scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
