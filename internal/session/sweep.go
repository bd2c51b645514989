package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepCron runs a sweep every five minutes.
const DefaultSweepCron = "*/5 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper evicts expired entries from a Store on a cron schedule. Expiry is
// already enforced on read; sweeping only bounds memory held by abandoned
// conversations.
type Sweeper struct {
	store *Store
	sched cron.Schedule
	now   Clock
	log   *zap.Logger
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Store  *Store
	Cron   string // defaults to DefaultSweepCron
	Clock  Clock  // defaults to time.Now
	Logger *zap.Logger
}

// NewSweeper parses the schedule and returns a Sweeper.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: sweeper: store is required")
	}
	expr := opts.Cron
	if expr == "" {
		expr = DefaultSweepCron
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("session: sweeper: parse %q: %w", expr, err)
	}
	s := &Sweeper{store: opts.Store, sched: sched, now: opts.Clock, log: opts.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// Next returns the duration from t until the next scheduled sweep.
func (s *Sweeper) Next(t time.Time) time.Duration {
	d := s.sched.Next(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// SweepOnce runs one full sweep and returns the number of evicted entries.
func (s *Sweeper) SweepOnce() int {
	removed := s.store.Sweep(0)
	s.log.Debug("session sweep", zap.Int("removed", removed), zap.Int("remaining", s.store.Len()))
	return removed
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.Next(s.now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.SweepOnce()
			timer.Reset(s.Next(s.now()))
		}
	}
}
