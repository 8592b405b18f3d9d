package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is the body executed when a trigger fires.
type Job func(ctx context.Context) error

// Clock abstracts wall-clock access so the loop can be driven in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Observer receives trigger outcomes, typically for metrics.
type Observer interface {
	ObserveTrigger(name string, duration time.Duration, err error)
	ObserveMisfire(name string)
}

// Trigger binds a cron expression to a job.
//
// Daily triggers fire at most once per Run, on the current day, within the
// misfire grace window. Periodic triggers fire on every occurrence of Spec and
// optionally once when Run starts. A Final trigger ends Run once it has fired.
type Trigger struct {
	Name       string
	Spec       string
	Job        Job
	Periodic   bool
	RunOnStart bool
	Final      bool
}

// Config configures a Scheduler.
type Config struct {
	Location     *time.Location
	MisfireGrace time.Duration
	Clock        Clock
	Logger       *zap.Logger
	Observer     Observer
}

type entry struct {
	trigger  Trigger
	schedule cron.Schedule
	next     time.Time
	done     bool
	// onStart is set until a RunOnStart trigger has had its startup run.
	onStart bool
}

// Scheduler runs triggers one at a time from a single loop.
type Scheduler struct {
	loc      *time.Location
	grace    time.Duration
	clock    Clock
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	entries []*entry
	running bool
}

// New builds a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		loc:      cfg.Location,
		grace:    cfg.MisfireGrace,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// Add registers a trigger. Spec accepts standard five-field cron expressions
// and descriptors such as "@every 1h".
func (s *Scheduler) Add(t Trigger) error {
	if t.Job == nil {
		return fmt.Errorf("trigger %s has no job", t.Name)
	}
	schedule, err := cron.ParseStandard(t.Spec)
	if err != nil {
		return fmt.Errorf("parse trigger %s spec %q: %w", t.Name, t.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.entries = append(s.entries, &entry{trigger: t, schedule: schedule})
	return nil
}

// WithinGrace reports whether a trigger scheduled at scheduled may still fire at now.
func WithinGrace(scheduled, now time.Time, grace time.Duration) bool {
	return !now.Before(scheduled) && !now.After(scheduled.Add(grace))
}

// Run drives the registered triggers until a Final trigger has fired, every
// daily trigger has fired or been skipped, a job returns a Fatal error, or ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	entries := s.entries
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.plan(entries, s.clock.Now().In(s.loc))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e := nextDue(entries)
		if e == nil {
			s.logger.Sugar().Infow("daily trigger set exhausted")
			return nil
		}

		if wait := e.next.Sub(s.clock.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(wait):
			}
		}

		now := s.clock.Now().In(s.loc)
		if !e.trigger.Periodic {
			e.done = true
			if !WithinGrace(e.next, now, s.grace) {
				s.logger.Sugar().Warnw("trigger misfired, skipping", "trigger", e.trigger.Name, "scheduled", e.next, "now", now, "grace", s.grace)
				if s.observer != nil {
					s.observer.ObserveMisfire(e.trigger.Name)
				}
				continue
			}
		}

		err := s.fire(ctx, e)
		e.onStart = false
		if e.trigger.Periodic {
			e.next = e.schedule.Next(s.clock.Now().In(s.loc))
		}
		if err != nil {
			if IsFatal(err) {
				s.logger.Sugar().Errorw("trigger failed fatally", "trigger", e.trigger.Name, "error", err)
				return err
			}
			s.logger.Sugar().Errorw("trigger failed", "trigger", e.trigger.Name, "error", err)
		}
		if e.trigger.Final {
			s.logger.Sugar().Infow("final trigger completed, stopping", "trigger", e.trigger.Name)
			return nil
		}
	}
}

func (s *Scheduler) plan(entries []*entry, now time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	for _, e := range entries {
		e.done = false
		e.onStart = false
		if e.trigger.Periodic {
			if e.trigger.RunOnStart {
				e.next = now
				e.onStart = true
			} else {
				e.next = e.schedule.Next(now)
			}
			continue
		}
		e.next = e.schedule.Next(dayStart.Add(-time.Second))
		if !sameDay(e.next, dayStart) {
			e.done = true
			s.logger.Sugar().Infow("trigger not scheduled today", "trigger", e.trigger.Name, "next", e.next)
		}
	}
}

// nextDue returns the earliest pending entry, or nil when no daily trigger is
// left. Startup runs of RunOnStart triggers come before anything else, so an
// overdue daily trigger still inside its grace window sees loaded data.
// Periodic entries alone never keep the loop alive.
func nextDue(entries []*entry) *entry {
	var (
		best    *entry
		startup *entry
		pending bool
	)
	for _, e := range entries {
		if e.done {
			continue
		}
		if !e.trigger.Periodic {
			pending = true
		}
		if e.onStart && startup == nil {
			startup = e
		}
		if best == nil || e.next.Before(best.next) {
			best = e
		}
	}
	if !pending {
		return nil
	}
	if startup != nil {
		return startup
	}
	return best
}

func (s *Scheduler) fire(ctx context.Context, e *entry) (err error) {
	start := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger %s panicked: %v", e.trigger.Name, r)
		}
		if s.observer != nil {
			s.observer.ObserveTrigger(e.trigger.Name, s.clock.Now().Sub(start), err)
		}
	}()
	s.logger.Sugar().Infow("trigger firing", "trigger", e.trigger.Name, "scheduled", e.next)
	return e.trigger.Job(ctx)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as terminating the scheduler loop.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
