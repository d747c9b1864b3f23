// Package scheduler runs a job on a cron schedule against an injectable clock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
)

// Job is a unit of scheduled work. It receives the scheduler's context.
type Job func(ctx context.Context)

var ErrAlreadyRunning = errors.New("scheduler already running")

// ParseSchedule accepts a standard five-field cron spec, a descriptor such as
// "@daily" or "@every 6h", or a plain Go duration like "12h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule period must be positive: %s", spec)
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler calls a job each time its schedule fires. Runs never overlap: a
// job that outlasts its slot delays the next run.
type Scheduler struct {
	schedule cron.Schedule
	job      Job
	clock    clock.Clock
	log      *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler. A nil clock uses the wall clock and a nil logger
// uses slog.Default().
func New(schedule cron.Schedule, job Job, clk clock.Clock, log *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		schedule: schedule,
		job:      job,
		clock:    clk,
		log:      log,
	}
}

// Start runs the schedule in the background until ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.start(ctx, false)
}

// StartImmediately is Start with one extra run of the job as soon as the loop
// begins. Stop waits for that run like any other.
func (s *Scheduler) StartImmediately(ctx context.Context) error {
	return s.start(ctx, true)
}

func (s *Scheduler) start(ctx context.Context, immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done, immediate)
	return nil
}

// Stop cancels the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Next returns the next time the schedule fires.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(s.clock.Now())
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, immediate bool) {
	defer close(done)
	defer s.running.Store(false)

	if immediate {
		s.job(ctx)
	}

	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			s.log.Warn("Schedule has no future activations")
			return
		}

		timer := s.clock.Timer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.log.Debug("Running scheduled job", slog.Time("scheduled_at", next))
		s.job(ctx)
	}
}
