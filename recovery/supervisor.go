package recovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/metrics"
	"github.com/ruteri/wallet-recovery-vault/scheduler"
)

// SupervisorConfig controls the background sweep.
type SupervisorConfig struct {
	// Schedule is a cron spec, descriptor or Go duration. Defaults to "@daily".
	Schedule string

	// RunOnStart sweeps once as soon as Start is called.
	RunOnStart bool

	// NotifyTimeout bounds each guardian notification.
	NotifyTimeout time.Duration
}

// DefaultSupervisorConfig sweeps daily.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Schedule:      "@daily",
		RunOnStart:    true,
		NotifyTimeout: 30 * time.Second,
	}
}

// SweepReport summarizes one supervisor pass.
type SweepReport struct {
	Evaluated      int `json:"evaluated"`
	Recovered      int `json:"recovered"`
	Expired        int `json:"expired"`
	Notified       int `json:"notified"`
	NotifyFailures int `json:"notifyFailures"`
	// Pruned counts idle throttle entries dropped by the sweep.
	Pruned int `json:"pruned"`
}

type notice struct {
	email      string
	recoveryID string
	nctx       interfaces.NotificationContext
}

// Supervisor advances time-gated recoveries: it fires timelocks and dead-man
// switches whose gate has passed and expires social recoveries whose window
// closed. It never releases secrets.
type Supervisor struct {
	engine   *Engine
	notifier interfaces.GuardianNotifier
	cfg      SupervisorConfig
	clock    clock.Clock
	log      *slog.Logger
	sched    *scheduler.Scheduler
}

// NewSupervisor creates a supervisor over engine. It shares the engine's clock.
func NewSupervisor(engine *Engine, notifier interfaces.GuardianNotifier, cfg SupervisorConfig, log *slog.Logger) (*Supervisor, error) {
	def := DefaultSupervisorConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if log == nil {
		log = engine.log
	}

	schedule, err := scheduler.ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		clock:    engine.clock,
		log:      log,
	}
	s.sched = scheduler.New(schedule, s.sweep, engine.clock, log)
	return s, nil
}

// Start runs sweeps on the configured schedule until ctx is cancelled or
// Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	start := s.sched.Start
	if s.cfg.RunOnStart {
		start = s.sched.StartImmediately
	}
	if err := start(ctx); err != nil {
		return err
	}
	s.log.Info("Recovery supervisor started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Time("next_sweep", s.sched.Next()))
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Supervisor) Stop() {
	s.sched.Stop()
}

// Running reports whether the schedule is active.
func (s *Supervisor) Running() bool {
	return s.sched.Running()
}

func (s *Supervisor) sweep(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("Recovery sweep failed", "err", err)
		return
	}
	s.log.Info("Recovery sweep finished",
		slog.Int("evaluated", report.Evaluated),
		slog.Int("recovered", report.Recovered),
		slog.Int("expired", report.Expired),
		slog.Int("notified", report.Notified),
		slog.Int("notify_failures", report.NotifyFailures),
		slog.Int("pruned", report.Pruned))
}

// RunOnce evaluates every non-final setup once. Failures on individual setups
// are logged and skipped; only a failure to enumerate setups is returned.
func (s *Supervisor) RunOnce(ctx context.Context) (report SweepReport, err error) {
	defer func() { metrics.SupervisorSweeps.WithLabelValues(metrics.Result(err)).Inc() }()

	ids, err := s.engine.setupIDs(ctx)
	if err != nil {
		return report, err
	}

	var notices []notice
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		pending, err := s.evaluate(ctx, id, &report)
		if err != nil {
			s.log.Warn("Failed to evaluate recovery", slog.String("recovery_id", id), "err", err)
			continue
		}
		notices = append(notices, pending...)
	}

	s.notifyAll(ctx, notices, &report)
	report.Pruned = s.engine.throttle.Prune()
	return report, nil
}

// evaluate decides one setup under its lock and returns the notifications to
// send once the lock is released.
func (s *Supervisor) evaluate(ctx context.Context, recoveryID string, report *SweepReport) ([]notice, error) {
	unlock := s.engine.locks.Lock(recoveryID)
	defer unlock()

	setup, err := s.engine.loadSetup(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if setup.Status.Final() {
		return nil, nil
	}
	report.Evaluated++

	now := s.clock.Now()
	switch setup.Method {
	case interfaces.MethodTimelock:
		if setup.ExpiresAt == nil || now.Before(*setup.ExpiresAt) {
			return nil, nil
		}
		if err := s.transition(ctx, setup, interfaces.StatusRecovered); err != nil {
			return nil, err
		}
		report.Recovered++
		return nil, nil

	case interfaces.MethodDeadman:
		triggersAt, err := s.engine.deadmanTrigger(ctx, setup)
		if err != nil {
			return nil, err
		}
		if now.Before(triggersAt) {
			return nil, nil
		}
		if err := s.transition(ctx, setup, interfaces.StatusRecovered); err != nil {
			return nil, err
		}
		report.Recovered++

		nctx := interfaces.NotificationContext{
			WalletID:    setup.WalletID,
			Method:      setup.Method,
			Reason:      "inactivity",
			TriggeredAt: now.UTC(),
		}
		notices := make([]notice, 0, len(setup.Guardians))
		for _, g := range setup.Guardians {
			notices = append(notices, notice{email: g.Email, recoveryID: setup.ID, nctx: nctx})
		}
		return notices, nil

	case interfaces.MethodSocial:
		if setup.ExpiresAt == nil || now.Before(*setup.ExpiresAt) || setup.CompletedAt != nil {
			return nil, nil
		}
		if err := s.transition(ctx, setup, interfaces.StatusExpired); err != nil {
			return nil, err
		}
		s.engine.dropAttempt(setup.ID)
		report.Expired++
		return nil, nil
	}
	return nil, nil
}

func (s *Supervisor) transition(ctx context.Context, setup *interfaces.RecoverySetup, next interfaces.RecoveryStatus) error {
	if !setup.Status.CanTransitionTo(next) {
		return nil
	}
	prev := setup.Status
	setup.Status = next
	if err := s.engine.saveSetup(ctx, setup); err != nil {
		return err
	}
	metrics.SupervisorTransitions.WithLabelValues(strings.ToLower(string(setup.Method)), string(next)).Inc()
	s.log.Info("Recovery status changed by supervisor",
		slog.String("recovery_id", setup.ID),
		slog.String("method", string(setup.Method)),
		slog.String("from", string(prev)),
		slog.String("to", string(next)))
	return nil
}

// notifyAll sends notices concurrently, each bounded by NotifyTimeout.
// Failures are counted and logged and never fail the sweep.
func (s *Supervisor) notifyAll(ctx context.Context, notices []notice, report *SweepReport) {
	if s.notifier == nil || len(notices) == 0 {
		return
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, n := range notices {
		wg.Add(1)
		go func(n notice) {
			defer wg.Done()
			nctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
			defer cancel()

			err := s.notifier.Notify(nctx, n.email, n.recoveryID, n.nctx)
			metrics.GuardianNotifications.WithLabelValues(metrics.Result(err)).Inc()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.NotifyFailures++
				s.log.Warn("Guardian notification failed", slog.String("recovery_id", n.recoveryID), "err", err)
				return
			}
			report.Notified++
		}(n)
	}
	wg.Wait()
}
