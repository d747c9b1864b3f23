package recovery

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/metrics"
)

// ThrottleConfig bounds recovery attempts per recovery id.
type ThrottleConfig struct {
	MaxAttempts int
	Lockout     time.Duration
}

// DefaultThrottleConfig allows five attempts per thirty minutes.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{MaxAttempts: 5, Lockout: 30 * time.Minute}
}

type attemptState struct {
	// attempts counts starts and failures together.
	attempts int
	// failures counts rejected credentials only.
	failures    int
	lastAttempt time.Time
	// rejected is set once Check refused a start inside the lockout window.
	rejected bool
}

func (st *attemptState) restart(now time.Time) {
	st.attempts = 0
	st.failures = 0
	st.rejected = false
	st.lastAttempt = now
}

// Throttle is the per-recovery attempt counter with a lockout window.
//
// State is process-local and never persisted: a restart clears every lockout.
// The threshold and time gates are the real security boundary; the throttle
// only slows down online guessing.
type Throttle struct {
	mu    sync.Mutex
	cfg   ThrottleConfig
	clock clock.Clock
	state map[string]*attemptState
}

// NewThrottle creates a throttle. Zero config fields take their defaults.
func NewThrottle(cfg ThrottleConfig, clk clock.Clock) *Throttle {
	def := DefaultThrottleConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = def.Lockout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Throttle{
		cfg:   cfg,
		clock: clk,
		state: make(map[string]*attemptState),
	}
}

// Check counts one attempt for id. Once MaxAttempts have been made it fails
// with *interfaces.RateLimitedError until Lockout has passed since the last
// attempt. An id idle for Lockout starts over at 1.
func (t *Throttle) Check(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	st, ok := t.state[id]
	if !ok {
		t.state[id] = &attemptState{attempts: 1, lastAttempt: now}
		return nil
	}

	elapsed := now.Sub(st.lastAttempt)
	if elapsed >= t.cfg.Lockout {
		st.restart(now)
	} else if st.attempts >= t.cfg.MaxAttempts {
		st.rejected = true
		return t.limited(elapsed)
	}

	st.attempts++
	st.lastAttempt = now
	return nil
}

// Gate fails without counting an attempt while id is locked out. An id is
// locked out after MaxAttempts failed credentials, or once Check has refused
// a start; successful starts alone never block share submission.
func (t *Throttle) Gate(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[id]
	if !ok {
		return nil
	}
	elapsed := t.clock.Now().Sub(st.lastAttempt)
	if elapsed >= t.cfg.Lockout {
		return nil
	}
	if st.rejected || st.failures >= t.cfg.MaxAttempts {
		return t.limited(elapsed)
	}
	return nil
}

// RecordFailure counts a failed authentication against id.
func (t *Throttle) RecordFailure(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	st, ok := t.state[id]
	if !ok {
		st = &attemptState{}
		t.state[id] = st
	} else if now.Sub(st.lastAttempt) >= t.cfg.Lockout {
		st.restart(now)
	}
	st.attempts++
	st.failures++
	st.lastAttempt = now
}

// Prune drops every id idle for at least Lockout and returns how many went.
// Check and RecordFailure would restart such an id anyway.
func (t *Throttle) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	n := 0
	for id, st := range t.state {
		if now.Sub(st.lastAttempt) >= t.cfg.Lockout {
			delete(t.state, id)
			n++
		}
	}
	return n
}

// Reset forgets every attempt for id.
func (t *Throttle) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, id)
}

// Attempts returns the current attempt count for id.
func (t *Throttle) Attempts(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.state[id]; ok {
		return st.attempts
	}
	return 0
}

func (t *Throttle) limited(elapsed time.Duration) error {
	retry := t.cfg.Lockout - elapsed
	metrics.RecoveryRateLimited.Inc()
	return &interfaces.RateLimitedError{
		RetryAfter:       retry,
		RemainingMinutes: int(math.Ceil(retry.Minutes())),
	}
}
