package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/kms"
	"github.com/ruteri/wallet-recovery-vault/metrics"
)

const (
	setupPrefix  = "recovery/setup/"
	sharePrefix  = "recovery/share/"
	sealedPrefix = "recovery/sealed/"

	day = 24 * time.Hour
)

// Config holds KeyRecoveryEngine settings.
type Config struct {
	// SealingKey is the 32-byte root from which timelock, deadman and share
	// digest keys are derived. It must stay stable across restarts.
	SealingKey []byte

	// BackupKDF overrides the Argon2id cost for backup passwords.
	BackupKDF *interfaces.KDFParams

	Throttle ThrottleConfig
}

// Engine is the KeyRecoveryEngine. It configures recoveries, runs them through
// their gates and releases secrets.
//
// Each recovery id is served under its own lock; the supervisor takes the same
// lock, so status decisions are never interleaved.
type Engine struct {
	store     interfaces.SecureStore
	sharer    interfaces.SecretSharer
	tracker   interfaces.ActivityTracker
	throttle  *Throttle
	locks     *keyedMutex
	clock     clock.Clock
	log       *slog.Logger
	cfg       Config
	digestKey []byte

	mu       sync.Mutex
	attempts map[string]*kms.ShareCollector
}

// New creates an engine. A nil sharer uses Shamir, a nil tracker persists
// heartbeats in store, a nil clock uses the wall clock and a nil logger uses
// slog.Default().
func New(store interfaces.SecureStore, sharer interfaces.SecretSharer, tracker interfaces.ActivityTracker, cfg Config, clk clock.Clock, log *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("recovery engine requires a store")
	}
	if len(cfg.SealingKey) != cryptoutils.KeySize {
		return nil, fmt.Errorf("%w: sealing key must be %d bytes", cryptoutils.ErrInvalidKeySize, cryptoutils.KeySize)
	}
	if sharer == nil {
		sharer = kms.NewShamirSharer()
	}
	if tracker == nil {
		tracker = NewStoreActivityTracker(store)
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}

	digestKey, err := cryptoutils.DeriveSubkey(cfg.SealingKey, "share-digest")
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:     store,
		sharer:    sharer,
		tracker:   tracker,
		throttle:  NewThrottle(cfg.Throttle, clk),
		locks:     newKeyedMutex(),
		clock:     clk,
		log:       log,
		cfg:       cfg,
		digestKey: digestKey,
		attempts:  make(map[string]*kms.ShareCollector),
	}, nil
}

// Throttle exposes the engine's attempt throttle.
func (e *Engine) Throttle() *Throttle {
	return e.throttle
}

// StartRecovery begins a recovery attempt. Every call counts against the
// attempt throttle, which is checked before the setup is even looked up.
// Social setups move to active and keep any shares already submitted; the
// other methods are already active and report their current status. A setup
// the supervisor already marked recovered fails with ErrAlreadyCompleted.
func (e *Engine) StartRecovery(ctx context.Context, recoveryID string) (res interfaces.StartRecoveryResult, err error) {
	var method interfaces.RecoveryMethod
	defer func() { e.observe(method, "start", err) }()

	if err := e.throttle.Check(recoveryID); err != nil {
		e.log.Warn("Recovery attempt throttled", slog.String("recovery_id", recoveryID))
		return res, err
	}

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return res, err
	}
	method = setup.Method
	if err := e.checkClaimable(setup); err != nil {
		return res, err
	}
	// A timelock or dead-man setup flipped by the supervisor is claimable
	// through Complete only.
	if setup.Status == interfaces.StatusRecovered {
		return res, interfaces.ErrAlreadyCompleted
	}

	res = interfaces.StartRecoveryResult{
		RecoveryID: setup.ID,
		Method:     setup.Method,
		Status:     setup.Status,
	}
	if setup.Method != interfaces.MethodSocial {
		return res, nil
	}

	if setup.Status == interfaces.StatusSetup {
		now := e.clock.Now().UTC()
		setup.Status = interfaces.StatusActive
		setup.ActivatedAt = &now
		if err := e.saveSetup(ctx, setup); err != nil {
			return res, err
		}
	}

	e.mu.Lock()
	if _, ok := e.attempts[recoveryID]; !ok {
		e.attempts[recoveryID] = kms.NewShareCollector(setup.Threshold, e.sharer)
	}
	e.mu.Unlock()

	res.Status = setup.Status
	res.RequiredShares = setup.Threshold
	e.log.Info("Recovery started",
		slog.String("recovery_id", recoveryID),
		slog.String("method", string(setup.Method)))
	return res, nil
}

// CompleteRecovery dispatches to the completion of the setup's method. The
// password is only used by backup recoveries.
func (e *Engine) CompleteRecovery(ctx context.Context, recoveryID, password string) ([]byte, error) {
	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	switch setup.Method {
	case interfaces.MethodSocial:
		return e.CompleteSocialRecovery(ctx, recoveryID)
	case interfaces.MethodTimelock:
		return e.CompleteTimelockRecovery(ctx, recoveryID)
	case interfaces.MethodDeadman:
		return e.CompleteDeadmanRecovery(ctx, recoveryID)
	case interfaces.MethodBackup:
		return e.CompleteBackupRecovery(ctx, recoveryID, password)
	}
	return nil, fmt.Errorf("%w: unknown method %q", interfaces.ErrIntegrity, setup.Method)
}

// CancelRecovery removes every record of a recovery. It is idempotent and not
// throttled.
func (e *Engine) CancelRecovery(ctx context.Context, recoveryID string) (err error) {
	defer func() { e.observe("", "cancel", err) }()

	if recoveryID == "" {
		return interfaces.ErrRecoveryNotFound
	}

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	e.dropAttempt(recoveryID)
	e.throttle.Reset(recoveryID)

	keys, err := e.store.Keys(ctx, sharePrefix+recoveryID+"/")
	if err != nil {
		return fmt.Errorf("failed to list shares of %s: %w", recoveryID, err)
	}
	keys = append(keys, sealedPrefix+recoveryID, setupPrefix+recoveryID)
	for _, key := range keys {
		if err := e.store.Remove(ctx, key); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}

	e.log.Info("Recovery cancelled", slog.String("recovery_id", recoveryID))
	return nil
}

// GetRecoverySetup returns the stored setup for recoveryID.
func (e *Engine) GetRecoverySetup(ctx context.Context, recoveryID string) (interfaces.RecoverySetup, error) {
	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return interfaces.RecoverySetup{}, err
	}
	return *setup, nil
}

// ListRecoverySetups returns every setup for walletID, oldest first. An empty
// walletID lists all setups.
func (e *Engine) ListRecoverySetups(ctx context.Context, walletID string) ([]interfaces.RecoverySetup, error) {
	ids, err := e.setupIDs(ctx)
	if err != nil {
		return nil, err
	}

	setups := make([]interfaces.RecoverySetup, 0, len(ids))
	for _, id := range ids {
		setup, err := e.loadSetup(ctx, id)
		if errors.Is(err, interfaces.ErrRecoveryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if walletID != "" && setup.WalletID != walletID {
			continue
		}
		setups = append(setups, *setup)
	}

	sort.SliceStable(setups, func(i, j int) bool {
		return setups[i].CreatedAt.Before(setups[j].CreatedAt)
	})
	return setups, nil
}

// RecordActivity is the dead-man heartbeat for walletID.
func (e *Engine) RecordActivity(ctx context.Context, walletID string) error {
	if walletID == "" {
		return fmt.Errorf("%w: wallet id is required", interfaces.ErrInvalidArgument)
	}
	return e.tracker.RecordActivity(ctx, walletID, e.clock.Now().UTC())
}

// checkClaimable rejects setups whose secret was released or that expired.
func (e *Engine) checkClaimable(setup *interfaces.RecoverySetup) error {
	if setup.CompletedAt != nil {
		return interfaces.ErrAlreadyCompleted
	}
	if setup.Status == interfaces.StatusExpired {
		return interfaces.ErrNotActive
	}
	return nil
}

// markCompleted records the release of the secret. Caller holds the id lock.
func (e *Engine) markCompleted(ctx context.Context, setup *interfaces.RecoverySetup) error {
	now := e.clock.Now().UTC()
	setup.Status = interfaces.StatusRecovered
	setup.CompletedAt = &now
	if err := e.saveSetup(ctx, setup); err != nil {
		return err
	}
	e.dropAttempt(setup.ID)
	e.throttle.Reset(setup.ID)
	e.log.Info("Recovery completed",
		slog.String("recovery_id", setup.ID),
		slog.String("method", string(setup.Method)),
		slog.Time("completed_at", now))
	return nil
}

func (e *Engine) attempt(recoveryID string) *kms.ShareCollector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[recoveryID]
}

func (e *Engine) dropAttempt(recoveryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.attempts[recoveryID]; ok {
		c.Reset()
		delete(e.attempts, recoveryID)
	}
}

func (e *Engine) observe(method interfaces.RecoveryMethod, op string, err error) {
	m := strings.ToLower(string(method))
	if m == "" {
		m = "unknown"
	}
	metrics.RecoveryOperations.WithLabelValues(m, op, metrics.Result(err)).Inc()
}

func (e *Engine) setupIDs(ctx context.Context) ([]string, error) {
	keys, err := e.store.Keys(ctx, setupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery setups: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, setupPrefix))
	}
	return ids, nil
}

func (e *Engine) loadSetup(ctx context.Context, recoveryID string) (*interfaces.RecoverySetup, error) {
	if recoveryID == "" || strings.Contains(recoveryID, "/") {
		return nil, interfaces.ErrRecoveryNotFound
	}
	raw, err := e.store.Get(ctx, setupPrefix+recoveryID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecoveryNotFound, recoveryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery %s: %w", recoveryID, err)
	}

	var setup interfaces.RecoverySetup
	if err := json.Unmarshal(raw, &setup); err != nil {
		return nil, fmt.Errorf("%w: recovery setup %s: %v", interfaces.ErrIntegrity, recoveryID, err)
	}
	return &setup, nil
}

func (e *Engine) saveSetup(ctx context.Context, setup *interfaces.RecoverySetup) error {
	raw, err := json.Marshal(setup)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, setupPrefix+setup.ID, raw); err != nil {
		return fmt.Errorf("failed to store recovery %s: %w", setup.ID, err)
	}
	return nil
}

func shareKey(recoveryID, shareID string) string {
	return sharePrefix + recoveryID + "/" + shareID
}

func (e *Engine) loadShare(ctx context.Context, recoveryID, shareID string) (*interfaces.RecoveryShare, error) {
	if shareID == "" || strings.Contains(shareID, "/") {
		return nil, interfaces.ErrForeignShare
	}
	raw, err := e.store.Get(ctx, shareKey(recoveryID, shareID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, interfaces.ErrForeignShare
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load share %s: %w", shareID, err)
	}

	var share interfaces.RecoveryShare
	if err := json.Unmarshal(raw, &share); err != nil {
		return nil, fmt.Errorf("%w: share %s: %v", interfaces.ErrIntegrity, shareID, err)
	}
	if share.RecoveryID != recoveryID {
		return nil, interfaces.ErrForeignShare
	}
	return &share, nil
}

func (e *Engine) saveShare(ctx context.Context, share *interfaces.RecoveryShare) error {
	stored := *share
	stored.ShareValue = nil
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, shareKey(share.RecoveryID, share.ID), raw); err != nil {
		return fmt.Errorf("failed to store share %s: %w", share.ID, err)
	}
	return nil
}

func (e *Engine) loadSealed(ctx context.Context, recoveryID string) (*interfaces.SealedSecret, error) {
	raw, err := e.store.Get(ctx, sealedPrefix+recoveryID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: sealed secret of %s is missing", interfaces.ErrIntegrity, recoveryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sealed secret of %s: %w", recoveryID, err)
	}

	var sealed interfaces.SealedSecret
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, fmt.Errorf("%w: sealed secret of %s: %v", interfaces.ErrIntegrity, recoveryID, err)
	}
	if sealed.RecoveryID != recoveryID {
		return nil, fmt.Errorf("%w: sealed secret belongs to %s", interfaces.ErrIntegrity, sealed.RecoveryID)
	}
	return &sealed, nil
}

func (e *Engine) saveSealed(ctx context.Context, sealed *interfaces.SealedSecret) error {
	raw, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, sealedPrefix+sealed.RecoveryID, raw); err != nil {
		return fmt.Errorf("failed to store sealed secret of %s: %w", sealed.RecoveryID, err)
	}
	return nil
}

// removeQuietly is used to roll back partially written setups.
func (e *Engine) removeQuietly(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := e.store.Remove(ctx, key); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			e.log.Warn("Failed to roll back recovery record", slog.String("key", key), "err", err)
		}
	}
}

// remainingDays rounds the time left until gate up to whole days.
func remainingDays(now, gate time.Time) int {
	left := gate.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}

func daysFrom(t time.Time, days int) time.Time {
	return t.Add(time.Duration(days) * day)
}
