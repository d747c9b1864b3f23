package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// minBackupPasswordLength matches the vault's master password rule.
const minBackupPasswordLength = 8

// SetupTimelockRecovery seals secret so that it can be claimed only after
// durationDays have passed.
func (e *Engine) SetupTimelockRecovery(ctx context.Context, walletID string, secret []byte, durationDays int, md interfaces.SetupMetadata) (setup interfaces.RecoverySetup, err error) {
	defer func() { e.observe(interfaces.MethodTimelock, "setup", err) }()

	if len(secret) == 0 {
		return setup, interfaces.ErrEmptySecret
	}
	if durationDays < 1 {
		return setup, interfaces.ErrInvalidDuration
	}

	now := e.clock.Now().UTC()
	expires := daysFrom(now, durationDays)
	md.TimelockDurationDays = durationDays
	setup = interfaces.RecoverySetup{
		ID:          uuid.NewString(),
		Method:      interfaces.MethodTimelock,
		WalletID:    walletID,
		CreatedAt:   now,
		ActivatedAt: &now,
		ExpiresAt:   &expires,
		Status:      interfaces.StatusActive,
		Metadata:    md,
	}

	if err := e.sealAndStore(ctx, &setup, secret); err != nil {
		return interfaces.RecoverySetup{}, err
	}
	e.log.Info("Timelock recovery configured",
		slog.String("recovery_id", setup.ID),
		slog.String("wallet_id", walletID),
		slog.Time("expires_at", expires))
	return setup, nil
}

// SetupDeadmanSwitch seals secret so that it can be claimed once the wallet
// has been inactive for inactivityDays. Guardians are notified when the
// switch fires.
func (e *Engine) SetupDeadmanSwitch(ctx context.Context, walletID string, secret []byte, inactivityDays int, guardians []interfaces.Guardian, md interfaces.SetupMetadata) (setup interfaces.RecoverySetup, err error) {
	defer func() { e.observe(interfaces.MethodDeadman, "setup", err) }()

	if len(secret) == 0 {
		return setup, interfaces.ErrEmptySecret
	}
	if inactivityDays < 1 {
		return setup, interfaces.ErrInvalidDuration
	}
	if len(guardians) == 0 {
		return setup, fmt.Errorf("%w: at least one guardian is required", interfaces.ErrInvalidGuardians)
	}
	if err := validateGuardians(guardians); err != nil {
		return setup, err
	}
	if walletID == "" {
		return setup, fmt.Errorf("%w: wallet id is required", interfaces.ErrInvalidArgument)
	}

	now := e.clock.Now().UTC()
	md.DeadmanCheckIntervalDays = inactivityDays
	setup = interfaces.RecoverySetup{
		ID:          uuid.NewString(),
		Method:      interfaces.MethodDeadman,
		WalletID:    walletID,
		CreatedAt:   now,
		ActivatedAt: &now,
		Guardians:   make([]interfaces.Guardian, len(guardians)),
		Status:      interfaces.StatusActive,
		Metadata:    md,
	}
	for i, g := range guardians {
		setup.Guardians[i] = interfaces.Guardian{Email: g.Email, Name: g.Name}
	}

	if err := e.tracker.RecordActivity(ctx, walletID, now); err != nil {
		return interfaces.RecoverySetup{}, fmt.Errorf("failed to record activity baseline: %w", err)
	}
	if err := e.sealAndStore(ctx, &setup, secret); err != nil {
		return interfaces.RecoverySetup{}, err
	}
	e.log.Info("Dead-man switch configured",
		slog.String("recovery_id", setup.ID),
		slog.String("wallet_id", walletID),
		slog.Int("inactivity_days", inactivityDays))
	return setup, nil
}

// SetupBackupRecovery seals secret under a key derived from password.
func (e *Engine) SetupBackupRecovery(ctx context.Context, walletID string, secret []byte, password string, md interfaces.SetupMetadata) (setup interfaces.RecoverySetup, err error) {
	defer func() { e.observe(interfaces.MethodBackup, "setup", err) }()

	if len(secret) == 0 {
		return setup, interfaces.ErrEmptySecret
	}
	if len(password) < minBackupPasswordLength {
		return setup, interfaces.ErrWeakPassword
	}

	params, err := e.backupParams()
	if err != nil {
		return setup, err
	}
	key, err := cryptoutils.DeriveKey([]byte(password), params)
	if err != nil {
		return setup, err
	}
	defer cryptoutils.Wipe(key)

	now := e.clock.Now().UTC()
	setup = interfaces.RecoverySetup{
		ID:          uuid.NewString(),
		Method:      interfaces.MethodBackup,
		WalletID:    walletID,
		CreatedAt:   now,
		ActivatedAt: &now,
		Status:      interfaces.StatusActive,
		Metadata:    md,
	}

	ciphertext, err := cryptoutils.Seal(key, secret, []byte(setup.ID))
	if err != nil {
		return interfaces.RecoverySetup{}, fmt.Errorf("failed to seal backup: %w", err)
	}
	sealed := &interfaces.SealedSecret{
		RecoveryID: setup.ID,
		KDF:        &params,
		Verifier:   cryptoutils.Verifier(key),
		Ciphertext: ciphertext,
	}

	unlock := e.locks.Lock(setup.ID)
	defer unlock()

	if err := e.saveSealed(ctx, sealed); err != nil {
		return interfaces.RecoverySetup{}, err
	}
	if err := e.saveSetup(ctx, &setup); err != nil {
		e.removeQuietly(ctx, sealedPrefix+setup.ID)
		return interfaces.RecoverySetup{}, err
	}
	e.log.Info("Backup recovery configured",
		slog.String("recovery_id", setup.ID),
		slog.String("wallet_id", walletID))
	return setup, nil
}

// CompleteTimelockRecovery releases the secret once the timelock expired.
func (e *Engine) CompleteTimelockRecovery(ctx context.Context, recoveryID string) (secret []byte, err error) {
	defer func() { e.observe(interfaces.MethodTimelock, "complete", err) }()

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.claimable(ctx, recoveryID, interfaces.MethodTimelock)
	if err != nil {
		return nil, err
	}
	if setup.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: timelock %s has no expiry", interfaces.ErrIntegrity, recoveryID)
	}

	now := e.clock.Now()
	if setup.Status != interfaces.StatusRecovered && now.Before(*setup.ExpiresAt) {
		return nil, &interfaces.TimelockNotExpiredError{
			RemainingDays: remainingDays(now, *setup.ExpiresAt),
			ExpiresAt:     *setup.ExpiresAt,
		}
	}

	return e.unsealAndComplete(ctx, setup)
}

// CompleteDeadmanRecovery releases the secret once the wallet has been
// inactive for the configured interval, or after the supervisor fired it.
func (e *Engine) CompleteDeadmanRecovery(ctx context.Context, recoveryID string) (secret []byte, err error) {
	defer func() { e.observe(interfaces.MethodDeadman, "complete", err) }()

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.claimable(ctx, recoveryID, interfaces.MethodDeadman)
	if err != nil {
		return nil, err
	}

	if setup.Status != interfaces.StatusRecovered {
		triggersAt, err := e.deadmanTrigger(ctx, setup)
		if err != nil {
			return nil, err
		}
		now := e.clock.Now()
		if now.Before(triggersAt) {
			return nil, &interfaces.DeadmanNotTriggeredError{
				RemainingDays: remainingDays(now, triggersAt),
				TriggersAt:    triggersAt,
			}
		}
	}

	return e.unsealAndComplete(ctx, setup)
}

// CompleteBackupRecovery releases the secret to the holder of the backup
// password. Wrong passwords count against the attempt throttle.
func (e *Engine) CompleteBackupRecovery(ctx context.Context, recoveryID, password string) (secret []byte, err error) {
	defer func() { e.observe(interfaces.MethodBackup, "complete", err) }()

	if err := e.throttle.Gate(recoveryID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.claimable(ctx, recoveryID, interfaces.MethodBackup)
	if err != nil {
		return nil, err
	}
	sealed, err := e.loadSealed(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if sealed.KDF == nil {
		return nil, fmt.Errorf("%w: backup %s has no KDF parameters", interfaces.ErrIntegrity, recoveryID)
	}

	key, err := cryptoutils.DeriveKey([]byte(password), *sealed.KDF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIntegrity, err)
	}
	defer cryptoutils.Wipe(key)

	if !cryptoutils.CheckVerifier(key, sealed.Verifier) {
		e.throttle.RecordFailure(recoveryID)
		e.log.Warn("Backup recovery password rejected", slog.String("recovery_id", recoveryID))
		return nil, interfaces.ErrInvalidPassword
	}

	secret, err = cryptoutils.Open(key, sealed.Ciphertext, []byte(recoveryID))
	if err != nil {
		e.log.Error("Backup ciphertext failed authentication", slog.String("recovery_id", recoveryID))
		return nil, fmt.Errorf("%w: backup %s", interfaces.ErrIntegrity, recoveryID)
	}
	if err := e.markCompleted(ctx, setup); err != nil {
		cryptoutils.Wipe(secret)
		return nil, err
	}
	return secret, nil
}

// claimable loads a setup and checks it can still release its secret.
func (e *Engine) claimable(ctx context.Context, recoveryID string, method interfaces.RecoveryMethod) (*interfaces.RecoverySetup, error) {
	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if setup.Method != method {
		return nil, interfaces.ErrMethodMismatch
	}
	if err := e.checkClaimable(setup); err != nil {
		return nil, err
	}
	return setup, nil
}

// deadmanTrigger is the moment the switch fires: the interval after the
// later of the last heartbeat and the activation time.
func (e *Engine) deadmanTrigger(ctx context.Context, setup *interfaces.RecoverySetup) (time.Time, error) {
	baseline := setup.CreatedAt
	if setup.ActivatedAt != nil {
		baseline = *setup.ActivatedAt
	}
	last, err := e.tracker.LastActivity(ctx, setup.WalletID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read activity for %s: %w", setup.WalletID, err)
	}
	if last != nil && last.After(baseline) {
		baseline = *last
	}
	return daysFrom(baseline, setup.Metadata.DeadmanCheckIntervalDays), nil
}

// sealingKey is unique per method and recovery id.
func (e *Engine) sealingKey(method interfaces.RecoveryMethod, recoveryID string) ([]byte, error) {
	return cryptoutils.DeriveSubkey(e.cfg.SealingKey, string(method)+"/"+recoveryID)
}

func (e *Engine) sealAndStore(ctx context.Context, setup *interfaces.RecoverySetup, secret []byte) error {
	key, err := e.sealingKey(setup.Method, setup.ID)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(key)

	ciphertext, err := cryptoutils.Seal(key, secret, []byte(setup.ID))
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	unlock := e.locks.Lock(setup.ID)
	defer unlock()

	if err := e.saveSealed(ctx, &interfaces.SealedSecret{RecoveryID: setup.ID, Ciphertext: ciphertext}); err != nil {
		return err
	}
	if err := e.saveSetup(ctx, setup); err != nil {
		e.removeQuietly(ctx, sealedPrefix+setup.ID)
		return err
	}
	return nil
}

func (e *Engine) unsealAndComplete(ctx context.Context, setup *interfaces.RecoverySetup) ([]byte, error) {
	sealed, err := e.loadSealed(ctx, setup.ID)
	if err != nil {
		return nil, err
	}
	key, err := e.sealingKey(setup.Method, setup.ID)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Wipe(key)

	secret, err := cryptoutils.Open(key, sealed.Ciphertext, []byte(setup.ID))
	if err != nil {
		e.log.Error("Sealed secret failed authentication", slog.String("recovery_id", setup.ID))
		return nil, fmt.Errorf("%w: sealed secret of %s", interfaces.ErrIntegrity, setup.ID)
	}
	if err := e.markCompleted(ctx, setup); err != nil {
		cryptoutils.Wipe(secret)
		return nil, err
	}
	return secret, nil
}

func (e *Engine) backupParams() (interfaces.KDFParams, error) {
	if e.cfg.BackupKDF != nil {
		return cryptoutils.WithFreshSalt(*e.cfg.BackupKDF)
	}
	return cryptoutils.ParamsForLevel(interfaces.SecurityStandard)
}
