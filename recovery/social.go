package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/kms"
)

// SetupSocialRecovery splits secret into one share per guardian, any
// threshold of which reconstruct it. The returned shares carry their values
// and must be delivered to the guardians; only share digests are persisted.
func (e *Engine) SetupSocialRecovery(ctx context.Context, walletID string, secret []byte, guardians []interfaces.Guardian, threshold int, md interfaces.SetupMetadata) (res interfaces.SocialSetupResult, err error) {
	defer func() { e.observe(interfaces.MethodSocial, "setup", err) }()

	if len(secret) == 0 {
		return res, interfaces.ErrEmptySecret
	}
	if threshold < 2 || len(guardians) < threshold {
		return res, fmt.Errorf("%w: threshold %d with %d guardians", interfaces.ErrInvalidThreshold, threshold, len(guardians))
	}
	if len(guardians) > kms.MaxShares {
		return res, fmt.Errorf("%w: at most %d guardians", interfaces.ErrInvalidGuardians, kms.MaxShares)
	}
	if err := validateGuardians(guardians); err != nil {
		return res, err
	}
	if md.RecoveryWindowDays < 0 {
		return res, interfaces.ErrInvalidDuration
	}

	values, err := e.sharer.Split(secret, len(guardians), threshold)
	if err != nil {
		return res, fmt.Errorf("failed to split secret: %w", err)
	}
	defer func() {
		for _, v := range values {
			cryptoutils.Wipe(v)
		}
	}()

	now := e.clock.Now().UTC()
	setup := interfaces.RecoverySetup{
		ID:          uuid.NewString(),
		Method:      interfaces.MethodSocial,
		WalletID:    walletID,
		Threshold:   threshold,
		TotalShares: len(guardians),
		CreatedAt:   now,
		Guardians:   make([]interfaces.Guardian, len(guardians)),
		Status:      interfaces.StatusSetup,
		Metadata:    md,
	}
	if md.RecoveryWindowDays > 0 {
		expires := daysFrom(now, md.RecoveryWindowDays)
		setup.ExpiresAt = &expires
	}

	unlock := e.locks.Lock(setup.ID)
	defer unlock()

	shares := make([]interfaces.RecoveryShare, len(guardians))
	written := make([]string, 0, len(guardians)+2)
	for i, g := range guardians {
		share := interfaces.RecoveryShare{
			ID:            uuid.NewString(),
			ShareValue:    append([]byte(nil), values[i]...),
			GuardianEmail: g.Email,
			GuardianName:  g.Name,
			CreatedAt:     now,
			RecoveryID:    setup.ID,
			Metadata: interfaces.ShareMetadata{
				ShareIndex:  i + 1,
				Threshold:   threshold,
				TotalShares: len(guardians),
				WalletID:    walletID,
				Blockchain:  md.Blockchain,
			},
		}
		share.ShareDigest = e.shareDigest(setup.ID, share.ID, values[i])

		if err := e.saveShare(ctx, &share); err != nil {
			e.removeQuietly(ctx, written...)
			return interfaces.SocialSetupResult{}, err
		}
		written = append(written, shareKey(setup.ID, share.ID))

		setup.Guardians[i] = interfaces.Guardian{Email: g.Email, Name: g.Name, ShareID: share.ID}
		shares[i] = share
	}

	// The reconstruction check lets completion detect a combine that went wrong.
	check := &interfaces.SealedSecret{
		RecoveryID: setup.ID,
		Verifier:   e.secretDigest(setup.ID, secret),
	}
	if err := e.saveSealed(ctx, check); err != nil {
		e.removeQuietly(ctx, written...)
		return interfaces.SocialSetupResult{}, err
	}
	written = append(written, sealedPrefix+setup.ID)

	if err := e.saveSetup(ctx, &setup); err != nil {
		e.removeQuietly(ctx, written...)
		return interfaces.SocialSetupResult{}, err
	}

	e.log.Info("Social recovery configured",
		slog.String("recovery_id", setup.ID),
		slog.String("wallet_id", walletID),
		slog.Int("threshold", threshold),
		slog.Int("total_shares", len(guardians)))
	return interfaces.SocialSetupResult{Setup: setup, Shares: shares}, nil
}

// SubmitRecoveryShare adds one guardian share to a started social recovery.
// Valid submissions never count against the throttle; forged share values do.
func (e *Engine) SubmitRecoveryShare(ctx context.Context, recoveryID, shareID string, shareValue []byte) (res interfaces.ShareSubmissionResult, err error) {
	defer func() { e.observe(interfaces.MethodSocial, "submit_share", err) }()

	if err := e.throttle.Gate(recoveryID); err != nil {
		return res, err
	}

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return res, err
	}
	if setup.Method != interfaces.MethodSocial {
		return res, interfaces.ErrMethodMismatch
	}
	if err := e.checkClaimable(setup); err != nil {
		return res, err
	}

	collector := e.attempt(recoveryID)
	if collector == nil || setup.Status != interfaces.StatusActive {
		return res, interfaces.ErrRecoveryNotStarted
	}

	share, err := e.loadShare(ctx, recoveryID, shareID)
	if err != nil {
		return res, err
	}
	if collector.Has(shareID) {
		return res, interfaces.ErrDuplicateShare
	}
	if !cryptoutils.Equal(share.ShareDigest, e.shareDigest(recoveryID, shareID, shareValue)) {
		e.throttle.RecordFailure(recoveryID)
		e.log.Warn("Rejected invalid recovery share",
			slog.String("recovery_id", recoveryID),
			slog.String("share_id", shareID))
		return res, interfaces.ErrInvalidShare
	}
	if !collector.Add(shareID, share.Metadata.ShareIndex, shareValue) {
		return res, interfaces.ErrDuplicateShare
	}

	res = interfaces.ShareSubmissionResult{
		Accepted:         true,
		RemainingShares:  collector.Remaining(),
		RecoveryComplete: collector.Ready(),
	}
	e.log.Info("Recovery share accepted",
		slog.String("recovery_id", recoveryID),
		slog.String("share_id", shareID),
		slog.Int("remaining", res.RemainingShares))
	return res, nil
}

// CompleteSocialRecovery reconstructs the secret once threshold shares have
// been collected. The caller owns the returned slice.
func (e *Engine) CompleteSocialRecovery(ctx context.Context, recoveryID string) (secret []byte, err error) {
	defer func() { e.observe(interfaces.MethodSocial, "complete", err) }()

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return nil, err
	}
	if setup.Method != interfaces.MethodSocial {
		return nil, interfaces.ErrMethodMismatch
	}
	if err := e.checkClaimable(setup); err != nil {
		return nil, err
	}

	collector := e.attempt(recoveryID)
	if collector == nil {
		return nil, interfaces.ErrRecoveryNotStarted
	}
	if !collector.Ready() {
		return nil, fmt.Errorf("%w: have %d of %d", interfaces.ErrInsufficientShares, collector.Count(), setup.Threshold)
	}

	check, err := e.loadSealed(ctx, recoveryID)
	if err != nil {
		return nil, err
	}

	secret, err = collector.Reconstruct()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIntegrity, err)
	}
	if !cryptoutils.Equal(check.Verifier, e.secretDigest(recoveryID, secret)) {
		cryptoutils.Wipe(secret)
		e.dropAttempt(recoveryID)
		e.log.Error("Reconstructed secret failed verification", slog.String("recovery_id", recoveryID))
		return nil, fmt.Errorf("%w: reconstructed secret does not match", interfaces.ErrIntegrity)
	}

	if err := e.markCompleted(ctx, setup); err != nil {
		cryptoutils.Wipe(secret)
		return nil, err
	}
	return secret, nil
}

// VerifyGuardianShare lets a guardian confirm that the share they hold is
// the one that was issued to them.
func (e *Engine) VerifyGuardianShare(ctx context.Context, recoveryID, shareID string, shareValue []byte) (err error) {
	defer func() { e.observe(interfaces.MethodSocial, "verify_share", err) }()

	if err := e.throttle.Gate(recoveryID); err != nil {
		return err
	}

	unlock := e.locks.Lock(recoveryID)
	defer unlock()

	setup, err := e.loadSetup(ctx, recoveryID)
	if err != nil {
		return err
	}
	if setup.Method != interfaces.MethodSocial {
		return interfaces.ErrMethodMismatch
	}

	share, err := e.loadShare(ctx, recoveryID, shareID)
	if err != nil {
		return err
	}
	if !cryptoutils.Equal(share.ShareDigest, e.shareDigest(recoveryID, shareID, shareValue)) {
		e.throttle.RecordFailure(recoveryID)
		return interfaces.ErrInvalidShare
	}

	if !share.IsVerified {
		share.IsVerified = true
		if err := e.saveShare(ctx, share); err != nil {
			return err
		}
	}
	for i := range setup.Guardians {
		if setup.Guardians[i].ShareID == shareID && !setup.Guardians[i].HasVerified {
			setup.Guardians[i].HasVerified = true
			if err := e.saveSetup(ctx, setup); err != nil {
				return err
			}
		}
	}

	e.log.Info("Guardian verified share",
		slog.String("recovery_id", recoveryID),
		slog.String("share_id", shareID))
	return nil
}

func (e *Engine) shareDigest(recoveryID, shareID string, value []byte) []byte {
	return cryptoutils.HMAC(e.digestKey, []byte("share"), []byte(recoveryID), []byte(shareID), value)
}

func (e *Engine) secretDigest(recoveryID string, secret []byte) []byte {
	return cryptoutils.HMAC(e.digestKey, []byte("secret"), []byte(recoveryID), secret)
}

func validateGuardians(guardians []interfaces.Guardian) error {
	seen := make(map[string]bool, len(guardians))
	for i, g := range guardians {
		email := strings.ToLower(strings.TrimSpace(g.Email))
		if _, err := mail.ParseAddress(email); err != nil || email == "" {
			return fmt.Errorf("%w: guardian %d has an invalid email", interfaces.ErrInvalidGuardians, i+1)
		}
		if seen[email] {
			return fmt.Errorf("%w: guardian %d is listed twice", interfaces.ErrInvalidGuardians, i+1)
		}
		seen[email] = true
	}
	return nil
}
