package vault

import (
	"context"
	"fmt"

	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/metrics"
)

// MFAEnrollment is returned once when MFA is enabled. The secret is not
// retrievable afterwards.
type MFAEnrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
}

// EnableMFA turns on TOTP for Unlock. The TOTP secret is stored sealed under
// the root key.
func (v *SecureVault) EnableMFA(ctx context.Context, password string) (enrollment MFAEnrollment, err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("enable_mfa", metrics.Result(err)).Inc() }()

	v.mu.Lock()
	defer v.mu.Unlock()

	vrk, err := v.requireUnlocked()
	if err != nil {
		return MFAEnrollment{}, err
	}
	meta, err := v.stepUp(ctx, password)
	if err != nil {
		v.audit(ctx, interfaces.AuditMFAEnable, "", false, "invalid password")
		return MFAEnrollment{}, err
	}
	if meta.MFAEnabled {
		return MFAEnrollment{}, interfaces.ErrMFAAlreadyEnabled
	}

	secret, err := cryptoutils.GenerateTOTPSecret()
	if err != nil {
		return MFAEnrollment{}, err
	}
	sealed, err := cryptoutils.Seal(vrk, []byte(secret), mfaAAD)
	if err != nil {
		return MFAEnrollment{}, fmt.Errorf("failed to seal MFA secret: %w", err)
	}

	meta.MFAEnabled = true
	meta.MFASecret = sealed
	if err := v.saveMeta(ctx, meta); err != nil {
		return MFAEnrollment{}, err
	}

	v.touch()
	v.audit(ctx, interfaces.AuditMFAEnable, "", true, "")
	return MFAEnrollment{
		Secret:          secret,
		ProvisioningURI: cryptoutils.TOTPProvisionURI(v.cfg.MFAAccount, v.cfg.MFAIssuer, secret),
	}, nil
}

// DisableMFA turns TOTP off. It requires the password and a current code.
func (v *SecureVault) DisableMFA(ctx context.Context, password, code string) (err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("disable_mfa", metrics.Result(err)).Inc() }()

	v.mu.Lock()
	defer v.mu.Unlock()

	vrk, err := v.requireUnlocked()
	if err != nil {
		return err
	}
	meta, err := v.stepUp(ctx, password)
	if err != nil {
		v.audit(ctx, interfaces.AuditMFADisable, "", false, "invalid password")
		return err
	}
	if !meta.MFAEnabled {
		return interfaces.ErrMFANotEnabled
	}

	ok, err := v.checkMFA(meta, vrk, code)
	if err != nil {
		return err
	}
	if !ok {
		v.audit(ctx, interfaces.AuditMFADisable, "", false, "invalid mfa code")
		return interfaces.ErrInvalidMFACode
	}

	meta.MFAEnabled = false
	meta.MFASecret = nil
	if err := v.saveMeta(ctx, meta); err != nil {
		return err
	}

	v.touch()
	v.audit(ctx, interfaces.AuditMFADisable, "", true, "")
	return nil
}

func (v *SecureVault) checkMFA(meta *metadata, vrk []byte, code string) (bool, error) {
	secret, err := cryptoutils.Open(vrk, meta.MFASecret, mfaAAD)
	if err != nil {
		return false, fmt.Errorf("%w: MFA secret: %v", interfaces.ErrIntegrity, err)
	}
	defer cryptoutils.Wipe(secret)
	return cryptoutils.VerifyTOTP(code, string(secret), v.clock.Now()), nil
}
