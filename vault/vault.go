package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/metrics"
)

const (
	metaKey     = "vault/meta"
	entryPrefix = "vault/entry/"
	auditPrefix = "vault/audit/"

	// MinPasswordLength is the shortest accepted master or backup password.
	MinPasswordLength = 8

	metaVersion = 1
)

var (
	wrapAAD = []byte("vault/root-key")
	mfaAAD  = []byte("vault/mfa-secret")
)

// Config holds SecureVault settings.
type Config struct {
	// KDF overrides the Argon2id cost selected from the security level.
	// The salt field is ignored; a fresh salt is always generated.
	KDF *interfaces.KDFParams

	// MFAIssuer is shown by authenticator apps.
	MFAIssuer string

	// MFAAccount labels the TOTP entry in authenticator apps.
	MFAAccount string

	// HardwareProtection is reported in the vault status.
	HardwareProtection bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MFAIssuer:  "Wallet Vault",
		MFAAccount: "vault",
	}
}

// metadata is the only persisted record of the master credential. It holds a
// verifier and the wrapped root key, never the password or the key itself.
type metadata struct {
	Version            int                      `json:"version"`
	SecurityLevel      interfaces.SecurityLevel `json:"securityLevel"`
	KDF                interfaces.KDFParams     `json:"kdf"`
	Verifier           []byte                   `json:"verifier"`
	WrappedKey         []byte                   `json:"wrappedKey"`
	MFAEnabled         bool                     `json:"mfaEnabled"`
	MFASecret          []byte                   `json:"mfaSecret,omitempty"`
	HardwareProtection bool                     `json:"hardwareProtection"`
	CreatedAt          time.Time                `json:"createdAt"`
}

func (m *metadata) validate() error {
	if m.Version != metaVersion {
		return fmt.Errorf("unsupported metadata version %d", m.Version)
	}
	if len(m.Verifier) == 0 || len(m.WrappedKey) == 0 || len(m.KDF.Salt) == 0 {
		return errors.New("missing verifier, wrapped key or salt")
	}
	if m.MFAEnabled && len(m.MFASecret) == 0 {
		return errors.New("MFA enabled without a secret")
	}
	return nil
}

// SecureVault holds encrypted wallet secrets behind a master password.
//
// States: Uninitialized, Locked and Unlocked. While unlocked the vault root key
// (VRK) is kept in memory; Lock wipes it. Every state-changing operation and
// every audit append is serialized by a single mutex.
type SecureVault struct {
	mu    sync.Mutex
	store interfaces.SecureStore
	cfg   Config
	clock clock.Clock
	log   *slog.Logger

	vrk          []byte
	lastActivity *time.Time

	auditLoaded bool
	auditSeq    uint64
	auditHead   string
}

// New creates a vault over store. A nil clock uses the wall clock and a nil
// logger uses slog.Default().
func New(store interfaces.SecureStore, cfg Config, clk clock.Clock, log *slog.Logger) *SecureVault {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MFAIssuer == "" {
		cfg.MFAIssuer = DefaultConfig().MFAIssuer
	}
	if cfg.MFAAccount == "" {
		cfg.MFAAccount = DefaultConfig().MFAAccount
	}
	return &SecureVault{
		store: store,
		cfg:   cfg,
		clock: clk,
		log:   log,
	}
}

// Initialize creates the master credential. The vault ends up Locked.
func (v *SecureVault) Initialize(ctx context.Context, masterPassword string, level interfaces.SecurityLevel) (err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("initialize", metrics.Result(err)).Inc() }()

	if len(masterPassword) < MinPasswordLength {
		return interfaces.ErrWeakPassword
	}
	if level == "" {
		level = interfaces.SecurityStandard
	}
	if level.Rank() == 0 {
		return fmt.Errorf("%w: unknown security level %q", interfaces.ErrInvalidArgument, level)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, err = v.store.Get(ctx, metaKey)
	switch {
	case err == nil:
		return interfaces.ErrAlreadyInitialized
	case !errors.Is(err, interfaces.ErrKeyNotFound):
		return fmt.Errorf("failed to read vault metadata: %w", err)
	}

	params, err := v.kdfParams(level)
	if err != nil {
		return err
	}
	kek, err := cryptoutils.DeriveKey([]byte(masterPassword), params)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(kek)

	vrk, err := cryptoutils.RandomBytes(cryptoutils.KeySize)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(vrk)

	wrapped, err := cryptoutils.Seal(kek, vrk, wrapAAD)
	if err != nil {
		return fmt.Errorf("failed to wrap root key: %w", err)
	}

	meta := &metadata{
		Version:            metaVersion,
		SecurityLevel:      level,
		KDF:                params,
		Verifier:           cryptoutils.Verifier(kek),
		WrappedKey:         wrapped,
		HardwareProtection: v.cfg.HardwareProtection,
		CreatedAt:          v.clock.Now().UTC(),
	}
	if err := v.saveMeta(ctx, meta); err != nil {
		return err
	}

	v.touch()
	v.audit(ctx, interfaces.AuditInit, "", true, "")
	v.log.Info("Vault initialized", slog.String("security_level", string(level)))
	return nil
}

// Unlock verifies the master password, and the TOTP code when MFA is enabled,
// then loads the root key. Any credential failure yields ErrInvalidCredentials
// without saying which factor was wrong.
func (v *SecureVault) Unlock(ctx context.Context, masterPassword, mfaCode string) (err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("unlock", metrics.Result(err)).Inc() }()

	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.loadMeta(ctx)
	if err != nil {
		return err
	}

	kek, err := cryptoutils.DeriveKey([]byte(masterPassword), meta.KDF)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInitialization, err)
	}
	defer cryptoutils.Wipe(kek)

	if !cryptoutils.CheckVerifier(kek, meta.Verifier) {
		v.audit(ctx, interfaces.AuditUnlock, "", false, "invalid credentials")
		return interfaces.ErrInvalidCredentials
	}

	vrk, err := cryptoutils.Open(kek, meta.WrappedKey, wrapAAD)
	if err != nil {
		v.audit(ctx, interfaces.AuditUnlock, "", false, "root key integrity")
		v.log.Error("Vault root key failed authentication after verifier matched")
		return fmt.Errorf("%w: root key: %v", interfaces.ErrIntegrity, err)
	}

	if meta.MFAEnabled {
		ok, err := v.checkMFA(meta, vrk, mfaCode)
		if err != nil {
			cryptoutils.Wipe(vrk)
			v.audit(ctx, interfaces.AuditUnlock, "", false, "mfa secret integrity")
			return err
		}
		if !ok {
			cryptoutils.Wipe(vrk)
			v.audit(ctx, interfaces.AuditUnlock, "", false, "invalid credentials")
			return interfaces.ErrInvalidCredentials
		}
	}

	// Already unlocked: keep the loaded key and record nothing.
	if v.vrk != nil {
		cryptoutils.Wipe(vrk)
		return nil
	}
	v.vrk = vrk
	v.touch()
	v.audit(ctx, interfaces.AuditUnlock, "", true, "")
	return nil
}

// Lock wipes the root key. It is idempotent and always succeeds.
func (v *SecureVault) Lock(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.vrk == nil {
		return
	}
	cryptoutils.Wipe(v.vrk)
	v.vrk = nil
	v.touch()
	v.audit(ctx, interfaces.AuditLock, "", true, "")
	metrics.VaultOperations.WithLabelValues("lock", metrics.ResultOK).Inc()
}

// IsLocked reports whether the root key is absent from memory.
func (v *SecureVault) IsLocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vrk == nil
}

// ChangeMasterPassword rewraps the root key under a key derived from
// newPassword. The switch is a single write of the metadata record, so it
// either fully happens or not at all.
func (v *SecureVault) ChangeMasterPassword(ctx context.Context, oldPassword, newPassword string) (err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("change_password", metrics.Result(err)).Inc() }()

	if len(newPassword) < MinPasswordLength {
		return interfaces.ErrWeakPassword
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.loadMeta(ctx)
	if err != nil {
		return err
	}

	oldKEK, err := cryptoutils.DeriveKey([]byte(oldPassword), meta.KDF)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInitialization, err)
	}
	defer cryptoutils.Wipe(oldKEK)
	if !cryptoutils.CheckVerifier(oldKEK, meta.Verifier) {
		v.audit(ctx, interfaces.AuditChangePassword, "", false, "invalid password")
		return interfaces.ErrInvalidPassword
	}

	vrk, err := cryptoutils.Open(oldKEK, meta.WrappedKey, wrapAAD)
	if err != nil {
		return fmt.Errorf("%w: root key: %v", interfaces.ErrIntegrity, err)
	}
	defer cryptoutils.Wipe(vrk)

	params, err := v.kdfParams(meta.SecurityLevel)
	if err != nil {
		return err
	}
	newKEK, err := cryptoutils.DeriveKey([]byte(newPassword), params)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(newKEK)

	wrapped, err := cryptoutils.Seal(newKEK, vrk, wrapAAD)
	if err != nil {
		return fmt.Errorf("failed to wrap root key: %w", err)
	}

	updated := *meta
	updated.KDF = params
	updated.Verifier = cryptoutils.Verifier(newKEK)
	updated.WrappedKey = wrapped
	if err := v.saveMeta(ctx, &updated); err != nil {
		return err
	}

	v.touch()
	v.audit(ctx, interfaces.AuditChangePassword, "", true, "")
	return nil
}

// GetStatus returns a snapshot of the vault state. It works in every state.
func (v *SecureVault) GetStatus(ctx context.Context) (interfaces.VaultStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	status := interfaces.VaultStatus{
		Locked:             v.vrk == nil,
		HardwareProtection: v.cfg.HardwareProtection,
		LastActivity:       v.lastActivity,
	}

	meta, err := v.loadMeta(ctx)
	if errors.Is(err, interfaces.ErrNotInitialized) {
		return status, nil
	}
	if err != nil {
		return status, err
	}

	keys, err := v.store.Keys(ctx, entryPrefix)
	if err != nil {
		return status, fmt.Errorf("failed to list vault entries: %w", err)
	}

	status.Initialized = true
	status.MFAEnabled = meta.MFAEnabled
	status.HardwareProtection = meta.HardwareProtection
	status.KeyCount = len(keys)
	status.SecurityLevel = meta.SecurityLevel
	return status, nil
}

// Reset removes every vault record, including entries and the audit log, and
// returns the vault to Uninitialized. It is the way out of an integrity error.
func (v *SecureVault) Reset(ctx context.Context) (err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("reset", metrics.Result(err)).Inc() }()

	v.mu.Lock()
	defer v.mu.Unlock()

	keys, err := v.store.Keys(ctx, "vault/")
	if err != nil {
		return fmt.Errorf("failed to list vault records: %w", err)
	}
	for _, key := range keys {
		if err := v.store.Remove(ctx, key); err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}

	if v.vrk != nil {
		cryptoutils.Wipe(v.vrk)
		v.vrk = nil
	}
	v.auditLoaded = false
	v.auditSeq = 0
	v.auditHead = ""
	v.lastActivity = nil

	v.log.Warn("Vault reset", slog.Int("removed_records", len(keys)))
	return nil
}

func (v *SecureVault) kdfParams(level interfaces.SecurityLevel) (interfaces.KDFParams, error) {
	if v.cfg.KDF != nil {
		return cryptoutils.WithFreshSalt(*v.cfg.KDF)
	}
	return cryptoutils.ParamsForLevel(level)
}

func (v *SecureVault) loadMeta(ctx context.Context) (*metadata, error) {
	raw, err := v.store.Get(ctx, metaKey)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, interfaces.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInitialization, err)
	}
	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInitialization, err)
	}
	return &meta, nil
}

func (v *SecureVault) saveMeta(ctx context.Context, meta *metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode vault metadata: %w", err)
	}
	if err := v.store.Set(ctx, metaKey, raw); err != nil {
		return fmt.Errorf("failed to write vault metadata: %w", err)
	}
	return nil
}

// requireUnlocked returns the in-memory root key. Caller holds v.mu.
func (v *SecureVault) requireUnlocked() ([]byte, error) {
	if v.vrk == nil {
		return nil, interfaces.ErrVaultLocked
	}
	return v.vrk, nil
}

// stepUp re-verifies the master password while unlocked. Caller holds v.mu.
func (v *SecureVault) stepUp(ctx context.Context, password string) (*metadata, error) {
	meta, err := v.loadMeta(ctx)
	if err != nil {
		return nil, err
	}
	kek, err := cryptoutils.DeriveKey([]byte(password), meta.KDF)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInitialization, err)
	}
	defer cryptoutils.Wipe(kek)
	if !cryptoutils.CheckVerifier(kek, meta.Verifier) {
		return nil, interfaces.ErrInvalidPassword
	}
	return meta, nil
}

func (v *SecureVault) touch() {
	now := v.clock.Now().UTC()
	v.lastActivity = &now
}
