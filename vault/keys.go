package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/metrics"
)

// evmChains use secp256k1 private keys.
var evmChains = map[string]bool{
	"ethereum":  true,
	"polygon":   true,
	"arbitrum":  true,
	"optimism":  true,
	"base":      true,
	"bsc":       true,
	"avalanche": true,
}

// GetKey decrypts and returns the secret for keyID. The caller owns the
// returned slice and should wipe it after use.
func (v *SecureVault) GetKey(ctx context.Context, keyID, password string, access interfaces.AccessContext) (secret []byte, err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("get_key", metrics.Result(err)).Inc() }()

	v.mu.Lock()
	defer v.mu.Unlock()

	vrk, err := v.requireUnlocked()
	if err != nil {
		return nil, err
	}
	if _, err := v.stepUp(ctx, password); err != nil {
		v.audit(ctx, interfaces.AuditLoadKey, keyID, false, "invalid password")
		return nil, err
	}

	entry, err := v.loadEntry(ctx, keyID)
	if err != nil {
		v.audit(ctx, interfaces.AuditLoadKey, keyID, false, "not found")
		return nil, err
	}
	if access.Purpose == interfaces.PurposeExport && !entry.Policy.AllowExport {
		v.audit(ctx, interfaces.AuditLoadKey, keyID, false, "export not allowed")
		return nil, interfaces.ErrExportNotAllowed
	}

	secret, err = cryptoutils.Open(vrk, entry.Ciphertext, []byte(entry.ID))
	if err != nil {
		v.audit(ctx, interfaces.AuditLoadKey, keyID, false, "entry integrity")
		v.log.Error("Vault entry failed authentication", slog.String("key_id", keyID))
		return nil, fmt.Errorf("%w: entry %s", interfaces.ErrIntegrity, keyID)
	}

	now := v.clock.Now().UTC()
	entry.AccessedAt = &now
	if err := v.saveEntry(ctx, entry); err != nil {
		v.log.Warn("Failed to record key access time", slog.String("key_id", keyID), "err", err)
	}

	v.touch()
	v.audit(ctx, interfaces.AuditLoadKey, keyID, true, string(access.Purpose))
	return secret, nil
}

// CreateKey stores a new secret. When req.Secret is nil one is generated: a
// secp256k1 private key for EVM chains, 32 random bytes otherwise. The
// returned entry carries no ciphertext.
func (v *SecureVault) CreateKey(ctx context.Context, password string, req interfaces.NewKeyRequest) (entry interfaces.VaultEntry, err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("create_key", metrics.Result(err)).Inc() }()

	if strings.TrimSpace(req.Name) == "" {
		return interfaces.VaultEntry{}, fmt.Errorf("%w: key name is required", interfaces.ErrInvalidArgument)
	}
	if req.Type == "" {
		req.Type = interfaces.KeyTypePrivateKey
	}
	if !req.Type.Valid() {
		return interfaces.VaultEntry{}, fmt.Errorf("%w: unknown key type %q", interfaces.ErrInvalidArgument, req.Type)
	}
	if req.Secret != nil && len(req.Secret) == 0 {
		return interfaces.VaultEntry{}, interfaces.ErrEmptySecret
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	vrk, err := v.requireUnlocked()
	if err != nil {
		return interfaces.VaultEntry{}, err
	}
	if _, err := v.stepUp(ctx, password); err != nil {
		v.audit(ctx, interfaces.AuditCreate, "", false, "invalid password")
		return interfaces.VaultEntry{}, err
	}

	secret := req.Secret
	if secret == nil {
		secret, err = generateSecret(req.Blockchain)
		if err != nil {
			return interfaces.VaultEntry{}, err
		}
		defer cryptoutils.Wipe(secret)
	}

	entry = interfaces.VaultEntry{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Type:       req.Type,
		Blockchain: strings.ToLower(req.Blockchain),
		CreatedAt:  v.clock.Now().UTC(),
		Policy:     req.Policy,
		Metadata:   req.Metadata,
	}
	entry.Ciphertext, err = cryptoutils.Seal(vrk, secret, []byte(entry.ID))
	if err != nil {
		return interfaces.VaultEntry{}, fmt.Errorf("failed to encrypt key: %w", err)
	}
	if err := v.saveEntry(ctx, &entry); err != nil {
		return interfaces.VaultEntry{}, err
	}

	v.touch()
	v.audit(ctx, interfaces.AuditCreate, entry.ID, true, "")
	v.log.Info("Vault key created",
		slog.String("key_id", entry.ID),
		slog.String("blockchain", entry.Blockchain),
		slog.Bool("generated", req.Secret == nil))
	return entry.Redacted(), nil
}

// DeleteKey removes keyID from the vault.
func (v *SecureVault) DeleteKey(ctx context.Context, keyID, password string) (err error) {
	defer func() { metrics.VaultOperations.WithLabelValues("delete_key", metrics.Result(err)).Inc() }()

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.requireUnlocked(); err != nil {
		return err
	}
	if _, err := v.stepUp(ctx, password); err != nil {
		v.audit(ctx, interfaces.AuditDelete, keyID, false, "invalid password")
		return err
	}

	if err := v.store.Remove(ctx, entryPrefix+keyID); err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			v.audit(ctx, interfaces.AuditDelete, keyID, false, "not found")
			return interfaces.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete key: %w", err)
	}

	v.touch()
	v.audit(ctx, interfaces.AuditDelete, keyID, true, "")
	return nil
}

// ListKeys returns every entry, oldest first, without ciphertext.
func (v *SecureVault) ListKeys(ctx context.Context) ([]interfaces.VaultEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.requireUnlocked(); err != nil {
		return nil, err
	}

	keys, err := v.store.Keys(ctx, entryPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list vault entries: %w", err)
	}

	entries := make([]interfaces.VaultEntry, 0, len(keys))
	for _, key := range keys {
		entry, err := v.loadEntry(ctx, strings.TrimPrefix(key, entryPrefix))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry.Redacted())
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (v *SecureVault) loadEntry(ctx context.Context, keyID string) (*interfaces.VaultEntry, error) {
	if keyID == "" || strings.Contains(keyID, "/") {
		return nil, interfaces.ErrKeyNotFound
	}
	raw, err := v.store.Get(ctx, entryPrefix+keyID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	var entry interfaces.VaultEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", interfaces.ErrIntegrity, keyID, err)
	}
	if entry.ID != keyID {
		return nil, fmt.Errorf("%w: entry %s stored under %s", interfaces.ErrIntegrity, entry.ID, keyID)
	}
	return &entry, nil
}

func (v *SecureVault) saveEntry(ctx context.Context, entry *interfaces.VaultEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}
	if err := v.store.Set(ctx, entryPrefix+entry.ID, raw); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func generateSecret(blockchain string) ([]byte, error) {
	if evmChains[strings.ToLower(blockchain)] {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		return crypto.FromECDSA(key), nil
	}
	return cryptoutils.RandomBytes(cryptoutils.KeySize)
}
