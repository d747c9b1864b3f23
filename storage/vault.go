package storage

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// vaultLogical is the subset of *api.Logical used by VaultStore.
type vaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
	WriteWithContext(ctx context.Context, path string, data map[string]interface{}) (*api.Secret, error)
	DeleteWithContext(ctx context.Context, path string) (*api.Secret, error)
	ListWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// VaultStore implements a SecureStore on a HashiCorp Vault KV v2 mount.
// Keys are hex encoded so that the store's slash separated keys live flat
// under dataPath and can be listed in a single call.
type VaultStore struct {
	logical   vaultLogical
	health    func(ctx context.Context) error
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// VaultConfig configures a VaultStore.
//
// Parameters:
//   - Address: Vault server address (e.g. https://vault.example.com:8200)
//   - MountPath: KV v2 mount path (e.g. "secret")
//   - DataPath: Path within the mount (e.g. "wallet-vault")
//   - Token: Vault token; falls back to VAULT_TOKEN when empty
//   - ClientCert: optional TLS client certificate for cert auth
type VaultConfig struct {
	Address    string
	MountPath  string
	DataPath   string
	Token      string
	ClientCert *tls.Certificate
}

// NewVaultStore creates a Vault KV v2 store.
func NewVaultStore(cfg VaultConfig, log *slog.Logger) (*VaultStore, error) {
	if log == nil {
		log = slog.Default()
	}

	config := api.DefaultConfig()
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	if cfg.ClientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{*cfg.ClientCert}},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	store := newVaultStore(client.Logical(), cfg.MountPath, cfg.DataPath, log)
	store.health = func(ctx context.Context) error {
		health, err := client.Sys().HealthWithContext(ctx)
		if err != nil {
			return err
		}
		if !health.Initialized || health.Sealed {
			return fmt.Errorf("vault initialized=%v sealed=%v", health.Initialized, health.Sealed)
		}
		return nil
	}
	return store, nil
}

func newVaultStore(logical vaultLogical, mountPath, dataPath string, log *slog.Logger) *VaultStore {
	return &VaultStore{
		logical:   logical,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}
}

// Get reads the latest version of key.
func (b *VaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return nil, err
	}
	path := b.path("data", key)

	secret, err := b.logical.ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrKeyNotFound
	}

	// KV v2 wraps the payload in a "data" map; deleted versions have nil data.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.ErrKeyNotFound
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid content format in Vault data at %s", path)
	}

	value, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data: %w", err)
	}
	return value, nil
}

// Set writes a new version of key.
func (b *VaultStore) Set(ctx context.Context, key string, value []byte) error {
	if err := interfaces.ValidateStoreKey(key); err != nil {
		return err
	}
	path := b.path("data", key)

	_, err := b.logical.WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(value),
		},
	})
	if err != nil {
		b.log.Error("Failed to write to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Remove deletes every version of key.
func (b *VaultStore) Remove(ctx context.Context, key string) error {
	if _, err := b.Get(ctx, key); err != nil {
		return err
	}
	if _, err := b.logical.DeleteWithContext(ctx, b.path("metadata", key)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

// Keys lists stored keys with the given prefix.
func (b *VaultStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	listPath := joinVaultPath(b.mountPath, "metadata", b.dataPath)
	secret, err := b.logical.ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	keys := make([]string, 0)
	if secret == nil || secret.Data == nil {
		return keys, nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			continue
		}
		decoded, err := hex.DecodeString(name)
		if err != nil {
			continue
		}
		if key := string(decoded); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultStore) Available(ctx context.Context) bool {
	if b.health == nil {
		return true
	}
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.health(healthCtx); err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

func (b *VaultStore) path(kind, key string) string {
	return joinVaultPath(b.mountPath, kind, b.dataPath, hex.EncodeToString([]byte(key)))
}

func joinVaultPath(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}
