package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// StoreFactory creates secure stores from URI strings and assembles mirrored
// multi-backend stores.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreFactory{log: logger}
}

// StoreFor creates a store from a location URI.
//
// Supported schemes:
//   - memory:// - Process-local store, lost on exit
//   - file:///absolute/path - One file per key in a directory
//   - bolt:///path/to/vault.db - Single bbolt database file
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=...&pathStyle=true
//   - vault://host:8200/mount/path?tls=true - HashiCorp Vault KV v2, token from VAULT_TOKEN
func (sf *StoreFactory) StoreFor(location interfaces.StoreLocation) (interfaces.SecureStore, error) {
	sf.log.Debug("Creating store", slog.String("uri", location.String()))

	switch location.Scheme {
	case "memory":
		return NewMemoryStore(sf.log), nil
	case "file":
		path, err := localPath(location)
		if err != nil {
			return nil, err
		}
		return NewFileStore(path, sf.log)
	case "bolt":
		path, err := localPath(location)
		if err != nil {
			return nil, err
		}
		return NewBoltStore(path, sf.log)
	case "s3":
		return sf.createS3Store(location)
	case "vault":
		return sf.createVaultStore(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// StoreForURI parses uri and creates the matching store.
func (sf *StoreFactory) StoreForURI(uri string) (interfaces.SecureStore, error) {
	location, err := interfaces.ParseStoreLocation(uri)
	if err != nil {
		return nil, err
	}
	return sf.StoreFor(location)
}

// CreateMultiStore creates a mirrored store from several URIs. A single URI
// yields that store directly. Any URI that fails to produce a store fails the
// whole call, since silently dropping a mirror loses redundancy.
func (sf *StoreFactory) CreateMultiStore(uris []string) (interfaces.SecureStore, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("%w: no storage locations configured", interfaces.ErrInvalidLocationURI)
	}

	backends := make([]interfaces.SecureStore, 0, len(uris))
	for _, uri := range uris {
		backend, err := sf.StoreForURI(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to create store for %s: %w", uri, err)
		}
		backends = append(backends, backend)
	}

	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiStore(backends, sf.log), nil
}

func (sf *StoreFactory) createS3Store(location interfaces.StoreLocation) (interfaces.SecureStore, error) {
	cfg := S3Config{
		Bucket:    location.Host,
		Prefix:    strings.TrimPrefix(location.Path, "/"),
		Region:    location.GetParam("region"),
		Endpoint:  location.GetParam("endpoint"),
		PathStyle: location.GetParamBool("pathStyle"),
	}
	if location.Auth != "" {
		user, pass, _ := strings.Cut(location.Auth, ":")
		cfg.AccessKey, cfg.SecretKey = user, pass
		sf.log.Debug("Using embedded S3 credentials")
	}
	return NewS3Store(cfg, sf.log)
}

func (sf *StoreFactory) createVaultStore(location interfaces.StoreLocation) (interfaces.SecureStore, error) {
	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	if location.Host == "" || parts[0] == "" {
		return nil, fmt.Errorf("%w: expected vault://host:port/mount[/path]", interfaces.ErrInvalidLocationURI)
	}
	scheme := "http"
	if location.GetParamBool("tls") {
		scheme = "https"
	}
	cfg := VaultConfig{
		Address:   fmt.Sprintf("%s://%s", scheme, location.Host),
		MountPath: parts[0],
	}
	if len(parts) == 2 {
		cfg.DataPath = parts[1]
	}
	return NewVaultStore(cfg, sf.log)
}

// localPath extracts a filesystem path from file:// and bolt:// URIs,
// accepting both scheme:///abs/path and scheme://./relative/path.
func localPath(location interfaces.StoreLocation) (string, error) {
	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty path in %s URI", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
	return path, nil
}
