package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// StoreLocation represents the URI of a secure store backend.
type StoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname, bucket or Vault address
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// ParseStoreLocation creates a store location from a URI string with validation.
func ParseStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "memory", "file", "bolt", "s3", "vault":
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI with credentials masked.
func (loc StoreLocation) String() string {
	if loc.Auth == "" {
		return loc.Raw
	}
	return strings.Replace(loc.Raw, loc.Auth+"@", "***@", 1)
}

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// ErrBackendUnavailable is returned when a storage backend is not accessible.
// This could be due to network issues, authentication failures, or service outages.
var ErrBackendUnavailable = errors.New("storage backend unavailable")

// SecureStore is a durable key-value store for vault and recovery records.
//
// Keys are slash separated paths such as "recovery/setup/<id>". Values are opaque
// bytes; callers encrypt anything secret before it reaches the store. Get and
// Remove return ErrKeyNotFound for missing keys. Set overwrites.
type SecureStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// Keys lists every key starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string
}

// ValidateStoreKey rejects keys that cannot be mapped onto every backend.
func ValidateStoreKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") || strings.Contains(key, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidStoreKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidStoreKey, key)
		}
	}
	return nil
}
