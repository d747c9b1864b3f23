// Package storage provides interfaces.SecureStore backends.
//
// The vault and the recovery engine persist every record through a small
// key-value contract (Get, Set, Remove, Keys by prefix). Values arrive already
// encrypted or are non-secret metadata, so backends only need durability:
//
//   - MemoryStore for tests and ephemeral runs
//   - FileStore, one file per key in a local directory
//   - BoltStore, a single bbolt database file
//   - S3Store for Amazon S3 and compatible object stores
//   - VaultStore for a HashiCorp Vault KV v2 mount
//   - MultiStore mirroring writes across several of the above
//
// # Storage URI Format
//
// Backends are selected with a location URI:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// For example:
//
//   - memory://
//   - file:///var/lib/wallet-vault/store
//   - bolt:///var/lib/wallet-vault/vault.db
//   - s3://bucket-name/prefix?region=eu-west-1
//   - vault://vault.example.com:8200/secret/wallet-vault?tls=true
//
// StoreFactory.CreateMultiStore combines several URIs into a MultiStore.
package storage
