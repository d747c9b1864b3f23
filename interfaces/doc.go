// Package interfaces defines the core types, collaborator interfaces and error
// kinds shared by the vault, the recovery engine and their transports.
//
// # Data model
//
//   - VaultEntry, VaultStatus, AuditLogEntry: the encrypted key vault.
//   - RecoverySetup, RecoveryShare, SealedSecret: configured recoveries.
//   - SecurityLevel: standard, high or maximum, ordered by Rank.
//
// # Collaborators
//
//   - SecureStore: durable key-value store (see package storage).
//   - SecretSharer: threshold split and combine (see package kms).
//   - GuardianNotifier: guardian messaging (see package notify).
//   - ActivityTracker: wallet heartbeats used by dead-man switches.
//
// # Errors
//
// Every error returned by the core carries a Kind, retrievable with KindOf.
// Sentinels such as ErrInvalidCredentials are compared with errors.Is; the
// typed RateLimitedError, TimelockNotExpiredError and DeadmanNotTriggeredError
// carry retry detail and are extracted with errors.As.
package interfaces
