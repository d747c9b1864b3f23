// Package vault implements SecureVault, the password protected store of wallet
// secrets.
//
// # Key hierarchy
//
// The master password is stretched with Argon2id into a key-encryption key
// (KEK). The KEK never leaves memory; it produces a verifier and wraps a random
// 32 byte vault root key (VRK). Each entry is sealed with AES-256-GCM under the
// VRK using the entry id as additional data, so ciphertexts cannot be swapped
// between entries. Changing the password only rewraps the VRK.
//
// # States
//
//	Uninitialized --Initialize--> Locked <--Unlock/Lock--> Unlocked
//
// GetKey, CreateKey, DeleteKey and the MFA operations require Unlocked and
// re-verify the password on every call.
//
// # Errors
//
// A wrong password or MFA code on Unlock yields interfaces.ErrInvalidCredentials.
// A verifier that matches but a root key that fails authentication yields
// interfaces.ErrIntegrity; unreadable metadata yields interfaces.ErrInitialization.
// Both are fatal and are cleared with Reset.
//
// # Audit log
//
// Security-sensitive operations append a hash-chained AuditLogEntry.
// VerifyAuditLog detects edited, removed or reordered entries.
package vault
