// Package cryptoutils provides the cryptographic primitives used by the vault
// and the recovery engine.
//
//   - Seal / Open: AES-256-GCM with a random 12 byte nonce prefixed to the output.
//     Open never returns plaintext for a ciphertext that fails authentication.
//   - DeriveKey: Argon2id password stretching, with cost presets per
//     interfaces.SecurityLevel (ParamsForLevel).
//   - HMAC, Verifier, DeriveSubkey: HMAC-SHA256 tags and HKDF subkeys.
//   - TOTP: RFC 6238 six digit codes for vault MFA.
//
// Keys are always KeySize (32) bytes. Callers should Wipe key material once done.
package cryptoutils
