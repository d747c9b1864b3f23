/*
Package httpserver implements the local control API of the wallet vault.

The API is JSON over HTTP and is meant to listen on a loopback or otherwise
private address; it is the way the CLI and a wallet frontend drive the vault
and the recovery engine.

# Vault API

  - POST /api/vault/initialize      create the master credential
  - POST /api/vault/unlock          unlock with password and optional TOTP code
  - POST /api/vault/lock            wipe the root key from memory
  - GET  /api/vault/status          computed vault status
  - POST /api/vault/password        change the master password
  - POST /api/vault/mfa/enable      enrol a TOTP authenticator
  - POST /api/vault/mfa/disable     remove the TOTP requirement
  - GET  /api/vault/keys            list entries without ciphertext
  - POST /api/vault/keys            import or generate a key
  - POST /api/vault/keys/{key_id}/reveal  decrypt a key (step-up password)
  - DELETE /api/vault/keys/{key_id} delete a key (step-up password)
  - GET  /api/vault/audit           newest-first audit log
  - GET  /api/vault/audit/verify    check the audit hash chain
  - POST /api/vault/reset           remove every vault record

# Recovery API

  - POST /api/recovery/social|timelock|deadman|backup  configure a recovery
  - GET  /api/recovery?wallet_id=   list setups
  - GET  /api/recovery/{recovery_id}
  - POST /api/recovery/{recovery_id}/start
  - POST /api/recovery/{recovery_id}/shares
  - POST /api/recovery/{recovery_id}/shares/verify
  - POST /api/recovery/{recovery_id}/complete
  - DELETE /api/recovery/{recovery_id}
  - POST /api/recovery/sweep        run the supervisor once
  - POST /api/wallets/{wallet_id}/activity  dead-man heartbeat

Secrets and share values are base64 strings in JSON bodies.

# Errors

Failures return an ErrorResponse with a stable code. Error kinds map onto
status codes: validation 400, authentication 401, not found 404, state 409,
closed recovery gates 425 (with remainingDays), rate limiting 429 (with a
Retry-After header) and integrity or internal failures 500.

# Health

/livez, /readyz, /drain and /undrain follow the usual load balancer
conventions. Requests are logged with httplogger and counted per route
pattern in Prometheus.
*/
package httpserver
