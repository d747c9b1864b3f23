package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error so that callers (and the HTTP layer) can decide
// whether it is retryable and how to surface it.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindState            Kind = "state"
	KindNotFound         Kind = "not_found"
	KindGateNotSatisfied Kind = "gate_not_satisfied"
	KindIntegrity        Kind = "integrity"
	KindRateLimited      Kind = "rate_limited"
	KindInternal         Kind = "internal"
)

// Error is a machine-readable error carrying a Kind and a stable code.
// Sentinel values below are compared with errors.Is.
type Error struct {
	kind Kind
	code string
	msg  string
}

// NewError creates a new kinded error.
func NewError(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the stable machine-readable code, e.g. "weak_password".
func (e *Error) Code() string { return e.code }

var (
	// Validation
	ErrWeakPassword       = NewError(KindValidation, "weak_password", "password must be at least 8 characters")
	ErrInvalidThreshold   = NewError(KindValidation, "invalid_threshold", "invalid threshold for the number of guardians")
	ErrInvalidGuardians   = NewError(KindValidation, "invalid_guardians", "invalid guardian list")
	ErrInvalidDuration    = NewError(KindValidation, "invalid_duration", "duration must be at least one day")
	ErrEmptySecret        = NewError(KindValidation, "empty_secret", "secret must not be empty")
	ErrInvalidArgument    = NewError(KindValidation, "invalid_argument", "invalid argument")
	ErrExportNotAllowed   = NewError(KindValidation, "export_not_allowed", "key policy does not allow export")
	ErrInvalidStoreKey    = NewError(KindValidation, "invalid_store_key", "invalid store key")
	ErrInvalidLocationURI = NewError(KindValidation, "invalid_location_uri", "invalid storage location URI")

	// Authentication
	ErrInvalidCredentials = NewError(KindAuthentication, "invalid_credentials", "invalid credentials")
	ErrInvalidPassword    = NewError(KindAuthentication, "invalid_password", "invalid password")
	ErrInvalidShare       = NewError(KindAuthentication, "invalid_share", "share value does not match the issued share")
	ErrInvalidMFACode     = NewError(KindAuthentication, "invalid_mfa_code", "invalid MFA code")

	// State
	ErrNotInitialized     = NewError(KindState, "not_initialized", "vault is not initialized")
	ErrAlreadyInitialized = NewError(KindState, "already_initialized", "vault is already initialized")
	ErrVaultLocked        = NewError(KindState, "vault_locked", "vault is locked")
	ErrMFAAlreadyEnabled  = NewError(KindState, "mfa_already_enabled", "MFA is already enabled")
	ErrMFANotEnabled      = NewError(KindState, "mfa_not_enabled", "MFA is not enabled")
	ErrAlreadyCompleted   = NewError(KindState, "already_completed", "recovery already completed")
	ErrNotActive          = NewError(KindState, "not_active", "recovery is not active")
	ErrRecoveryNotStarted = NewError(KindState, "recovery_not_started", "recovery has not been started")
	ErrDuplicateShare     = NewError(KindState, "duplicate_share", "share already submitted")
	ErrForeignShare       = NewError(KindState, "foreign_share", "share does not belong to this recovery")
	ErrMethodMismatch     = NewError(KindState, "method_mismatch", "operation not supported by this recovery method")
	ErrInsufficientShares = NewError(KindState, "insufficient_shares", "not enough shares to reconstruct the secret")

	// Not found
	ErrKeyNotFound      = NewError(KindNotFound, "key_not_found", "key not found")
	ErrRecoveryNotFound = NewError(KindNotFound, "recovery_not_found", "recovery not found")

	// Gates
	ErrTimelockNotExpired  = NewError(KindGateNotSatisfied, "timelock_not_expired", "timelock has not expired")
	ErrDeadmanNotTriggered = NewError(KindGateNotSatisfied, "deadman_not_triggered", "inactivity period has not elapsed")

	// Integrity
	ErrIntegrity      = NewError(KindIntegrity, "integrity", "stored data failed integrity check")
	ErrInitialization = NewError(KindIntegrity, "initialization", "vault metadata is corrupted")

	// Rate limiting
	ErrRateLimited = NewError(KindRateLimited, "rate_limited", "too many recovery attempts")
)

// RateLimitedError is returned when a recovery id is locked out.
type RateLimitedError struct {
	RetryAfter       time.Duration
	RemainingMinutes int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry in %d minutes", ErrRateLimited.msg, e.RemainingMinutes)
}

func (e *RateLimitedError) Kind() Kind { return KindRateLimited }

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// TimelockNotExpiredError reports how long a timelock still has to run.
type TimelockNotExpiredError struct {
	RemainingDays int
	ExpiresAt     time.Time
}

func (e *TimelockNotExpiredError) Error() string {
	return fmt.Sprintf("%s: %d days remaining", ErrTimelockNotExpired.msg, e.RemainingDays)
}

func (e *TimelockNotExpiredError) Kind() Kind { return KindGateNotSatisfied }

func (e *TimelockNotExpiredError) Is(target error) bool { return target == ErrTimelockNotExpired }

// DeadmanNotTriggeredError reports how much inactivity is still required.
type DeadmanNotTriggeredError struct {
	RemainingDays int
	TriggersAt    time.Time
}

func (e *DeadmanNotTriggeredError) Error() string {
	return fmt.Sprintf("%s: %d days remaining", ErrDeadmanNotTriggered.msg, e.RemainingDays)
}

func (e *DeadmanNotTriggeredError) Kind() Kind { return KindGateNotSatisfied }

func (e *DeadmanNotTriggeredError) Is(target error) bool { return target == ErrDeadmanNotTriggered }

type kinded interface {
	Kind() Kind
}

// KindOf returns the Kind of the first kinded error in err's chain,
// or KindInternal if there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return ErrRateLimited.code
	}
	var tl *TimelockNotExpiredError
	if errors.As(err, &tl) {
		return ErrTimelockNotExpired.code
	}
	var dm *DeadmanNotTriggeredError
	if errors.As(err, &dm) {
		return ErrDeadmanNotTriggered.code
	}
	return "internal"
}
