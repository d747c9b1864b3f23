package interfaces

import (
	"strings"
	"time"
)

// KeyType identifies what kind of secret a vault entry holds.
type KeyType string

const (
	KeyTypePrivateKey KeyType = "private_key"
	KeyTypeSeedPhrase KeyType = "seed_phrase"
	KeyTypeMnemonic   KeyType = "mnemonic"
	KeyTypeOther      KeyType = "other"
)

// Valid reports whether t is a known key type.
func (t KeyType) Valid() bool {
	switch t {
	case KeyTypePrivateKey, KeyTypeSeedPhrase, KeyTypeMnemonic, KeyTypeOther:
		return true
	}
	return false
}

// SecurityLevel selects the cost of the vault's key derivation.
type SecurityLevel string

const (
	SecurityStandard SecurityLevel = "standard"
	SecurityHigh     SecurityLevel = "high"
	SecurityMaximum  SecurityLevel = "maximum"
)

// Rank returns an explicit ordering for security levels. Unknown levels rank 0.
func (l SecurityLevel) Rank() int {
	switch l {
	case SecurityStandard:
		return 1
	case SecurityHigh:
		return 2
	case SecurityMaximum:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l is at least as strong as other.
func (l SecurityLevel) AtLeast(other SecurityLevel) bool {
	return l.Rank() >= other.Rank()
}

// ParseSecurityLevel parses a level name, case-insensitively.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	l := SecurityLevel(strings.ToLower(strings.TrimSpace(s)))
	if l.Rank() == 0 {
		return "", ErrInvalidArgument
	}
	return l, nil
}

// KeyPolicy restricts what may be done with a revealed secret.
type KeyPolicy struct {
	AllowExport bool `json:"allowExport"`
}

// EntryMetadata carries non-secret flags about a vault entry.
type EntryMetadata struct {
	HardwareProtected bool `json:"hardwareProtected"`
	IsBackedUp        bool `json:"isBackedUp"`
}

// VaultEntry is a single encrypted secret held by the vault.
type VaultEntry struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       KeyType       `json:"type"`
	Blockchain string        `json:"blockchain"`
	CreatedAt  time.Time     `json:"createdAt"`
	AccessedAt *time.Time    `json:"accessedAt,omitempty"`
	Ciphertext []byte        `json:"ciphertext,omitempty"`
	Policy     KeyPolicy     `json:"policy"`
	Metadata   EntryMetadata `json:"metadata"`
}

// Redacted returns a copy of the entry without its ciphertext.
func (e VaultEntry) Redacted() VaultEntry {
	e.Ciphertext = nil
	return e
}

// VaultStatus is a computed snapshot of the vault's state.
type VaultStatus struct {
	Initialized        bool          `json:"initialized"`
	Locked             bool          `json:"locked"`
	MFAEnabled         bool          `json:"mfaEnabled"`
	HardwareProtection bool          `json:"hardwareProtection"`
	KeyCount           int           `json:"keyCount"`
	SecurityLevel      SecurityLevel `json:"securityLevel,omitempty"`
	LastActivity       *time.Time    `json:"lastActivity,omitempty"`
}

// AuditAction names a security-sensitive vault operation.
type AuditAction string

const (
	AuditInit           AuditAction = "INIT"
	AuditUnlock         AuditAction = "UNLOCK"
	AuditLock           AuditAction = "LOCK"
	AuditLoadKey        AuditAction = "LOAD_KEY"
	AuditCreate         AuditAction = "CREATE"
	AuditDelete         AuditAction = "DELETE"
	AuditChangePassword AuditAction = "CHANGE_PASSWORD"
	AuditMFAEnable      AuditAction = "MFA_ENABLE"
	AuditMFADisable     AuditAction = "MFA_DISABLE"
)

// AuditMetadata is the optional detail attached to an audit entry.
// It never contains secret material.
type AuditMetadata struct {
	Reason string `json:"reason,omitempty"`
}

// AuditLogEntry is an append-only record of a vault operation. Entries are
// chained: Hash covers PrevHash and the entry's own fields.
type AuditLogEntry struct {
	ID         string        `json:"id"`
	Sequence   uint64        `json:"sequence"`
	Timestamp  time.Time     `json:"timestamp"`
	Action     AuditAction   `json:"action"`
	KeyID      string        `json:"keyId,omitempty"`
	Successful bool          `json:"successful"`
	Metadata   AuditMetadata `json:"metadata"`
	PrevHash   string        `json:"prevHash"`
	Hash       string        `json:"hash"`
}

// RecoveryMethod is one of the four supported recovery strategies.
type RecoveryMethod string

const (
	MethodSocial   RecoveryMethod = "SOCIAL"
	MethodTimelock RecoveryMethod = "TIMELOCK"
	MethodDeadman  RecoveryMethod = "DEADMAN"
	MethodBackup   RecoveryMethod = "BACKUP"
)

// RecoveryStatus is the lifecycle state of a recovery setup.
type RecoveryStatus string

const (
	StatusSetup     RecoveryStatus = "setup"
	StatusActive    RecoveryStatus = "active"
	StatusRecovered RecoveryStatus = "recovered"
	StatusExpired   RecoveryStatus = "expired"
)

// Final reports whether no further transitions are possible.
func (s RecoveryStatus) Final() bool {
	return s == StatusRecovered || s == StatusExpired
}

// CanTransitionTo reports whether moving from s to next respects the
// setup -> active -> recovered|expired ordering.
func (s RecoveryStatus) CanTransitionTo(next RecoveryStatus) bool {
	switch s {
	case StatusSetup:
		return next == StatusActive || next == StatusRecovered || next == StatusExpired
	case StatusActive:
		return next == StatusRecovered || next == StatusExpired
	default:
		return false
	}
}

// Guardian is a trusted party holding a share or receiving notifications.
type Guardian struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	ShareID     string `json:"shareId,omitempty"`
	HasVerified bool   `json:"hasVerified"`
}

// SetupMetadata is caller-supplied context for a recovery setup.
type SetupMetadata struct {
	Blockchain               string `json:"blockchain,omitempty"`
	TimelockDurationDays     int    `json:"timelockDurationDays,omitempty"`
	DeadmanCheckIntervalDays int    `json:"deadmanCheckIntervalDays,omitempty"`
	// RecoveryWindowDays optionally bounds how long a social recovery may stay open.
	RecoveryWindowDays int `json:"recoveryWindowDays,omitempty"`
}

// RecoverySetup is the durable record of one configured recovery.
type RecoverySetup struct {
	ID          string         `json:"id"`
	Method      RecoveryMethod `json:"method"`
	WalletID    string         `json:"walletId"`
	Threshold   int            `json:"threshold"`
	TotalShares int            `json:"totalShares"`
	CreatedAt   time.Time      `json:"createdAt"`
	ActivatedAt *time.Time     `json:"activatedAt,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Guardians   []Guardian     `json:"guardians,omitempty"`
	Status      RecoveryStatus `json:"status"`
	Metadata    SetupMetadata  `json:"metadata"`
}

// ShareMetadata ties a share to its position in the split.
type ShareMetadata struct {
	ShareIndex  int    `json:"shareIndex"`
	Threshold   int    `json:"threshold"`
	TotalShares int    `json:"totalShares"`
	WalletID    string `json:"walletId"`
	Blockchain  string `json:"blockchain,omitempty"`
}

// RecoveryShare is one guardian's share of a social recovery.
//
// ShareValue is only populated on the copy handed back from setup for
// distribution; the persisted record keeps ShareDigest instead.
type RecoveryShare struct {
	ID            string        `json:"id"`
	ShareValue    []byte        `json:"shareValue,omitempty"`
	ShareDigest   []byte        `json:"shareDigest,omitempty"`
	GuardianEmail string        `json:"guardianEmail,omitempty"`
	GuardianName  string        `json:"guardianName,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	IsVerified    bool          `json:"isVerified"`
	RecoveryID    string        `json:"recoveryId"`
	Metadata      ShareMetadata `json:"metadata"`
}

// KDFParams are the Argon2id parameters used for a password-derived key.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	Salt    []byte `json:"salt"`
}

// SealedSecret holds the ciphertext for timelock, deadman and backup recoveries.
type SealedSecret struct {
	RecoveryID string     `json:"recoveryId"`
	KDF        *KDFParams `json:"kdf,omitempty"`
	Verifier   []byte     `json:"verifier,omitempty"`
	Ciphertext []byte     `json:"ciphertext"`
}

// SocialSetupResult is returned by social recovery setup. Shares carry their
// ShareValue and must be handed to the guardians.
type SocialSetupResult struct {
	Setup  RecoverySetup   `json:"setup"`
	Shares []RecoveryShare `json:"shares"`
}

// StartRecoveryResult describes what a started recovery still needs.
type StartRecoveryResult struct {
	RecoveryID     string         `json:"recoveryId"`
	Method         RecoveryMethod `json:"method"`
	Status         RecoveryStatus `json:"status"`
	RequiredShares int            `json:"requiredShares,omitempty"`
}

// ShareSubmissionResult reports progress after a share submission.
type ShareSubmissionResult struct {
	Accepted         bool `json:"accepted"`
	RemainingShares  int  `json:"remainingShares"`
	RecoveryComplete bool `json:"recoveryComplete"`
}
