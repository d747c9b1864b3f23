package interfaces

import (
	"context"
	"time"
)

// NotificationContext describes why a guardian is being contacted.
type NotificationContext struct {
	WalletID    string         `json:"walletId"`
	Method      RecoveryMethod `json:"method"`
	Reason      string         `json:"reason"`
	TriggeredAt time.Time      `json:"triggeredAt"`
}

// GuardianNotifier delivers recovery notices to guardians.
// Implementations must not block for long; the supervisor treats failures as
// non-fatal and only logs them.
type GuardianNotifier interface {
	Notify(ctx context.Context, guardianEmail, recoveryID string, nctx NotificationContext) error
}

// ActivityTracker records wallet heartbeats for dead-man switches.
// LastActivity returns nil when the wallet has never reported activity.
type ActivityTracker interface {
	LastActivity(ctx context.Context, walletID string) (*time.Time, error)
	RecordActivity(ctx context.Context, walletID string, at time.Time) error
}

// AccessPurpose states why a secret is being read from the vault.
type AccessPurpose string

const (
	PurposeSign   AccessPurpose = "sign"
	PurposeExport AccessPurpose = "export"
	PurposeBackup AccessPurpose = "backup"
)

// AccessContext accompanies GetKey requests.
type AccessContext struct {
	Purpose AccessPurpose `json:"purpose"`
}

// NewKeyRequest describes a key to create or import into the vault.
// A nil Secret asks the vault to generate one.
type NewKeyRequest struct {
	Name       string        `json:"name"`
	Type       KeyType       `json:"type"`
	Blockchain string        `json:"blockchain"`
	Secret     []byte        `json:"secret,omitempty"`
	Policy     KeyPolicy     `json:"policy"`
	Metadata   EntryMetadata `json:"metadata"`
}
