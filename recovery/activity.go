package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

const activityPrefix = "activity/"

type activityRecord struct {
	WalletID     string    `json:"walletId"`
	LastActivity time.Time `json:"lastActivity"`
}

// StoreActivityTracker persists wallet heartbeats in a SecureStore.
type StoreActivityTracker struct {
	store interfaces.SecureStore
}

var _ interfaces.ActivityTracker = (*StoreActivityTracker)(nil)

// NewStoreActivityTracker creates a tracker over store.
func NewStoreActivityTracker(store interfaces.SecureStore) *StoreActivityTracker {
	return &StoreActivityTracker{store: store}
}

// LastActivity returns nil when walletID has never reported activity.
func (t *StoreActivityTracker) LastActivity(ctx context.Context, walletID string) (*time.Time, error) {
	if walletID == "" {
		return nil, nil
	}
	raw, err := t.store.Get(ctx, activityPrefix+walletID)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read activity for %s: %w", walletID, err)
	}

	var rec activityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: activity record for %s: %v", interfaces.ErrIntegrity, walletID, err)
	}
	at := rec.LastActivity
	return &at, nil
}

// RecordActivity stores at as the wallet's last activity. Older timestamps
// never move the heartbeat backwards.
func (t *StoreActivityTracker) RecordActivity(ctx context.Context, walletID string, at time.Time) error {
	if walletID == "" {
		return fmt.Errorf("%w: wallet id is required", interfaces.ErrInvalidArgument)
	}

	last, err := t.LastActivity(ctx, walletID)
	if err != nil && !errors.Is(err, interfaces.ErrIntegrity) {
		return err
	}
	if last != nil && last.After(at) {
		return nil
	}

	raw, err := json.Marshal(activityRecord{WalletID: walletID, LastActivity: at.UTC()})
	if err != nil {
		return err
	}
	if err := t.store.Set(ctx, activityPrefix+walletID, raw); err != nil {
		return fmt.Errorf("failed to record activity for %s: %w", walletID, err)
	}
	return nil
}
