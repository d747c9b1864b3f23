package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreActivityTracker(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLogger())
	tracker := NewStoreActivityTracker(store)

	last, err := tracker.LastActivity(ctx, "wallet-1")
	require.NoError(t, err)
	assert.Nil(t, last)

	t0 := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, tracker.RecordActivity(ctx, "wallet-1", t0))
	require.NoError(t, tracker.RecordActivity(ctx, "wallet-1", t0.Add(-time.Hour)))

	last, err = tracker.LastActivity(ctx, "wallet-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(t0))

	require.NoError(t, tracker.RecordActivity(ctx, "wallet-1", t0.Add(time.Hour)))
	last, err = tracker.LastActivity(ctx, "wallet-1")
	require.NoError(t, err)
	assert.True(t, last.Equal(t0.Add(time.Hour)))

	require.ErrorIs(t, tracker.RecordActivity(ctx, "", t0), interfaces.ErrInvalidArgument)
}

func TestStoreActivityTrackerCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testLogger())
	tracker := NewStoreActivityTracker(store)

	require.NoError(t, store.Set(ctx, "activity/wallet-1", []byte("not json")))
	_, err := tracker.LastActivity(ctx, "wallet-1")
	require.ErrorIs(t, err, interfaces.ErrIntegrity)

	// A fresh heartbeat replaces the corrupt record.
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, tracker.RecordActivity(ctx, "wallet-1", now))
	last, err := tracker.LastActivity(ctx, "wallet-1")
	require.NoError(t, err)
	assert.True(t, last.Equal(now))
}
