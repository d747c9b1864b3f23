package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGuardians = []interfaces.Guardian{
	{Email: "a@example.com", Name: "A"},
	{Email: "b@example.com", Name: "B"},
	{Email: "c@example.com", Name: "C"},
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStore(testLogger())

	cfg := Config{
		SealingKey: make([]byte, 32),
		BackupKDF:  &interfaces.KDFParams{Time: 1, Memory: 1024, Threads: 1},
	}
	for i := range cfg.SealingKey {
		cfg.SealingKey[i] = byte(i)
	}
	engine, err := New(store, nil, nil, cfg, mock, testLogger())
	require.NoError(t, err)
	return engine, store, mock
}

func TestNewRejectsBadSealingKey(t *testing.T) {
	store := storage.NewMemoryStore(testLogger())
	_, err := New(store, nil, nil, Config{SealingKey: []byte("short")}, nil, testLogger())
	assert.Error(t, err)
	_, err = New(nil, nil, nil, Config{SealingKey: make([]byte, 32)}, nil, testLogger())
	assert.Error(t, err)
}

func TestSocialRecoveryEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{Blockchain: "ethereum"})
	require.NoError(t, err)
	require.Len(t, res.Shares, 3)
	assert.Equal(t, interfaces.StatusSetup, res.Setup.Status)
	assert.Equal(t, 2, res.Setup.Threshold)
	assert.Equal(t, 3, res.Setup.TotalShares)
	for i, share := range res.Shares {
		assert.Equal(t, i+1, share.Metadata.ShareIndex)
		assert.Equal(t, testGuardians[i].Email, share.GuardianEmail)
		assert.Equal(t, share.ID, res.Setup.Guardians[i].ShareID)
		assert.NotEmpty(t, share.ShareValue)
	}

	// Persisted shares never carry their values.
	keys, err := store.Keys(ctx, sharePrefix+res.Setup.ID+"/")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for _, key := range keys {
		raw, err := store.Get(ctx, key)
		require.NoError(t, err)
		var stored interfaces.RecoveryShare
		require.NoError(t, json.Unmarshal(raw, &stored))
		assert.Empty(t, stored.ShareValue)
		assert.NotEmpty(t, stored.ShareDigest)
	}

	id := res.Setup.ID
	started, err := engine.StartRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, started.RequiredShares)
	assert.Equal(t, interfaces.StatusActive, started.Status)

	sub, err := engine.SubmitRecoveryShare(ctx, id, res.Shares[0].ID, res.Shares[0].ShareValue)
	require.NoError(t, err)
	assert.True(t, sub.Accepted)
	assert.Equal(t, 1, sub.RemainingShares)
	assert.False(t, sub.RecoveryComplete)

	sub, err = engine.SubmitRecoveryShare(ctx, id, res.Shares[2].ID, res.Shares[2].ShareValue)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.RemainingShares)
	assert.True(t, sub.RecoveryComplete)

	secret, err := engine.CompleteSocialRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)

	setup, err := engine.GetRecoverySetup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRecovered, setup.Status)
	require.NotNil(t, setup.CompletedAt)
	require.NotNil(t, setup.ActivatedAt)

	_, err = engine.CompleteSocialRecovery(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)
	_, err = engine.StartRecovery(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)
}

func TestSocialRecoveryErrors(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{})
	require.NoError(t, err)
	id := res.Setup.ID
	shares := res.Shares

	_, err = engine.SubmitRecoveryShare(ctx, id, shares[0].ID, shares[0].ShareValue)
	assert.ErrorIs(t, err, interfaces.ErrRecoveryNotStarted)
	_, err = engine.CompleteSocialRecovery(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrRecoveryNotStarted)

	_, err = engine.StartRecovery(ctx, id)
	require.NoError(t, err)

	_, err = engine.SubmitRecoveryShare(ctx, id, shares[0].ID, shares[0].ShareValue)
	require.NoError(t, err)

	t.Run("insufficient shares", func(t *testing.T) {
		_, err := engine.CompleteSocialRecovery(ctx, id)
		assert.ErrorIs(t, err, interfaces.ErrInsufficientShares)
		assert.Equal(t, interfaces.KindState, interfaces.KindOf(err))
	})

	t.Run("duplicate share", func(t *testing.T) {
		_, err := engine.SubmitRecoveryShare(ctx, id, shares[0].ID, shares[0].ShareValue)
		assert.ErrorIs(t, err, interfaces.ErrDuplicateShare)
	})

	t.Run("forged share value", func(t *testing.T) {
		forged := append([]byte(nil), shares[1].ShareValue...)
		forged[0] ^= 0xff
		_, err := engine.SubmitRecoveryShare(ctx, id, shares[1].ID, forged)
		assert.ErrorIs(t, err, interfaces.ErrInvalidShare)
		assert.Equal(t, interfaces.KindAuthentication, interfaces.KindOf(err))
	})

	t.Run("foreign share", func(t *testing.T) {
		other, err := engine.SetupSocialRecovery(ctx, "wallet-2", []byte("other"), testGuardians, 2, interfaces.SetupMetadata{})
		require.NoError(t, err)
		_, err = engine.SubmitRecoveryShare(ctx, id, other.Shares[0].ID, other.Shares[0].ShareValue)
		assert.ErrorIs(t, err, interfaces.ErrForeignShare)
		_, err = engine.SubmitRecoveryShare(ctx, id, "../"+other.Setup.ID, nil)
		assert.ErrorIs(t, err, interfaces.ErrForeignShare)
	})

	t.Run("unknown recovery", func(t *testing.T) {
		_, err := engine.StartRecovery(ctx, "missing")
		assert.ErrorIs(t, err, interfaces.ErrRecoveryNotFound)
		_, err = engine.SubmitRecoveryShare(ctx, "missing", shares[0].ID, shares[0].ShareValue)
		assert.ErrorIs(t, err, interfaces.ErrRecoveryNotFound)
	})

	// The attempt still completes with a genuine second share.
	_, err = engine.SubmitRecoveryShare(ctx, id, shares[1].ID, shares[1].ShareValue)
	require.NoError(t, err)
	secret, err := engine.CompleteSocialRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)
}

func TestSocialSetupValidation(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)

	tests := []struct {
		name      string
		guardians []interfaces.Guardian
		threshold int
		want      error
	}{
		{name: "threshold one", guardians: testGuardians, threshold: 1, want: interfaces.ErrInvalidThreshold},
		{name: "threshold above guardians", guardians: testGuardians, threshold: 4, want: interfaces.ErrInvalidThreshold},
		{name: "duplicate guardian", guardians: []interfaces.Guardian{{Email: "a@example.com"}, {Email: "A@example.com"}}, threshold: 2, want: interfaces.ErrInvalidGuardians},
		{name: "invalid email", guardians: []interfaces.Guardian{{Email: "a@example.com"}, {Email: "not-an-email"}}, threshold: 2, want: interfaces.ErrInvalidGuardians},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed"), tt.guardians, tt.threshold, interfaces.SetupMetadata{})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, interfaces.KindValidation, interfaces.KindOf(err))
		})
	}

	_, err := engine.SetupSocialRecovery(ctx, "wallet-1", nil, testGuardians, 2, interfaces.SetupMetadata{})
	assert.ErrorIs(t, err, interfaces.ErrEmptySecret)

	// Nothing was written by the rejected setups.
	keys, err := store.Keys(ctx, "recovery/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestVerifyGuardianShare(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{})
	require.NoError(t, err)
	id := res.Setup.ID

	err = engine.VerifyGuardianShare(ctx, id, res.Shares[1].ID, []byte("wrong"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidShare)

	require.NoError(t, engine.VerifyGuardianShare(ctx, id, res.Shares[1].ID, res.Shares[1].ShareValue))

	setup, err := engine.GetRecoverySetup(ctx, id)
	require.NoError(t, err)
	assert.False(t, setup.Guardians[0].HasVerified)
	assert.True(t, setup.Guardians[1].HasVerified)

	share, err := engine.loadShare(ctx, id, res.Shares[1].ID)
	require.NoError(t, err)
	assert.True(t, share.IsVerified)
	assert.Equal(t, interfaces.StatusSetup, setup.Status)
}

func TestTimelockRecovery(t *testing.T) {
	ctx := context.Background()
	engine, _, mock := newTestEngine(t)

	setup, err := engine.SetupTimelockRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), 30, interfaces.SetupMetadata{})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusActive, setup.Status)
	require.NotNil(t, setup.ExpiresAt)
	assert.Equal(t, mock.Now().Add(30*24*time.Hour).UTC(), *setup.ExpiresAt)
	assert.Equal(t, 30, setup.Metadata.TimelockDurationDays)

	_, err = engine.CompleteTimelockRecovery(ctx, setup.ID)
	var tl *interfaces.TimelockNotExpiredError
	require.True(t, errors.As(err, &tl))
	assert.Equal(t, 30, tl.RemainingDays)
	assert.ErrorIs(t, err, interfaces.ErrTimelockNotExpired)
	assert.Equal(t, interfaces.KindGateNotSatisfied, interfaces.KindOf(err))

	mock.Add(29*24*time.Hour + time.Hour)
	_, err = engine.CompleteTimelockRecovery(ctx, setup.ID)
	require.True(t, errors.As(err, &tl))
	assert.Equal(t, 1, tl.RemainingDays)

	started, err := engine.StartRecovery(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.MethodTimelock, started.Method)

	mock.Add(23 * time.Hour)
	secret, err := engine.CompleteTimelockRecovery(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)

	_, err = engine.CompleteTimelockRecovery(ctx, setup.ID)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)

	_, err = engine.SubmitRecoveryShare(ctx, setup.ID, "share", []byte("x"))
	assert.ErrorIs(t, err, interfaces.ErrMethodMismatch)

	_, err = engine.SetupTimelockRecovery(ctx, "wallet-1", []byte("seed"), 0, interfaces.SetupMetadata{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidDuration)
}

func TestSealedSecretTamperingIsDetected(t *testing.T) {
	ctx := context.Background()
	engine, store, mock := newTestEngine(t)

	setup, err := engine.SetupTimelockRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), 1, interfaces.SetupMetadata{})
	require.NoError(t, err)

	sealed, err := engine.loadSealed(ctx, setup.ID)
	require.NoError(t, err)
	sealed.Ciphertext[len(sealed.Ciphertext)-1] ^= 0x01
	raw, err := json.Marshal(sealed)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, sealedPrefix+setup.ID, raw))

	mock.Add(48 * time.Hour)
	_, err = engine.CompleteTimelockRecovery(ctx, setup.ID)
	assert.ErrorIs(t, err, interfaces.ErrIntegrity)

	got, err := engine.GetRecoverySetup(ctx, setup.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CompletedAt)
}

func TestDeadmanRecovery(t *testing.T) {
	ctx := context.Background()
	engine, _, mock := newTestEngine(t)

	setup, err := engine.SetupDeadmanSwitch(ctx, "wallet-1", []byte("seed-phrase-abc"), 90, testGuardians[:1], interfaces.SetupMetadata{})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusActive, setup.Status)

	mock.Add(60 * 24 * time.Hour)
	require.NoError(t, engine.RecordActivity(ctx, "wallet-1"))

	mock.Add(60 * 24 * time.Hour)
	_, err = engine.CompleteDeadmanRecovery(ctx, setup.ID)
	var dm *interfaces.DeadmanNotTriggeredError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 30, dm.RemainingDays)

	mock.Add(30 * 24 * time.Hour)
	secret, err := engine.CompleteDeadmanRecovery(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)

	_, err = engine.SetupDeadmanSwitch(ctx, "wallet-1", []byte("seed"), 90, nil, interfaces.SetupMetadata{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidGuardians)
	_, err = engine.SetupDeadmanSwitch(ctx, "wallet-1", []byte("seed"), 0, testGuardians, interfaces.SetupMetadata{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidDuration)
}

func TestBackupRecovery(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	_, err := engine.SetupBackupRecovery(ctx, "wallet-1", []byte("seed"), "short", interfaces.SetupMetadata{})
	assert.ErrorIs(t, err, interfaces.ErrWeakPassword)

	setup, err := engine.SetupBackupRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), "backup-password", interfaces.SetupMetadata{})
	require.NoError(t, err)

	_, err = engine.CompleteBackupRecovery(ctx, setup.ID, "wrong-password")
	assert.ErrorIs(t, err, interfaces.ErrInvalidPassword)
	assert.Equal(t, 1, engine.Throttle().Attempts(setup.ID))

	secret, err := engine.CompleteBackupRecovery(ctx, setup.ID, "backup-password")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)
	assert.Equal(t, 0, engine.Throttle().Attempts(setup.ID))

	_, err = engine.CompleteBackupRecovery(ctx, setup.ID, "backup-password")
	assert.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)
}

func TestBackupPasswordGuessingIsThrottled(t *testing.T) {
	ctx := context.Background()
	engine, _, mock := newTestEngine(t)

	setup, err := engine.SetupBackupRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), "backup-password", interfaces.SetupMetadata{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := engine.CompleteBackupRecovery(ctx, setup.ID, "guess")
		require.ErrorIs(t, err, interfaces.ErrInvalidPassword)
	}
	_, err = engine.CompleteBackupRecovery(ctx, setup.ID, "backup-password")
	require.ErrorIs(t, err, interfaces.ErrRateLimited)

	mock.Add(30 * time.Minute)
	secret, err := engine.CompleteBackupRecovery(ctx, setup.ID, "backup-password")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)
}

func TestStartRecoveryThrottle(t *testing.T) {
	ctx := context.Background()
	engine, _, mock := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{})
	require.NoError(t, err)
	id := res.Setup.ID

	for i := 0; i < 5; i++ {
		_, err := engine.StartRecovery(ctx, id)
		require.NoError(t, err)
	}
	_, err = engine.StartRecovery(ctx, id)
	var rl *interfaces.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30, rl.RemainingMinutes)

	// Unknown ids are throttled too, before any lookup.
	for i := 0; i < 5; i++ {
		_, err := engine.StartRecovery(ctx, "missing")
		require.ErrorIs(t, err, interfaces.ErrRecoveryNotFound)
	}
	_, err = engine.StartRecovery(ctx, "missing")
	require.ErrorIs(t, err, interfaces.ErrRateLimited)

	mock.Add(30 * time.Minute)
	_, err = engine.StartRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Throttle().Attempts(id))
}

func TestCancelRecovery(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{})
	require.NoError(t, err)
	id := res.Setup.ID

	for i := 0; i < 5; i++ {
		_, err := engine.StartRecovery(ctx, id)
		require.NoError(t, err)
	}
	_, err = engine.SubmitRecoveryShare(ctx, id, res.Shares[0].ID, res.Shares[0].ShareValue)
	require.NoError(t, err)

	// Cancel works even while the id is at its attempt limit.
	require.NoError(t, engine.CancelRecovery(ctx, id))
	require.NoError(t, engine.CancelRecovery(ctx, id))

	_, err = engine.GetRecoverySetup(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrRecoveryNotFound)
	assert.Nil(t, engine.attempt(id))
	assert.Equal(t, 0, engine.Throttle().Attempts(id))

	keys, err := store.Keys(ctx, "recovery/")
	require.NoError(t, err)
	for _, key := range keys {
		assert.False(t, strings.Contains(key, id), key)
	}
}

func TestListRecoverySetups(t *testing.T) {
	ctx := context.Background()
	engine, _, mock := newTestEngine(t)

	first, err := engine.SetupTimelockRecovery(ctx, "wallet-1", []byte("a"), 10, interfaces.SetupMetadata{})
	require.NoError(t, err)
	mock.Add(time.Minute)
	second, err := engine.SetupBackupRecovery(ctx, "wallet-1", []byte("b"), "backup-password", interfaces.SetupMetadata{})
	require.NoError(t, err)
	mock.Add(time.Minute)
	_, err = engine.SetupTimelockRecovery(ctx, "wallet-2", []byte("c"), 10, interfaces.SetupMetadata{})
	require.NoError(t, err)

	setups, err := engine.ListRecoverySetups(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, setups, 2)
	assert.Equal(t, first.ID, setups[0].ID)
	assert.Equal(t, second.ID, setups[1].ID)

	all, err := engine.ListRecoverySetups(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRestartKeepsSubmittedShares(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{})
	require.NoError(t, err)
	id := res.Setup.ID

	_, err = engine.StartRecovery(ctx, id)
	require.NoError(t, err)
	sub, err := engine.SubmitRecoveryShare(ctx, id, res.Shares[0].ID, res.Shares[0].ShareValue)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.RemainingShares)

	started, err := engine.StartRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusActive, started.Status)

	sub, err = engine.SubmitRecoveryShare(ctx, id, res.Shares[2].ID, res.Shares[2].ShareValue)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.RemainingShares, "the first share survives the second start")
	assert.True(t, sub.RecoveryComplete)

	secret, err := engine.CompleteSocialRecovery(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)
}

func TestStartRecoveryAfterSupervisorFlip(t *testing.T) {
	ctx := context.Background()
	engine, _, clk := newTestEngine(t)
	sup, err := NewSupervisor(engine, nil, SupervisorConfig{}, testLogger())
	require.NoError(t, err)

	setup, err := engine.SetupTimelockRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), 1, interfaces.SetupMetadata{})
	require.NoError(t, err)

	clk.Add(24 * time.Hour)
	report, err := sup.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Recovered)

	_, err = engine.StartRecovery(ctx, setup.ID)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyCompleted)

	secret, err := engine.CompleteTimelockRecovery(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("seed-phrase-abc"), secret)
}

func TestSharesAcceptedAtAttemptLimit(t *testing.T) {
	ctx := context.Background()
	engine, _, clk := newTestEngine(t)

	res, err := engine.SetupSocialRecovery(ctx, "wallet-1", []byte("seed-phrase-abc"), testGuardians, 2, interfaces.SetupMetadata{})
	require.NoError(t, err)
	id := res.Setup.ID

	for i := 0; i < 5; i++ {
		_, err := engine.StartRecovery(ctx, id)
		require.NoError(t, err)
	}
	sub, err := engine.SubmitRecoveryShare(ctx, id, res.Shares[0].ID, res.Shares[0].ShareValue)
	require.NoError(t, err, "starts alone do not lock out guardians")
	assert.Equal(t, 1, sub.RemainingShares)

	// A refused sixth start locks submissions until the window passes.
	_, err = engine.StartRecovery(ctx, id)
	require.ErrorIs(t, err, interfaces.ErrRateLimited)
	_, err = engine.SubmitRecoveryShare(ctx, id, res.Shares[2].ID, res.Shares[2].ShareValue)
	assert.ErrorIs(t, err, interfaces.ErrRateLimited)

	clk.Add(30 * time.Minute)
	sub, err = engine.SubmitRecoveryShare(ctx, id, res.Shares[2].ID, res.Shares[2].ShareValue)
	require.NoError(t, err)
	assert.True(t, sub.RecoveryComplete)
}
