package clients

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/httpserver"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/recovery"
	"github.com/ruteri/wallet-recovery-vault/storage"
	"github.com/ruteri/wallet-recovery-vault/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*VaultClient, *clock.Mock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore(logger)
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))

	vcfg := vault.DefaultConfig()
	vcfg.KDF = &interfaces.KDFParams{Time: 1, Memory: 1024, Threads: 1}
	v := vault.New(store, vcfg, clk, logger)

	engine, err := recovery.New(store, nil, nil, recovery.Config{
		SealingKey: bytes.Repeat([]byte{3}, 32),
		BackupKDF:  &interfaces.KDFParams{Time: 1, Memory: 1024, Threads: 1},
	}, clk, logger)
	require.NoError(t, err)
	sup, err := recovery.NewSupervisor(engine, nil, recovery.SupervisorConfig{}, logger)
	require.NoError(t, err)

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{Log: logger}, httpserver.NewHandler(v, engine, sup, logger))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewVaultClient(ts.URL, 5*time.Second), clk
}

func TestVaultClientKeys(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()
	password := "correct horse battery"

	require.NoError(t, client.Initialize(ctx, password, interfaces.SecurityStandard))
	err := client.Initialize(ctx, password, interfaces.SecurityStandard)
	require.ErrorIs(t, err, interfaces.ErrAlreadyInitialized)

	_, err = client.ListKeys(ctx)
	require.ErrorIs(t, err, interfaces.ErrVaultLocked)

	require.ErrorIs(t, client.Unlock(ctx, "wrong password", ""), interfaces.ErrInvalidCredentials)
	require.NoError(t, client.Unlock(ctx, password, ""))

	entry, err := client.CreateKey(ctx, password, interfaces.NewKeyRequest{
		Name:       "main",
		Type:       interfaces.KeyTypePrivateKey,
		Blockchain: "ethereum",
		Secret:     []byte("top secret key material"),
		Policy:     interfaces.KeyPolicy{AllowExport: true},
	})
	require.NoError(t, err)
	assert.Empty(t, entry.Ciphertext)

	secret, err := client.RevealKey(ctx, entry.ID, password, interfaces.PurposeExport)
	require.NoError(t, err)
	assert.Equal(t, []byte("top secret key material"), secret)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Locked)
	assert.Equal(t, 1, status.KeyCount)

	require.NoError(t, client.DeleteKey(ctx, entry.ID, password))
	_, err = client.RevealKey(ctx, entry.ID, password, interfaces.PurposeSign)
	require.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	entries, err := client.AuditLog(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	require.NoError(t, client.VerifyAuditLog(ctx))

	require.NoError(t, client.Lock(ctx))
	status, err = client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestVaultClientTimelock(t *testing.T) {
	client, clk := newTestServer(t)
	ctx := context.Background()

	setup, err := client.SetupTimelock(ctx, httpserver.TimelockSetupRequest{
		WalletID:     "wallet-1",
		Secret:       []byte("seed words"),
		DurationDays: 3,
	})
	require.NoError(t, err)

	_, err = client.StartRecovery(ctx, setup.ID)
	require.NoError(t, err)

	_, err = client.CompleteRecovery(ctx, setup.ID, "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooEarly, apiErr.StatusCode)
	assert.Equal(t, 3, apiErr.Response.RemainingDays)
	assert.ErrorIs(t, err, interfaces.ErrTimelockNotExpired)

	clk.Add(3*24*time.Hour + time.Minute)
	secret, err := client.CompleteRecovery(ctx, setup.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed words"), secret)

	got, err := client.GetRecovery(ctx, setup.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRecovered, got.Status)

	list, err := client.ListRecoveries(ctx, "wallet-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = client.GetRecovery(ctx, "missing")
	require.ErrorIs(t, err, interfaces.ErrRecoveryNotFound)
}

func TestVaultClientSocial(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	res, err := client.SetupSocial(ctx, httpserver.SocialSetupRequest{
		WalletID: "wallet-2",
		Secret:   []byte("shared secret"),
		Guardians: []interfaces.Guardian{
			{Email: "a@example.com", Name: "A"},
			{Email: "b@example.com", Name: "B"},
			{Email: "c@example.com", Name: "C"},
		},
		Threshold: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Shares, 3)

	share := res.Shares[0]
	require.NoError(t, client.VerifyShare(ctx, res.Setup.ID, share.ID, share.ShareValue))

	started, err := client.StartRecovery(ctx, res.Setup.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, started.RequiredShares)

	progress, err := client.SubmitShare(ctx, res.Setup.ID, share.ID, share.ShareValue)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.RemainingShares)

	_, err = client.SubmitShare(ctx, res.Setup.ID, share.ID, share.ShareValue)
	require.ErrorIs(t, err, interfaces.ErrDuplicateShare)

	progress, err = client.SubmitShare(ctx, res.Setup.ID, res.Shares[2].ID, res.Shares[2].ShareValue)
	require.NoError(t, err)
	assert.True(t, progress.RecoveryComplete)

	secret, err := client.CompleteRecovery(ctx, res.Setup.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("shared secret"), secret)
}

func TestVaultClientActivityAndSweep(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	setup, err := client.SetupDeadman(ctx, httpserver.DeadmanSetupRequest{
		WalletID:       "wallet-3",
		Secret:         []byte("deadman secret"),
		InactivityDays: 30,
		Guardians:      []interfaces.Guardian{{Email: "heir@example.com", Name: "Heir"}},
	})
	require.NoError(t, err)
	require.NoError(t, client.RecordActivity(ctx, "wallet-3"))

	report, err := client.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Zero(t, report.Recovered)

	require.NoError(t, client.CancelRecovery(ctx, setup.ID))
}

func TestAPIErrorFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewVaultClient(ts.URL)
	err := client.Lock(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream gone", apiErr.Response.Error)
	assert.Nil(t, apiErr.Unwrap())
}
