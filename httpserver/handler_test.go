package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/recovery"
	"github.com/ruteri/wallet-recovery-vault/storage"
	"github.com/ruteri/wallet-recovery-vault/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "longenoughpw"

type testEnv struct {
	server *Server
	clock  *clock.Mock
}

func newTestEnv(t *testing.T, cfg *HTTPServerConfig) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore(logger)
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))

	vcfg := vault.DefaultConfig()
	vcfg.KDF = &interfaces.KDFParams{Time: 1, Memory: 1024, Threads: 1}
	v := vault.New(store, vcfg, clk, logger)

	engine, err := recovery.New(store, nil, nil, recovery.Config{
		SealingKey: bytes.Repeat([]byte{7}, 32),
		BackupKDF:  &interfaces.KDFParams{Time: 1, Memory: 1024, Threads: 1},
	}, clk, logger)
	require.NoError(t, err)
	sup, err := recovery.NewSupervisor(engine, nil, recovery.SupervisorConfig{}, logger)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &HTTPServerConfig{}
	}
	cfg.Log = logger
	srv, err := New(cfg, NewHandler(v, engine, sup, logger))
	require.NoError(t, err)
	return &testEnv{server: srv, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestVaultAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/vault/initialize", InitializeRequest{Password: "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "weak_password", decodeBody[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/vault/initialize", InitializeRequest{Password: testPassword, SecurityLevel: interfaces.SecurityStandard})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/vault/keys", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/vault/unlock", UnlockRequest{Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", decodeBody[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/vault/unlock", UnlockRequest{Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/vault/keys", CreateKeyRequest{
		Password: testPassword,
		NewKeyRequest: interfaces.NewKeyRequest{
			Name:   "main",
			Type:   interfaces.KeyTypeSeedPhrase,
			Secret: []byte("seed-phrase-abc"),
			Policy: interfaces.KeyPolicy{AllowExport: true},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	entry := decodeBody[interfaces.VaultEntry](t, w)
	assert.Empty(t, entry.Ciphertext)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/vault/keys/%s/reveal", entry.ID), RevealKeyRequest{Password: testPassword, Purpose: interfaces.PurposeExport})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []byte("seed-phrase-abc"), decodeBody[SecretResponse](t, w).Secret)

	w = env.do(t, http.MethodGet, "/api/vault/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeBody[interfaces.VaultStatus](t, w)
	assert.True(t, status.Initialized)
	assert.False(t, status.Locked)
	assert.Equal(t, 1, status.KeyCount)

	w = env.do(t, http.MethodGet, "/api/vault/audit?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	audit := decodeBody[[]interfaces.AuditLogEntry](t, w)
	require.Len(t, audit, 2)
	assert.Equal(t, interfaces.AuditLoadKey, audit[0].Action)

	w = env.do(t, http.MethodGet, "/api/vault/audit/verify", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/vault/keys/"+entry.ID, PasswordRequest{Password: testPassword})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, "/api/vault/reset", ResetRequest{Confirm: "yes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/vault/lock", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/vault/unlock", bytes.NewReader([]byte(`{"password":`)))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/vault/unlock", map[string]string{"pasword": testPassword})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSocialRecoveryAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/recovery/social", SocialSetupRequest{
		WalletID: "wallet-1",
		Secret:   []byte("seed-phrase-abc"),
		Guardians: []interfaces.Guardian{
			{Email: "a@example.com", Name: "A"},
			{Email: "b@example.com", Name: "B"},
			{Email: "c@example.com", Name: "C"},
		},
		Threshold: 2,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decodeBody[interfaces.SocialSetupResult](t, w)
	id := res.Setup.ID

	w = env.do(t, http.MethodPost, "/api/recovery/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decodeBody[interfaces.StartRecoveryResult](t, w).RequiredShares)

	for _, i := range []int{0, 2} {
		w = env.do(t, http.MethodPost, "/api/recovery/"+id+"/shares", ShareRequest{ShareID: res.Shares[i].ID, ShareValue: res.Shares[i].ShareValue})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/recovery/"+id+"/shares", ShareRequest{ShareID: res.Shares[0].ID, ShareValue: res.Shares[0].ShareValue})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_share", decodeBody[ErrorResponse](t, w).Code)

	w = env.do(t, http.MethodPost, "/api/recovery/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []byte("seed-phrase-abc"), decodeBody[SecretResponse](t, w).Secret)

	w = env.do(t, http.MethodGet, "/api/recovery?wallet_id=wallet-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]interfaces.RecoverySetup](t, w), 1)

	w = env.do(t, http.MethodDelete, "/api/recovery/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/recovery/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimelockGateAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/recovery/timelock", TimelockSetupRequest{
		WalletID:     "wallet-1",
		Secret:       []byte("seed-phrase-abc"),
		DurationDays: 30,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	setup := decodeBody[interfaces.RecoverySetup](t, w)

	w = env.do(t, http.MethodPost, "/api/recovery/"+setup.ID+"/complete", nil)
	assert.Equal(t, http.StatusTooEarly, w.Code)
	resp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "timelock_not_expired", resp.Code)
	assert.Equal(t, 30, resp.RemainingDays)

	env.clock.Add(30 * 24 * time.Hour)
	w = env.do(t, http.MethodPost, "/api/recovery/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[recovery.SweepReport](t, w).Recovered)

	w = env.do(t, http.MethodPost, "/api/recovery/"+setup.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []byte("seed-phrase-abc"), decodeBody[SecretResponse](t, w).Secret)
}

func TestBackupAndThrottleAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/recovery/backup", BackupSetupRequest{
		WalletID: "wallet-1",
		Secret:   []byte("seed-phrase-abc"),
		Password: "backup-password",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	setup := decodeBody[interfaces.RecoverySetup](t, w)

	w = env.do(t, http.MethodPost, "/api/recovery/"+setup.ID+"/complete", CompleteRequest{Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The failed password counts, so four starts reach the limit.
	for i := 0; i < 4; i++ {
		w = env.do(t, http.MethodPost, "/api/recovery/"+setup.ID+"/start", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/api/recovery/"+setup.ID+"/start", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeBody[ErrorResponse](t, w).Code)

	// The lockout also covers password attempts.
	w = env.do(t, http.MethodPost, "/api/recovery/"+setup.ID+"/complete", CompleteRequest{Password: "backup-password"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Cancel is never throttled.
	w = env.do(t, http.MethodDelete, "/api/recovery/"+setup.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestActivityAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/wallets/wallet-1/activity", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, &HTTPServerConfig{DrainDuration: time.Millisecond})

	w := env.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/drain", nil)
	assert.Equal(t, "draining", decodeBody[StatusResponse](t, w).Status)
	w = env.do(t, http.MethodGet, "/drain", nil)
	assert.Equal(t, "already draining", decodeBody[StatusResponse](t, w).Status)

	w = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodGet, "/undrain", nil)
	assert.Equal(t, "ready", decodeBody[StatusResponse](t, w).Status)
	w = env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type downStore struct {
	*storage.MemoryStore
}

func (downStore) Available(context.Context) bool { return false }

func TestReadinessProbesStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := newTestEnv(t, &HTTPServerConfig{Store: downStore{storage.NewMemoryStore(logger)}})

	w := env.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "store unavailable", decodeBody[StatusResponse](t, w).Status)

	w = env.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientRateLimit(t *testing.T) {
	env := newTestEnv(t, &HTTPServerConfig{RateLimit: 1, RateBurst: 2})

	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodGet, "/api/vault/status", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/vault/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "client_rate_limited", decodeBody[ErrorResponse](t, w).Code)

	// Health checks bypass the limiter.
	w = env.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{interfaces.ErrInvalidThreshold, http.StatusBadRequest},
		{interfaces.ErrInvalidShare, http.StatusUnauthorized},
		{interfaces.ErrNotActive, http.StatusConflict},
		{interfaces.ErrRecoveryNotFound, http.StatusNotFound},
		{&interfaces.DeadmanNotTriggeredError{RemainingDays: 3}, http.StatusTooEarly},
		{&interfaces.RateLimitedError{RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{interfaces.ErrIntegrity, http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
