package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/wallet-recovery-vault/httpserver"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/recovery"
	"github.com/ruteri/wallet-recovery-vault/vault"
)

// APIError is a failed API call.
type APIError struct {
	StatusCode int
	Response   httpserver.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with code %d: %s", e.StatusCode, e.Response.Error)
}

// Unwrap maps the error code back onto the interfaces sentinel.
func (e *APIError) Unwrap() error {
	return sentinels[e.Response.Code]
}

var sentinels = func() map[string]error {
	m := make(map[string]error)
	for _, err := range []*interfaces.Error{
		interfaces.ErrWeakPassword, interfaces.ErrInvalidThreshold, interfaces.ErrInvalidGuardians,
		interfaces.ErrInvalidDuration, interfaces.ErrEmptySecret, interfaces.ErrInvalidArgument,
		interfaces.ErrExportNotAllowed, interfaces.ErrInvalidCredentials, interfaces.ErrInvalidPassword,
		interfaces.ErrInvalidShare, interfaces.ErrInvalidMFACode, interfaces.ErrNotInitialized,
		interfaces.ErrAlreadyInitialized, interfaces.ErrVaultLocked, interfaces.ErrMFAAlreadyEnabled,
		interfaces.ErrMFANotEnabled, interfaces.ErrAlreadyCompleted, interfaces.ErrNotActive,
		interfaces.ErrRecoveryNotStarted, interfaces.ErrDuplicateShare, interfaces.ErrForeignShare,
		interfaces.ErrMethodMismatch, interfaces.ErrInsufficientShares, interfaces.ErrKeyNotFound,
		interfaces.ErrRecoveryNotFound, interfaces.ErrTimelockNotExpired, interfaces.ErrDeadmanNotTriggered,
		interfaces.ErrIntegrity, interfaces.ErrInitialization, interfaces.ErrRateLimited,
	} {
		m[err.Code()] = err
	}
	return m
}()

// VaultClient talks to the control API.
type VaultClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewVaultClient creates a client for baseURL, e.g. "http://127.0.0.1:8080".
// The optional timeout defaults to 30 seconds.
func NewVaultClient(baseURL string, timeout ...time.Duration) *VaultClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &VaultClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

func (c *VaultClient) Initialize(ctx context.Context, password string, level interfaces.SecurityLevel) error {
	return c.do(ctx, http.MethodPost, "/api/vault/initialize", httpserver.InitializeRequest{Password: password, SecurityLevel: level}, nil)
}

func (c *VaultClient) Unlock(ctx context.Context, password, mfaCode string) error {
	return c.do(ctx, http.MethodPost, "/api/vault/unlock", httpserver.UnlockRequest{Password: password, MFACode: mfaCode}, nil)
}

func (c *VaultClient) Lock(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/vault/lock", nil, nil)
}

func (c *VaultClient) Status(ctx context.Context) (status interfaces.VaultStatus, err error) {
	err = c.do(ctx, http.MethodGet, "/api/vault/status", nil, &status)
	return status, err
}

func (c *VaultClient) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/api/vault/password", httpserver.ChangePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}, nil)
}

func (c *VaultClient) EnableMFA(ctx context.Context, password string) (enrollment vault.MFAEnrollment, err error) {
	err = c.do(ctx, http.MethodPost, "/api/vault/mfa/enable", httpserver.PasswordRequest{Password: password}, &enrollment)
	return enrollment, err
}

func (c *VaultClient) DisableMFA(ctx context.Context, password, code string) error {
	return c.do(ctx, http.MethodPost, "/api/vault/mfa/disable", httpserver.PasswordRequest{Password: password, Code: code}, nil)
}

func (c *VaultClient) ListKeys(ctx context.Context) (keys []interfaces.VaultEntry, err error) {
	err = c.do(ctx, http.MethodGet, "/api/vault/keys", nil, &keys)
	return keys, err
}

func (c *VaultClient) CreateKey(ctx context.Context, password string, req interfaces.NewKeyRequest) (entry interfaces.VaultEntry, err error) {
	err = c.do(ctx, http.MethodPost, "/api/vault/keys", httpserver.CreateKeyRequest{Password: password, NewKeyRequest: req}, &entry)
	return entry, err
}

// RevealKey decrypts a key. The caller owns the returned slice.
func (c *VaultClient) RevealKey(ctx context.Context, keyID, password string, purpose interfaces.AccessPurpose) ([]byte, error) {
	var resp httpserver.SecretResponse
	err := c.do(ctx, http.MethodPost, "/api/vault/keys/"+url.PathEscape(keyID)+"/reveal", httpserver.RevealKeyRequest{Password: password, Purpose: purpose}, &resp)
	return resp.Secret, err
}

func (c *VaultClient) DeleteKey(ctx context.Context, keyID, password string) error {
	return c.do(ctx, http.MethodDelete, "/api/vault/keys/"+url.PathEscape(keyID), httpserver.PasswordRequest{Password: password}, nil)
}

func (c *VaultClient) AuditLog(ctx context.Context, limit int) (entries []interfaces.AuditLogEntry, err error) {
	err = c.do(ctx, http.MethodGet, "/api/vault/audit?limit="+strconv.Itoa(limit), nil, &entries)
	return entries, err
}

func (c *VaultClient) VerifyAuditLog(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/vault/audit/verify", nil, nil)
}

func (c *VaultClient) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/vault/reset", httpserver.ResetRequest{Confirm: "RESET"}, nil)
}

func (c *VaultClient) SetupSocial(ctx context.Context, req httpserver.SocialSetupRequest) (res interfaces.SocialSetupResult, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/social", req, &res)
	return res, err
}

func (c *VaultClient) SetupTimelock(ctx context.Context, req httpserver.TimelockSetupRequest) (setup interfaces.RecoverySetup, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/timelock", req, &setup)
	return setup, err
}

func (c *VaultClient) SetupDeadman(ctx context.Context, req httpserver.DeadmanSetupRequest) (setup interfaces.RecoverySetup, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/deadman", req, &setup)
	return setup, err
}

func (c *VaultClient) SetupBackup(ctx context.Context, req httpserver.BackupSetupRequest) (setup interfaces.RecoverySetup, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/backup", req, &setup)
	return setup, err
}

func (c *VaultClient) ListRecoveries(ctx context.Context, walletID string) (setups []interfaces.RecoverySetup, err error) {
	path := "/api/recovery"
	if walletID != "" {
		path += "?wallet_id=" + url.QueryEscape(walletID)
	}
	err = c.do(ctx, http.MethodGet, path, nil, &setups)
	return setups, err
}

func (c *VaultClient) GetRecovery(ctx context.Context, recoveryID string) (setup interfaces.RecoverySetup, err error) {
	err = c.do(ctx, http.MethodGet, "/api/recovery/"+url.PathEscape(recoveryID), nil, &setup)
	return setup, err
}

func (c *VaultClient) StartRecovery(ctx context.Context, recoveryID string) (res interfaces.StartRecoveryResult, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/"+url.PathEscape(recoveryID)+"/start", nil, &res)
	return res, err
}

func (c *VaultClient) SubmitShare(ctx context.Context, recoveryID, shareID string, value []byte) (res interfaces.ShareSubmissionResult, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/"+url.PathEscape(recoveryID)+"/shares", httpserver.ShareRequest{ShareID: shareID, ShareValue: value}, &res)
	return res, err
}

func (c *VaultClient) VerifyShare(ctx context.Context, recoveryID, shareID string, value []byte) error {
	return c.do(ctx, http.MethodPost, "/api/recovery/"+url.PathEscape(recoveryID)+"/shares/verify", httpserver.ShareRequest{ShareID: shareID, ShareValue: value}, nil)
}

// CompleteRecovery releases the secret. password is only used by backups.
func (c *VaultClient) CompleteRecovery(ctx context.Context, recoveryID, password string) ([]byte, error) {
	var resp httpserver.SecretResponse
	err := c.do(ctx, http.MethodPost, "/api/recovery/"+url.PathEscape(recoveryID)+"/complete", httpserver.CompleteRequest{Password: password}, &resp)
	return resp.Secret, err
}

func (c *VaultClient) CancelRecovery(ctx context.Context, recoveryID string) error {
	return c.do(ctx, http.MethodDelete, "/api/recovery/"+url.PathEscape(recoveryID), nil, nil)
}

func (c *VaultClient) Sweep(ctx context.Context) (report recovery.SweepReport, err error) {
	err = c.do(ctx, http.MethodPost, "/api/recovery/sweep", nil, &report)
	return report, err
}

func (c *VaultClient) RecordActivity(ctx context.Context, walletID string) error {
	return c.do(ctx, http.MethodPost, "/api/wallets/"+url.PathEscape(walletID)+"/activity", nil, nil)
}

func (c *VaultClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(raw, &apiErr.Response); err != nil {
			apiErr.Response.Error = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
