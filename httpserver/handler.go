package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/wallet-recovery-vault/cryptoutils"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
	"github.com/ruteri/wallet-recovery-vault/recovery"
	"github.com/ruteri/wallet-recovery-vault/vault"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Vault is the vault surface served by the control API.
type Vault interface {
	Initialize(ctx context.Context, masterPassword string, level interfaces.SecurityLevel) error
	Unlock(ctx context.Context, masterPassword, mfaCode string) error
	Lock(ctx context.Context)
	GetStatus(ctx context.Context) (interfaces.VaultStatus, error)
	ChangeMasterPassword(ctx context.Context, oldPassword, newPassword string) error
	EnableMFA(ctx context.Context, password string) (vault.MFAEnrollment, error)
	DisableMFA(ctx context.Context, password, code string) error
	GetKey(ctx context.Context, keyID, password string, access interfaces.AccessContext) ([]byte, error)
	CreateKey(ctx context.Context, password string, req interfaces.NewKeyRequest) (interfaces.VaultEntry, error)
	DeleteKey(ctx context.Context, keyID, password string) error
	ListKeys(ctx context.Context) ([]interfaces.VaultEntry, error)
	GetAuditLog(ctx context.Context, limit int) ([]interfaces.AuditLogEntry, error)
	VerifyAuditLog(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Recovery is the recovery engine surface served by the control API.
type Recovery interface {
	SetupSocialRecovery(ctx context.Context, walletID string, secret []byte, guardians []interfaces.Guardian, threshold int, md interfaces.SetupMetadata) (interfaces.SocialSetupResult, error)
	SetupTimelockRecovery(ctx context.Context, walletID string, secret []byte, durationDays int, md interfaces.SetupMetadata) (interfaces.RecoverySetup, error)
	SetupDeadmanSwitch(ctx context.Context, walletID string, secret []byte, inactivityDays int, guardians []interfaces.Guardian, md interfaces.SetupMetadata) (interfaces.RecoverySetup, error)
	SetupBackupRecovery(ctx context.Context, walletID string, secret []byte, password string, md interfaces.SetupMetadata) (interfaces.RecoverySetup, error)
	StartRecovery(ctx context.Context, recoveryID string) (interfaces.StartRecoveryResult, error)
	SubmitRecoveryShare(ctx context.Context, recoveryID, shareID string, shareValue []byte) (interfaces.ShareSubmissionResult, error)
	VerifyGuardianShare(ctx context.Context, recoveryID, shareID string, shareValue []byte) error
	CompleteRecovery(ctx context.Context, recoveryID, password string) ([]byte, error)
	CancelRecovery(ctx context.Context, recoveryID string) error
	GetRecoverySetup(ctx context.Context, recoveryID string) (interfaces.RecoverySetup, error)
	ListRecoverySetups(ctx context.Context, walletID string) ([]interfaces.RecoverySetup, error)
	RecordActivity(ctx context.Context, walletID string) error
}

// Sweeper runs one supervisor pass on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (recovery.SweepReport, error)
}

var (
	_ Vault    = (*vault.SecureVault)(nil)
	_ Recovery = (*recovery.Engine)(nil)
	_ Sweeper  = (*recovery.Supervisor)(nil)
)

// Handler serves the vault and recovery control API. Secrets travel as
// base64 in JSON bodies and are wiped once the response is written.
type Handler struct {
	vault    Vault
	recovery Recovery
	sweeper  Sweeper
	log      *slog.Logger
}

// NewHandler creates a handler. sweeper may be nil, which disables the
// on-demand sweep endpoint.
func NewHandler(v Vault, r Recovery, sweeper Sweeper, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{vault: v, recovery: r, sweeper: sweeper, log: log}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/vault", func(r chi.Router) {
		r.Post("/initialize", h.HandleInitialize)
		r.Post("/unlock", h.HandleUnlock)
		r.Post("/lock", h.HandleLock)
		r.Get("/status", h.HandleStatus)
		r.Post("/password", h.HandleChangePassword)
		r.Post("/mfa/enable", h.HandleEnableMFA)
		r.Post("/mfa/disable", h.HandleDisableMFA)
		r.Get("/keys", h.HandleListKeys)
		r.Post("/keys", h.HandleCreateKey)
		r.Post("/keys/{key_id}/reveal", h.HandleRevealKey)
		r.Delete("/keys/{key_id}", h.HandleDeleteKey)
		r.Get("/audit", h.HandleAuditLog)
		r.Get("/audit/verify", h.HandleVerifyAuditLog)
		r.Post("/reset", h.HandleReset)
	})

	r.Route("/api/recovery", func(r chi.Router) {
		r.Get("/", h.HandleListRecoveries)
		r.Post("/social", h.HandleSetupSocial)
		r.Post("/timelock", h.HandleSetupTimelock)
		r.Post("/deadman", h.HandleSetupDeadman)
		r.Post("/backup", h.HandleSetupBackup)
		r.Post("/sweep", h.HandleSweep)
		r.Get("/{recovery_id}", h.HandleGetRecovery)
		r.Delete("/{recovery_id}", h.HandleCancelRecovery)
		r.Post("/{recovery_id}/start", h.HandleStartRecovery)
		r.Post("/{recovery_id}/shares", h.HandleSubmitShare)
		r.Post("/{recovery_id}/shares/verify", h.HandleVerifyShare)
		r.Post("/{recovery_id}/complete", h.HandleCompleteRecovery)
	})

	r.Post("/api/wallets/{wallet_id}/activity", h.HandleRecordActivity)
}

// Request bodies.

type InitializeRequest struct {
	Password      string                   `json:"password"`
	SecurityLevel interfaces.SecurityLevel `json:"securityLevel"`
}

type UnlockRequest struct {
	Password string `json:"password"`
	MFACode  string `json:"mfaCode,omitempty"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type PasswordRequest struct {
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

type CreateKeyRequest struct {
	Password string `json:"password"`
	interfaces.NewKeyRequest
}

type RevealKeyRequest struct {
	Password string                   `json:"password"`
	Purpose  interfaces.AccessPurpose `json:"purpose"`
}

type SecretResponse struct {
	Secret []byte `json:"secret"`
}

type ResetRequest struct {
	Confirm string `json:"confirm"`
}

type SocialSetupRequest struct {
	WalletID  string                   `json:"walletId"`
	Secret    []byte                   `json:"secret"`
	Guardians []interfaces.Guardian    `json:"guardians"`
	Threshold int                      `json:"threshold"`
	Metadata  interfaces.SetupMetadata `json:"metadata"`
}

type TimelockSetupRequest struct {
	WalletID     string                   `json:"walletId"`
	Secret       []byte                   `json:"secret"`
	DurationDays int                      `json:"durationDays"`
	Metadata     interfaces.SetupMetadata `json:"metadata"`
}

type DeadmanSetupRequest struct {
	WalletID       string                   `json:"walletId"`
	Secret         []byte                   `json:"secret"`
	InactivityDays int                      `json:"inactivityDays"`
	Guardians      []interfaces.Guardian    `json:"guardians"`
	Metadata       interfaces.SetupMetadata `json:"metadata"`
}

type BackupSetupRequest struct {
	WalletID string                   `json:"walletId"`
	Secret   []byte                   `json:"secret"`
	Password string                   `json:"password"`
	Metadata interfaces.SetupMetadata `json:"metadata"`
}

type ShareRequest struct {
	ShareID    string `json:"shareId"`
	ShareValue []byte `json:"shareValue"`
}

type CompleteRequest struct {
	Password string `json:"password,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// Vault handlers.

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vault.Initialize(r.Context(), req.Password, req.SecurityLevel); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StatusResponse{Status: "locked"})
}

func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vault.Unlock(r.Context(), req.Password, req.MFACode); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "unlocked"})
}

func (h *Handler) HandleLock(w http.ResponseWriter, r *http.Request) {
	h.vault.Lock(r.Context())
	writeJSON(w, http.StatusOK, StatusResponse{Status: "locked"})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.vault.GetStatus(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vault.ChangeMasterPassword(r.Context(), req.OldPassword, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "changed"})
}

func (h *Handler) HandleEnableMFA(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	enrollment, err := h.vault.EnableMFA(r.Context(), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (h *Handler) HandleDisableMFA(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vault.DisableMFA(r.Context(), req.Password, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "disabled"})
}

func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.vault.ListKeys(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.Secret)

	entry, err := h.vault.CreateKey(r.Context(), req.Password, req.NewKeyRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) HandleRevealKey(w http.ResponseWriter, r *http.Request) {
	var req RevealKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Purpose == "" {
		req.Purpose = interfaces.PurposeSign
	}

	secret, err := h.vault.GetKey(r.Context(), chi.URLParam(r, "key_id"), req.Password, interfaces.AccessContext{Purpose: req.Purpose})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer cryptoutils.Wipe(secret)
	writeJSON(w, http.StatusOK, SecretResponse{Secret: secret})
}

func (h *Handler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vault.DeleteKey(r.Context(), chi.URLParam(r, "key_id"), req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, fmt.Errorf("%w: invalid limit", interfaces.ErrInvalidArgument))
			return
		}
		limit = n
	}
	entries, err := h.vault.GetAuditLog(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleVerifyAuditLog(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.VerifyAuditLog(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "intact"})
}

// HandleReset wipes the vault. The body must confirm with {"confirm":"RESET"}.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Confirm != "RESET" {
		h.writeError(w, r, fmt.Errorf("%w: reset must be confirmed", interfaces.ErrInvalidArgument))
		return
	}
	if err := h.vault.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}

// Recovery handlers.

func (h *Handler) HandleSetupSocial(w http.ResponseWriter, r *http.Request) {
	var req SocialSetupRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.Secret)

	res, err := h.recovery.SetupSocialRecovery(r.Context(), req.WalletID, req.Secret, req.Guardians, req.Threshold, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
	for i := range res.Shares {
		cryptoutils.Wipe(res.Shares[i].ShareValue)
	}
}

func (h *Handler) HandleSetupTimelock(w http.ResponseWriter, r *http.Request) {
	var req TimelockSetupRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.Secret)

	setup, err := h.recovery.SetupTimelockRecovery(r.Context(), req.WalletID, req.Secret, req.DurationDays, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, setup)
}

func (h *Handler) HandleSetupDeadman(w http.ResponseWriter, r *http.Request) {
	var req DeadmanSetupRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.Secret)

	setup, err := h.recovery.SetupDeadmanSwitch(r.Context(), req.WalletID, req.Secret, req.InactivityDays, req.Guardians, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, setup)
}

func (h *Handler) HandleSetupBackup(w http.ResponseWriter, r *http.Request) {
	var req BackupSetupRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.Secret)

	setup, err := h.recovery.SetupBackupRecovery(r.Context(), req.WalletID, req.Secret, req.Password, req.Metadata)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, setup)
}

func (h *Handler) HandleListRecoveries(w http.ResponseWriter, r *http.Request) {
	setups, err := h.recovery.ListRecoverySetups(r.Context(), r.URL.Query().Get("wallet_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setups)
}

func (h *Handler) HandleGetRecovery(w http.ResponseWriter, r *http.Request) {
	setup, err := h.recovery.GetRecoverySetup(r.Context(), chi.URLParam(r, "recovery_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *Handler) HandleCancelRecovery(w http.ResponseWriter, r *http.Request) {
	if err := h.recovery.CancelRecovery(r.Context(), chi.URLParam(r, "recovery_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleStartRecovery(w http.ResponseWriter, r *http.Request) {
	res, err := h.recovery.StartRecovery(r.Context(), chi.URLParam(r, "recovery_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleSubmitShare(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.ShareValue)

	res, err := h.recovery.SubmitRecoveryShare(r.Context(), chi.URLParam(r, "recovery_id"), req.ShareID, req.ShareValue)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleVerifyShare(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if !h.decode(w, r, &req) {
		return
	}
	defer cryptoutils.Wipe(req.ShareValue)

	if err := h.recovery.VerifyGuardianShare(r.Context(), chi.URLParam(r, "recovery_id"), req.ShareID, req.ShareValue); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "verified"})
}

func (h *Handler) HandleCompleteRecovery(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	secret, err := h.recovery.CompleteRecovery(r.Context(), chi.URLParam(r, "recovery_id"), req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer cryptoutils.Wipe(secret)
	writeJSON(w, http.StatusOK, SecretResponse{Secret: secret})
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "supervisor disabled", Code: "not_found", Kind: string(interfaces.KindNotFound)})
		return
	}
	report, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleRecordActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.recovery.RecordActivity(r.Context(), chi.URLParam(r, "wallet_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into v and answers 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: malformed request body", interfaces.ErrInvalidArgument))
		return false
	}
	return true
}
