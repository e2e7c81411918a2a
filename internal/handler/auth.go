// This file implements the interactive login/logout/password-change/
// 2FA-enrollment/recovery endpoints consumed by the external UI (spec §5,
// §6), driving internal/session's state machine.
package handler

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/config"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/session"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// AuthHandler serves the login state machine's HTTP surface.
type AuthHandler struct {
	store   store.Store
	secrets *secret.Engine
	machine *session.Machine
	cfg     *config.Config
	logger  *zap.SugaredLogger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(st store.Store, secrets *secret.Engine, machine *session.Machine, cfg *config.Config, logger *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{store: st, secrets: secrets, machine: machine, cfg: cfg, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	State string `json:"state"`
	CSRF  string `json:"csrf_token,omitempty"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	account, err := h.store.GetAccountByUsername(r.Context(), req.Username)
	if err != nil || !account.IsActive {
		ErrJSON(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	result, err := h.machine.VerifyPassword(r.Context(), account, req.Password, time.Now())
	if err != nil {
		h.writeLoginError(w, err)
		return
	}
	h.writeLoginResult(w, r, result)
}

type totpRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

// VerifyTOTP handles POST /auth/totp/verify, the second factor after a
// password_verified -> totp_required transition.
func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	account, err := h.store.GetAccountByUsername(r.Context(), req.Username)
	if err != nil {
		ErrJSON(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	result, err := h.machine.VerifyTOTPOrRecovery(r.Context(), account, req.Code, time.Now())
	if err != nil {
		h.writeLoginError(w, err)
		return
	}
	h.writeLoginResult(w, r, result)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var lockoutErr *session.LockoutError
	if errors.As(err, &lockoutErr) {
		ErrJSON(w, http.StatusUnauthorized, "account locked")
		return
	}
	ErrJSON(w, http.StatusUnauthorized, "invalid credentials")
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, r *http.Request, result session.LoginResult) {
	if result.State == session.StateActive {
		session.SetCookie(w, r, result.Session, h.cfg.CookieSecure, time.Duration(h.cfg.SessionAbsoluteSeconds)*time.Second)
		JSON(w, http.StatusOK, loginResponse{State: string(result.State), CSRF: result.Session.CSRFToken})
		return
	}
	JSON(w, http.StatusOK, loginResponse{State: string(result.State)})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, ok := session.CookieFromRequest(r); ok {
		_ = h.store.DeleteSession(r.Context(), id)
	}
	session.ClearCookie(w, r, h.cfg.CookieSecure)
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword handles POST /auth/change-password. Requires an
// active session (RequireSession + RequireCSRF applied by the router).
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		ErrJSON(w, http.StatusUnauthorized, "no session")
		return
	}
	account, err := h.store.GetAccount(r.Context(), sess.AccountID)
	if err != nil {
		ErrJSON(w, http.StatusUnauthorized, "account not found")
		return
	}
	var req changePasswordRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !h.secrets.VerifyPassword(req.OldPassword, account.PasswordHash) {
		ErrJSON(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	hash, err := h.secrets.HashPassword(req.NewPassword)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	account.PasswordHash = hash
	account.MustChangePassword = false
	if err := h.store.UpdateAccount(r.Context(), account); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EnrollTOTP handles POST /auth/totp/enroll: generates a new secret and
// returns its otpauth:// URI for QR-code display. The secret is not
// persisted until ConfirmTOTP verifies one live code, preventing a user
// from locking themselves out with a mistyped secret.
func (h *AuthHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		ErrJSON(w, http.StatusUnauthorized, "no session")
		return
	}
	account, err := h.store.GetAccount(r.Context(), sess.AccountID)
	if err != nil {
		ErrJSON(w, http.StatusUnauthorized, "account not found")
		return
	}
	totpSecret, otpauthURL, err := secret.GenerateTOTPSecret("dnsproxy", account.Username)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to generate totp secret")
		return
	}
	pending.store(account.ID, totpSecret)
	JSON(w, http.StatusOK, map[string]string{"secret": totpSecret, "otpauth_url": otpauthURL})
}

type confirmTOTPRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP handles POST /auth/totp/confirm: verifies one live code
// against the pending secret from EnrollTOTP, then persists it and issues
// recovery codes exactly once.
func (h *AuthHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		ErrJSON(w, http.StatusUnauthorized, "no session")
		return
	}
	account, err := h.store.GetAccount(r.Context(), sess.AccountID)
	if err != nil {
		ErrJSON(w, http.StatusUnauthorized, "account not found")
		return
	}
	pendingSecret, ok := pending.load(account.ID)
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "no pending totp enrollment")
		return
	}
	var req confirmTOTPRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !secret.VerifyTOTP(pendingSecret, req.Code, time.Now()) {
		ErrJSON(w, http.StatusUnauthorized, "invalid code")
		return
	}
	codes, err := h.secrets.GenerateRecoveryCodes(10)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to generate recovery codes")
		return
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hash, err := h.secrets.HashRecoveryCode(c)
		if err != nil {
			ErrJSON(w, http.StatusInternalServerError, "failed to hash recovery codes")
			return
		}
		hashes[i] = hash
	}
	account.TOTPSecret = pendingSecret
	account.TOTPEnabled = true
	account.RecoveryCodeHashes = hashes
	if err := h.store.UpdateAccount(r.Context(), account); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	pending.delete(account.ID)
	JSON(w, http.StatusOK, map[string]any{"recovery_codes": codes})
}

// pendingTOTPStore holds unconfirmed TOTP secrets between EnrollTOTP and
// ConfirmTOTP, keyed by account ID. It is intentionally process-local and
// unpersisted: an enrollment abandoned mid-flow needs no cleanup beyond
// process restart.
type pendingTOTPStore struct {
	mu sync.Mutex
	m  map[int64]string
}

func (p *pendingTOTPStore) store(accountID int64, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[accountID] = secret
}

func (p *pendingTOTPStore) load(accountID int64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[accountID]
	return v, ok
}

func (p *pendingTOTPStore) delete(accountID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, accountID)
}

var pending = &pendingTOTPStore{m: make(map[int64]string)}
