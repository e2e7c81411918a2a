// Package session implements the interactive login state machine (C7):
// anonymous -> password_verified -> password_change_required? ->
// totp_required? -> active, plus the lockout counter that password and TOTP
// failures share.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/config"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// State enumerates the login state machine's states.
type State string

const (
	StateAnonymous              State = "anonymous"
	StatePasswordVerified       State = "password_verified"
	StatePasswordChangeRequired State = "password_change_required"
	StateTOTPRequired           State = "totp_required"
	StateActive                 State = "active"
)

const sessionCookieName = "dnsproxy_session"

// Machine drives account login, lockout, and cookie issuance.
type Machine struct {
	st      store.Store
	secrets *secret.Engine
	cfg     *config.Config
}

// New builds a login Machine.
func New(st store.Store, secrets *secret.Engine, cfg *config.Config) *Machine {
	return &Machine{st: st, secrets: secrets, cfg: cfg}
}

// LoginResult carries the post-transition state for the handler layer to
// act on (issue cookie, demand password change, demand TOTP, or reject).
type LoginResult struct {
	State   State
	Session *store.Session
	Account *model.Account
}

// LockoutError is returned when the account is currently within its
// lockout window; RetryAfter tells the handler what to report.
type LockoutError struct{ RetryAfter time.Duration }

func (e *LockoutError) Error() string { return "account locked" }

// ErrBadCredentials is returned on a failed password, TOTP code, or
// recovery code — callers must not reveal which one failed (spec §7).
var ErrBadCredentials = &credentialError{}

type credentialError struct{}

func (e *credentialError) Error() string { return "invalid credentials" }

// VerifyPassword drives anonymous -> password_verified, applying the shared
// lockout counter on failure.
func (m *Machine) VerifyPassword(ctx context.Context, account *model.Account, password string, now time.Time) (LoginResult, error) {
	if account.LockedUntil != nil && now.Before(*account.LockedUntil) {
		return LoginResult{}, &LockoutError{RetryAfter: account.LockedUntil.Sub(now)}
	}
	if !m.secrets.VerifyPassword(password, account.PasswordHash) {
		if err := m.recordFailure(ctx, account, now); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, ErrBadCredentials
	}
	if err := m.st.RecordLoginSuccess(ctx, account.ID); err != nil {
		return LoginResult{}, err
	}

	if account.MustChangePassword {
		return LoginResult{State: StatePasswordChangeRequired, Account: account}, nil
	}
	if account.TOTPEnabled {
		return LoginResult{State: StateTOTPRequired, Account: account}, nil
	}
	return m.activate(ctx, account, now)
}

// VerifyTOTPOrRecovery drives totp_required -> active, accepting either a
// live TOTP code or a one-time recovery code (spec §5: "accepts TOTP or
// recovery code").
func (m *Machine) VerifyTOTPOrRecovery(ctx context.Context, account *model.Account, code string, now time.Time) (LoginResult, error) {
	if account.LockedUntil != nil && now.Before(*account.LockedUntil) {
		return LoginResult{}, &LockoutError{RetryAfter: account.LockedUntil.Sub(now)}
	}

	if secret.VerifyTOTP(account.TOTPSecret, code, now) {
		if err := m.st.RecordLoginSuccess(ctx, account.ID); err != nil {
			return LoginResult{}, err
		}
		return m.activate(ctx, account, now)
	}

	for i, hash := range account.RecoveryCodeHashes {
		if m.secrets.VerifyRecoveryCode(code, hash) {
			account.RecoveryCodeHashes = append(account.RecoveryCodeHashes[:i:i], account.RecoveryCodeHashes[i+1:]...)
			if err := m.st.UpdateAccount(ctx, account); err != nil {
				return LoginResult{}, err
			}
			if err := m.st.RecordLoginSuccess(ctx, account.ID); err != nil {
				return LoginResult{}, err
			}
			return m.activate(ctx, account, now)
		}
	}

	if err := m.recordFailure(ctx, account, now); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{}, ErrBadCredentials
}

// recordFailure increments the shared lockout counter and, once it reaches
// the configured threshold, locks the account for LOGIN_LOCKOUT_DURATION_SEC.
// The store has no rolling-window timestamp column, so the window is
// approximated by the monotonic counter resetting on every success rather
// than expiring after LOGIN_LOCKOUT_WINDOW_SEC of inactivity.
func (m *Machine) recordFailure(ctx context.Context, account *model.Account, now time.Time) error {
	var lockUntil *time.Time
	if account.FailedLoginCount+1 >= m.cfg.LoginLockoutFails {
		until := now.Add(time.Duration(m.cfg.LoginLockoutDurationSec) * time.Second)
		lockUntil = &until
	}
	return m.st.RecordLoginFailure(ctx, account.ID, lockUntil)
}

func (m *Machine) activate(ctx context.Context, account *model.Account, now time.Time) (LoginResult, error) {
	csrf, err := randomToken()
	if err != nil {
		return LoginResult{}, err
	}
	sessionID, err := secret.RandomSessionID()
	if err != nil {
		return LoginResult{}, err
	}
	sess := &store.Session{
		ID:           sessionID,
		AccountID:    account.ID,
		CreatedAt:    now,
		LastSeenAt:   now,
		CSRFToken:    csrf,
		TOTPVerified: account.TOTPEnabled,
	}
	if err := m.st.CreateSession(ctx, sess); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{State: StateActive, Session: sess, Account: account}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// SetCookie writes the session cookie with the flags required by spec §5:
// HttpOnly, SameSite=Lax, and Secure whenever the request chain indicates
// HTTPS (direct TLS or X-Forwarded-Proto: https).
func SetCookie(w http.ResponseWriter, r *http.Request, sess *store.Session, mode config.CookieSecureMode, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r, mode),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// ClearCookie expires the session cookie on logout.
func ClearCookie(w http.ResponseWriter, r *http.Request, mode config.CookieSecureMode) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r, mode),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func isHTTPS(r *http.Request, mode config.CookieSecureMode) bool {
	switch mode {
	case config.CookieSecureTrue:
		return true
	case config.CookieSecureFalse:
		return false
	default:
		if r.TLS != nil {
			return true
		}
		return r.Header.Get("X-Forwarded-Proto") == "https"
	}
}

// CookieFromRequest extracts the session ID from the request, if present.
func CookieFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	return c.Value, true
}
