package handler

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/authz"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/ratelimit"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

type tokenKeyType struct{}
type resolutionKeyType struct{}
type clientIPKeyType struct{}
type sessionKeyType struct{}

var (
	tokenKey      = tokenKeyType{}
	resolutionKey = resolutionKeyType{}
	clientIPKey   = clientIPKeyType{}
	sessionKey    = sessionKeyType{}
)

// TokenFromContext returns the authenticated API token, set by AuthenticateToken.
func TokenFromContext(ctx context.Context) *model.Token {
	t, _ := ctx.Value(tokenKey).(*model.Token)
	return t
}

// ResolutionFromContext returns the resolved realm/root/backend, set by ResolveRealm.
func ResolutionFromContext(ctx context.Context) *authz.Resolution {
	res, _ := ctx.Value(resolutionKey).(*authz.Resolution)
	return res
}

// ClientIP returns the source IP recorded for this request.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// SessionFromContext returns the interactive session, set by RequireSession.
func SessionFromContext(ctx context.Context) *store.Session {
	s, _ := ctx.Value(sessionKey).(*store.Session)
	return s
}

// auditReject persists an audit record for a request rejected by middleware
// before it ever reaches a handler's own audit write — rate limiting,
// authentication, and realm resolution all short-circuit the pipeline, and
// spec §8's audit-completeness invariant requires exactly one persisted
// record per request that passes the body-size check regardless of which
// step rejected it.
func auditReject(ctx context.Context, st store.Store, logger *zap.SugaredLogger, tok *model.Token, sourceIP, operation string, kind apierr.Kind) {
	rec := &model.AuditRecord{
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		Operation: operation,
		Outcome:   apierr.OutcomeFor(kind),
		ErrorKind: string(kind),
	}
	if tok != nil {
		rec.TokenPrefix = tok.TokenPrefix
	}
	if err := st.InsertAuditRecord(ctx, rec); err != nil {
		logger.Warnw("audit insert failed", "error", err, "operation", operation)
	}
}

// Wrap applies a chain of middleware in order, so Wrap(h, a, b, c) runs
// a -> b -> c -> h.
func Wrap(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recovery catches panics from any downstream handler and returns a 500
// instead of crashing the process.
func Recovery(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Errorw("panic recovered", "error", err, "stack", string(debug.Stack()))
					APIError(w, apierr.KindInternalError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPMiddleware records the request's source IP (stripping any port)
// into context for rate limiting, origin checks, and audit.
func ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if idx := strings.LastIndexByte(ip, ':'); idx >= 0 {
			ip = ip[:idx]
		}
		ip = strings.Trim(ip, "[]")
		ctx := context.WithValue(r.Context(), clientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit enforces the process-wide per-IP token buckets before any more
// expensive work (body decode, store lookups) happens. A rejected request
// still gets an audit record (spec §8 scenario 4: "only the 51st has audit
// outcome rate_limited") since it never reaches a handler's own audit write.
func RateLimit(st store.Store, limiter *ratelimit.Limiter, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r.Context())
			if !limiter.Allow(ip, time.Now()) {
				auditReject(r.Context(), st, logger, TokenFromContext(r.Context()), ip, "rate_limit", apierr.KindRateLimited)
				APIError(w, apierr.KindRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBody enforces MAX_BODY_BYTES before the body is read by any handler.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Deadline bounds the request's context lifetime to DEADLINE_MS_API.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthenticateToken extracts the API token from Authorization: Bearer,
// falling back to X-API-Token and then a query parameter (spec §4.6 step
// 1), looks it up by prefix, and verifies its secret, rejecting with a
// single invalid_token kind regardless of which sub-check failed (spec §7:
// no distinction between unknown prefix and wrong secret). The fallback
// paths are insecure transports for a credential, so each use writes a
// warning audit entry rather than failing the request.
func AuthenticateToken(st store.Store, secrets *secret.Engine, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r.Context())
			plaintext, insecure := extractToken(r)
			if plaintext == "" {
				auditReject(r.Context(), st, logger, nil, ip, "authenticate", apierr.KindInvalidToken)
				APIError(w, apierr.KindInvalidToken, "missing token")
				return
			}
			prefix, _, err := secret.SplitToken(plaintext)
			if err != nil {
				auditReject(r.Context(), st, logger, nil, ip, "authenticate", apierr.KindInvalidToken)
				APIError(w, apierr.KindInvalidToken, "invalid token")
				return
			}
			tok, err := st.GetTokenByPrefix(r.Context(), prefix)
			if err != nil {
				logger.Debugw("token lookup failed", "prefix", prefix)
				auditReject(r.Context(), st, logger, nil, ip, "authenticate", apierr.KindInvalidToken)
				APIError(w, apierr.KindInvalidToken, "invalid token")
				return
			}
			if !secrets.VerifyTokenHash(plaintext, tok.TokenHash) {
				auditReject(r.Context(), st, logger, nil, ip, "authenticate", apierr.KindInvalidToken)
				APIError(w, apierr.KindInvalidToken, "invalid token")
				return
			}
			if insecure {
				logger.Warnw("token presented over insecure transport path", "prefix", tok.TokenPrefix, "source_ip", ClientIP(r.Context()))
				rec := &model.AuditRecord{
					Timestamp:   time.Now(),
					TokenPrefix: tok.TokenPrefix,
					SourceIP:    ClientIP(r.Context()),
					Operation:   "token_insecure_transport",
					Outcome:     model.OutcomeSuccess,
					ErrorKind:   "insecure_token_transport",
				}
				if err := st.InsertAuditRecord(r.Context(), rec); err != nil {
					logger.Warnw("insecure-transport audit insert failed", "error", err)
				}
			}
			_ = st.TouchTokenLastUsed(r.Context(), tok.ID, time.Now())
			ctx := context.WithValue(r.Context(), tokenKey, tok)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken implements the fallback chain of spec §4.6 step 1:
// Authorization: Bearer, then X-API-Token, then the "api_token" query
// parameter. insecure is true for the latter two, which expose the
// credential to logs/proxies/browser history.
func extractToken(r *http.Request) (plaintext string, insecure bool) {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), false
	}
	if tok := r.Header.Get("X-API-Token"); tok != "" {
		return tok, true
	}
	if tok := r.URL.Query().Get("api_token"); tok != "" {
		return tok, true
	}
	return "", false
}

// ResolveRealm looks up the authenticated token's realm and resolves its
// backend service / domain root, stashing the Resolution in context for
// downstream authorization and dispatch.
func ResolveRealm(st store.Store, resolver *authz.Resolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r.Context())
			tok := TokenFromContext(r.Context())
			if tok == nil {
				APIError(w, apierr.KindInternalError, "authentication middleware not applied")
				return
			}
			realm, err := st.GetRealm(r.Context(), tok.RealmID)
			if err != nil {
				auditReject(r.Context(), st, logger, tok, ip, "resolve_realm", apierr.KindRealmNotFound)
				APIError(w, apierr.KindRealmNotFound, "realm not found")
				return
			}
			res, err := resolver.Resolve(r.Context(), realm)
			if err != nil {
				if apiErr, ok := apierr.As(err); ok {
					auditReject(r.Context(), st, logger, tok, ip, "resolve_realm", apiErr.Kind)
					APIError(w, apiErr.Kind, apiErr.Error())
					return
				}
				auditReject(r.Context(), st, logger, tok, ip, "resolve_realm", apierr.KindInternalError)
				APIError(w, apierr.KindInternalError, "resolution failed")
				return
			}
			ctx := context.WithValue(r.Context(), resolutionKey, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession looks up the session cookie, rejecting with 401 if absent
// or expired, and injects both the Session and its owning Account's id into
// context for downstream handlers and CSRF checking.
func RequireSession(st store.Store, cookieName func(*http.Request) (string, bool), idleTimeout, absoluteTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := cookieName(r)
			if !ok {
				ErrJSON(w, http.StatusUnauthorized, "no session")
				return
			}
			sess, err := st.GetSession(r.Context(), id)
			if err != nil {
				ErrJSON(w, http.StatusUnauthorized, "invalid session")
				return
			}
			now := time.Now()
			if now.Sub(sess.LastSeenAt) > idleTimeout || now.Sub(sess.CreatedAt) > absoluteTimeout {
				_ = st.DeleteSession(r.Context(), id)
				ErrJSON(w, http.StatusUnauthorized, "session expired")
				return
			}
			_ = st.TouchSession(r.Context(), id, now)
			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCSRF checks the X-CSRF-Token header against the session's stored
// token for any state-changing interactive request (spec §6: "All
// interactive writes require a CSRF token tied to the session").
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())
		if sess == nil {
			ErrJSON(w, http.StatusUnauthorized, "no session")
			return
		}
		presented := r.Header.Get("X-CSRF-Token")
		if presented == "" || !secret.ConstantTimeEqual(presented, sess.CSRFToken) {
			ErrJSON(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
