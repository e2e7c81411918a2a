// Package apierr defines the error taxonomy shared by every layer of the
// proxy. Handlers never invent ad hoc strings; they map a Kind to an HTTP
// status and a stable reason string returned to the caller.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// Kind is a taxonomized error reason, stable across releases. Callers may
// match on it; never embed upstream error text in a Kind's message.
type Kind string

const (
	KindInvalidToken          Kind = "invalid_token"
	KindTokenExpired          Kind = "token_expired"
	KindAccountLocked         Kind = "account_locked"
	KindAccountDisabled       Kind = "account_disabled"
	KindPermissionDenied      Kind = "permission_denied"
	KindOperationNotAllowed   Kind = "operation_not_allowed"
	KindRecordTypeNotAllowed  Kind = "record_type_not_allowed"
	KindZoneNotInRealm        Kind = "zone_not_in_realm"
	KindOriginNotAllowed      Kind = "origin_not_allowed"
	KindRootPolicyRefused     Kind = "root_policy_refused"
	KindRealmNotFound         Kind = "realm_not_found"
	KindZoneNotFound          Kind = "zone_not_found"
	KindBackendUnavailable    Kind = "backend_unavailable"
	KindBackendRefused        Kind = "backend_refused"
	KindBackendProtocolError  Kind = "backend_protocol_error"
	KindBackendTimeout        Kind = "backend_timeout"
	KindRateLimited           Kind = "rate_limited"
	KindPayloadTooLarge       Kind = "payload_too_large"
	KindMalformedRequest      Kind = "malformed_request"
	KindConflict              Kind = "conflict"
	KindConfigInvalid         Kind = "config_invalid"
	KindStorageError          Kind = "storage_error"
	KindInternalError         Kind = "internal_error"
	KindNotFound              Kind = "not_found"
)

// httpStatus maps each Kind to the HTTP status named in spec §6/§7.
var httpStatus = map[Kind]int{
	KindInvalidToken:         http.StatusUnauthorized,
	KindTokenExpired:         http.StatusUnauthorized,
	KindAccountLocked:        http.StatusUnauthorized,
	KindAccountDisabled:      http.StatusUnauthorized,
	KindPermissionDenied:     http.StatusForbidden,
	KindOperationNotAllowed:  http.StatusForbidden,
	KindRecordTypeNotAllowed: http.StatusForbidden,
	KindZoneNotInRealm:       http.StatusForbidden,
	KindOriginNotAllowed:     http.StatusForbidden,
	KindRootPolicyRefused:    http.StatusForbidden,
	KindRealmNotFound:        http.StatusNotFound,
	KindZoneNotFound:         http.StatusNotFound,
	KindNotFound:             http.StatusNotFound,
	KindBackendUnavailable:   http.StatusServiceUnavailable,
	KindBackendRefused:       http.StatusBadGateway,
	KindBackendProtocolError: http.StatusBadGateway,
	KindBackendTimeout:       http.StatusRequestTimeout,
	KindRateLimited:          http.StatusTooManyRequests,
	KindPayloadTooLarge:      http.StatusRequestEntityTooLarge,
	KindMalformedRequest:     http.StatusBadRequest,
	KindConflict:             http.StatusConflict,
	KindConfigInvalid:        http.StatusBadRequest,
	KindStorageError:         http.StatusInternalServerError,
	KindInternalError:        http.StatusInternalServerError,
}

// Error is the concrete error type carrying a Kind plus optional detail
// text. Detail is only ever safe-to-expose text (never upstream messages,
// never secrets); see Propagation policy in spec §7.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this Kind maps to, defaulting to 500
// for unrecognized kinds (should not happen for values defined above).
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error with the given kind and detail text.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an Error carrying kind plus an underlying cause, for logging;
// the cause is never rendered to the caller.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for any error: *Error maps via its
// Kind, anything else is treated as an internal error.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// KindFor returns the Kind for any error, defaulting to internal_error.
func KindFor(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternalError
}

// StatusForKind returns the HTTP status a bare Kind maps to, defaulting to
// 500 for unrecognized kinds.
func StatusForKind(kind Kind) int {
	if s, ok := httpStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// OutcomeFor classifies a Kind into the audit Outcome recorded for a failed
// request (spec §3/§8): backend, storage, and internal failures are
// "error" (the proxy itself or its upstream misbehaved), as is a
// rate-limited request; everything else — authentication, permission,
// validation — is "denied".
func OutcomeFor(kind Kind) model.Outcome {
	switch kind {
	case KindBackendUnavailable, KindBackendRefused, KindBackendProtocolError, KindBackendTimeout,
		KindRateLimited, KindStorageError, KindInternalError:
		return model.OutcomeError
	default:
		return model.OutcomeDenied
	}
}
