package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
)

// Envelope is the response shape every DNS API action returns, bit-for-bit
// compatible with the upstream vendor API for client compatibility (spec
// §6): {"status": "success"|"error", "responsedata": ..., "message": ...}.
type Envelope struct {
	Status       string `json:"status"`
	ResponseData any    `json:"responsedata,omitempty"`
	Message      string `json:"message,omitempty"`
}

// JSON writes v as a JSON response with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Success writes the success envelope for the DNS API surface.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Status: "success", ResponseData: data})
}

// APIError writes the error envelope, mapping kind to its HTTP status per
// the taxonomy in apierr. A rate-limited response additionally carries the
// Retry-After header spec §6/§8 scenario 4 requires.
func APIError(w http.ResponseWriter, kind apierr.Kind, message string) {
	if kind == apierr.KindRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	JSON(w, apierr.StatusForKind(kind), Envelope{Status: "error", Message: message})
}

// ErrJSON writes a plain {"error": msg} response, used by the
// admin/account interactive surface (which is not vendor-API-compatible).
func ErrJSON(w http.ResponseWriter, code int, msg string) {
	JSON(w, code, map[string]string{"error": msg})
}

// DecodeJSON reads the request body as JSON into v, bounded by limit bytes.
// Returns an error if the body exceeds limit or is malformed.
func DecodeJSON(r *http.Request, limit int64, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, limit+1))
	return dec.Decode(v)
}
