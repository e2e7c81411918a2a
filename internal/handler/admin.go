// This file implements the admin/account interactive CRUD surface (spec
// §6): accounts, realms, tokens, backend services, domain roots, grants,
// and audit queries. Every handler here assumes RequireSession (+
// RequireCSRF on writes) has already run.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// AdminHandler serves the interactive CRUD surface.
type AdminHandler struct {
	store    store.Store
	secrets  *secret.Engine
	registry *backend.Registry
	logger   *zap.SugaredLogger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(st store.Store, secrets *secret.Engine, registry *backend.Registry, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{store: st, secrets: secrets, registry: registry, logger: logger}
}

func operatorFromSession(r *http.Request) string {
	if sess := SessionFromContext(r.Context()); sess != nil {
		return strconv.FormatInt(sess.AccountID, 10)
	}
	return ""
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// providerCode resolves a BackendProvider.ID to its provider_code, for
// looking up the matching schema/factory in the registry.
func (h *AdminHandler) providerCode(ctx context.Context, providerID int64) (string, error) {
	providers, err := h.store.ListProviders(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range providers {
		if p.ID == providerID {
			return p.ProviderCode, nil
		}
	}
	return "", fmt.Errorf("provider %d not found", providerID)
}

// encodeConfig re-serializes a decoded backend-service config back to a
// json.RawMessage for storage; schema validation against the provider's
// JSON Schema happens at backend-construction time (internal/backend),
// not here.
func encodeConfig(config map[string]any) (json.RawMessage, error) {
	return json.Marshal(config)
}

// -- Accounts --

type createAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	if errs := model.ValidateUsername(req.Username); len(errs) > 0 {
		ErrJSON(w, http.StatusBadRequest, model.ValidationErrors(errs).Error())
		return
	}
	hash, err := h.secrets.HashPassword(req.Password)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	account, err := h.store.CreateAccount(r.Context(), &model.Account{
		Username:           req.Username,
		Email:              req.Email,
		PasswordHash:       hash,
		IsAdmin:            req.IsAdmin,
		IsActive:           true,
		MustChangePassword: true,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	})
	if err != nil {
		if err == store.ErrConflict {
			ErrJSON(w, http.StatusConflict, "username already exists")
			return
		}
		ErrJSON(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	JSON(w, http.StatusCreated, account)
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid id")
		return
	}
	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		ErrJSON(w, http.StatusNotFound, "account not found")
		return
	}
	JSON(w, http.StatusOK, account)
}

func (h *AdminHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteAccount(r.Context(), id, operatorFromSession(r)); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to delete account")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Realms --

type createRealmRequest struct {
	AccountID     int64  `json:"account_id"`
	RealmValue    string `json:"realm_value"`
	DomainRootID  *int64 `json:"domain_root_id,omitempty"`
	UserBackendID *int64 `json:"user_backend_id,omitempty"`
	UserDomain    string `json:"user_domain,omitempty"`
}

func (h *AdminHandler) CreateRealm(w http.ResponseWriter, r *http.Request) {
	var req createRealmRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	realm, err := h.store.CreateRealm(r.Context(), &model.Realm{
		AccountID:     req.AccountID,
		RealmValue:    req.RealmValue,
		DomainRootID:  req.DomainRootID,
		UserBackendID: req.UserBackendID,
		UserDomain:    req.UserDomain,
		CreatedAt:     time.Now(),
	}, operatorFromSession(r))
	if err != nil {
		if err == store.ErrConflict {
			ErrJSON(w, http.StatusConflict, "realm already claimed")
			return
		}
		ErrJSON(w, http.StatusInternalServerError, "failed to create realm")
		return
	}
	JSON(w, http.StatusCreated, realm)
}

func (h *AdminHandler) ListRealms(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathInt64(r, "accountID")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid account id")
		return
	}
	realms, err := h.store.ListRealmsForAccount(r.Context(), accountID)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list realms")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"realms": realms})
}

func (h *AdminHandler) DeleteRealm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteRealm(r.Context(), id, operatorFromSession(r)); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to delete realm")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Tokens --

type createTokenRequest struct {
	RealmID        int64    `json:"realm_id"`
	RecordTypes    []string `json:"record_types,omitempty"`
	Operations     []string `json:"operations,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	EmailOnUse     bool     `json:"email_on_use"`
}

type createTokenResponse struct {
	Token     *model.Token `json:"token"`
	Plaintext string       `json:"plaintext"`
}

// CreateToken issues a new API token, returning its plaintext exactly once.
func (h *AdminHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	if errs := model.ValidateOperations("operations", req.Operations); len(errs) > 0 {
		ErrJSON(w, http.StatusBadRequest, model.ValidationErrors(errs).Error())
		return
	}
	generated, err := h.secrets.GenerateToken()
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	tok, err := h.store.CreateToken(r.Context(), &model.Token{
		TokenPrefix:    generated.Prefix,
		TokenHash:      generated.Hash,
		RealmID:        req.RealmID,
		RecordTypes:    req.RecordTypes,
		Operations:     req.Operations,
		AllowedOrigins: req.AllowedOrigins,
		IsActive:       true,
		EmailOnUse:     req.EmailOnUse,
		CreatedAt:      time.Now(),
	}, operatorFromSession(r))
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	JSON(w, http.StatusCreated, createTokenResponse{Token: tok, Plaintext: generated.Plaintext})
}

func (h *AdminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	realmID, ok := pathInt64(r, "realmID")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid realm id")
		return
	}
	tokens, err := h.store.ListTokensForRealm(r.Context(), realmID)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteToken(r.Context(), id, operatorFromSession(r)); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Backend services --

type createBackendServiceRequest struct {
	ProviderID        int64              `json:"provider_id"`
	ServiceName       string             `json:"service_name"`
	OwnerType         model.OwnerType    `json:"owner_type"`
	OwnerID           *int64             `json:"owner_id,omitempty"`
	Config            map[string]any     `json:"config"`
	IsDefaultForOwner bool               `json:"is_default_for_owner"`
}

func (h *AdminHandler) CreateBackendService(w http.ResponseWriter, r *http.Request) {
	var req createBackendServiceRequest
	if err := DecodeJSON(r, 1<<16, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	configBytes, err := encodeConfig(req.Config)
	if err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed config")
		return
	}
	providerCode, err := h.providerCode(r.Context(), req.ProviderID)
	if err != nil {
		ErrJSON(w, http.StatusBadRequest, "unknown provider")
		return
	}
	// Fail fast on an invalid config (spec §4.3) rather than persisting a
	// BackendService that can never construct a working backend instance.
	if _, err := h.registry.Build(providerCode, configBytes); err != nil {
		ErrJSON(w, http.StatusBadRequest, fmt.Sprintf("config_invalid: %v", err))
		return
	}
	svc, err := h.store.CreateBackendService(r.Context(), &model.BackendService{
		ProviderID:        req.ProviderID,
		ServiceName:       req.ServiceName,
		OwnerType:         req.OwnerType,
		OwnerID:           req.OwnerID,
		Config:            configBytes,
		IsActive:          true,
		IsDefaultForOwner: req.IsDefaultForOwner,
		CreatedAt:         time.Now(),
	}, operatorFromSession(r))
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to create backend service")
		return
	}
	JSON(w, http.StatusCreated, svc)
}

func (h *AdminHandler) ListBackendServices(w http.ResponseWriter, r *http.Request) {
	ownerType := model.OwnerType(r.URL.Query().Get("owner_type"))
	var ownerID *int64
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ownerID = &n
		}
	}
	services, err := h.store.ListBackendServices(r.Context(), ownerType, ownerID)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list backend services")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"backend_services": services})
}

func (h *AdminHandler) DeleteBackendService(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.DeleteBackendService(r.Context(), id, operatorFromSession(r)); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to delete backend service")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Domain roots --

type createDomainRootRequest struct {
	BackendServiceID   int64            `json:"backend_service_id"`
	RootDomain         string           `json:"root_domain"`
	DNSZone            string           `json:"dns_zone"`
	Visibility         model.Visibility `json:"visibility"`
	AllowApexAccess    bool             `json:"allow_apex_access"`
	MinSubdomainDepth  int              `json:"min_subdomain_depth"`
	MaxSubdomainDepth  int              `json:"max_subdomain_depth"`
	AllowedRecordTypes []string         `json:"allowed_record_types"`
	AllowedOperations  []string         `json:"allowed_operations"`
}

func (h *AdminHandler) CreateDomainRoot(w http.ResponseWriter, r *http.Request) {
	var req createDomainRootRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	if err := model.ValidateFQDN(req.RootDomain); err != nil {
		ErrJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	root, err := h.store.CreateDomainRoot(r.Context(), &model.ManagedDomainRoot{
		BackendServiceID:   req.BackendServiceID,
		RootDomain:         req.RootDomain,
		DNSZone:            req.DNSZone,
		Visibility:         req.Visibility,
		AllowApexAccess:    req.AllowApexAccess,
		MinSubdomainDepth:  req.MinSubdomainDepth,
		MaxSubdomainDepth:  req.MaxSubdomainDepth,
		AllowedRecordTypes: req.AllowedRecordTypes,
		AllowedOperations:  req.AllowedOperations,
		IsActive:           true,
		CreatedAt:          time.Now(),
	}, operatorFromSession(r))
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to create domain root")
		return
	}
	JSON(w, http.StatusCreated, root)
}

func (h *AdminHandler) ListDomainRoots(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathInt64(r, "accountID")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid account id")
		return
	}
	roots, err := h.store.ListDomainRootsVisible(r.Context(), accountID)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list domain roots")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"domain_roots": roots})
}

// -- Grants --

type createGrantRequest struct {
	DomainRootID int64           `json:"domain_root_id"`
	AccountID    int64           `json:"account_id"`
	GrantType    model.GrantType `json:"grant_type"`
}

func (h *AdminHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := DecodeJSON(r, 8192, &req); err != nil {
		ErrJSON(w, http.StatusBadRequest, "malformed request")
		return
	}
	grantedBy := int64(0)
	if sess := SessionFromContext(r.Context()); sess != nil {
		grantedBy = sess.AccountID
	}
	grant, err := h.store.CreateGrant(r.Context(), &model.DomainRootGrant{
		DomainRootID: req.DomainRootID,
		AccountID:    req.AccountID,
		GrantType:    req.GrantType,
		GrantedBy:    grantedBy,
		CreatedAt:    time.Now(),
	}, operatorFromSession(r))
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to create grant")
		return
	}
	JSON(w, http.StatusCreated, grant)
}

func (h *AdminHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathInt64(r, "accountID")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid account id")
		return
	}
	grants, err := h.store.ListGrantsForAccount(r.Context(), accountID)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list grants")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

func (h *AdminHandler) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		ErrJSON(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.store.RevokeGrant(r.Context(), id, operatorFromSession(r)); err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to revoke grant")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -- Audit --

func (h *AdminHandler) ListAuditRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{
		TokenPrefix: q.Get("token_prefix"),
		Outcome:     model.Outcome(q.Get("outcome")),
		Limit:       100,
	}
	if raw := q.Get("account_id"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.AccountID = &n
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	records, err := h.store.ListAuditRecords(r.Context(), filter)
	if err != nil {
		ErrJSON(w, http.StatusInternalServerError, "failed to list audit records")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"audit_records": records})
}
