// This file implements the DNS API surface (spec §6): the single POST /api
// endpoint dispatching on an "action" field to infoDnsZone, infoDnsRecords,
// and updateDnsRecords, preserving the upstream vendor's wire shape
// bit-for-bit for client compatibility.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/authz"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// DNSHandler serves the vendor-compatible /api surface.
type DNSHandler struct {
	store      store.Store
	registry   *backend.Registry
	engine     *authz.Engine
	logger     *zap.SugaredLogger
	maxRecords int
}

// NewDNSHandler builds a DNSHandler.
func NewDNSHandler(st store.Store, registry *backend.Registry, engine *authz.Engine, logger *zap.SugaredLogger, maxRecords int) *DNSHandler {
	return &DNSHandler{store: st, registry: registry, engine: engine, logger: logger, maxRecords: maxRecords}
}

type apiRequest struct {
	Action string          `json:"action"`
	Param  rawParam        `json:"param"`
}

// rawParam is decoded lazily per-action since each action's param shape
// differs.
type rawParam = map[string]any

// ServeHTTP is the single entry point for POST /api.
func (h *DNSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	if err := DecodeJSON(r, 1<<20, &req); err != nil {
		APIError(w, apierr.KindMalformedRequest, "malformed request body")
		return
	}

	start := time.Now()
	tok := TokenFromContext(r.Context())
	res := ResolutionFromContext(r.Context())
	sourceIP := ClientIP(r.Context())

	outcome := model.OutcomeSuccess
	var errKind apierr.Kind
	var domain string

	switch req.Action {
	case "infoDnsZone":
		domain, errKind = h.infoDnsZone(w, r.Context(), tok, res, req.Param)
	case "infoDnsRecords":
		domain, errKind = h.infoDnsRecords(w, r.Context(), tok, res, req.Param)
	case "updateDnsRecords":
		domain, errKind = h.updateDnsRecords(w, r.Context(), tok, res, req.Param)
	default:
		errKind = apierr.KindMalformedRequest
		APIError(w, errKind, fmt.Sprintf("unknown action %q", req.Action))
	}

	if errKind != "" {
		outcome = apierr.OutcomeFor(errKind)
	}

	h.audit(r.Context(), tok, sourceIP, req.Action, domain, outcome, errKind, time.Since(start))
}

func (h *DNSHandler) audit(ctx context.Context, tok *model.Token, sourceIP, operation, domain string, outcome model.Outcome, errKind apierr.Kind, latency time.Duration) {
	rec := &model.AuditRecord{
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		Operation: operation,
		Domain:    domain,
		Outcome:   outcome,
		ErrorKind: string(errKind),
		LatencyMS: latency.Milliseconds(),
	}
	if tok != nil {
		rec.TokenPrefix = tok.TokenPrefix
	}
	if err := h.store.InsertAuditRecord(ctx, rec); err != nil {
		h.logger.Warnw("audit insert failed", "error", err)
	}
}

func paramString(p rawParam, key string) string {
	v, _ := p[key].(string)
	return v
}

func (h *DNSHandler) buildBackend(ctx context.Context, res *authz.Resolution) (backend.DNSBackend, apierr.Kind, error) {
	provider, err := h.providerForService(ctx, res.BackendService)
	if err != nil {
		return nil, apierr.KindBackendUnavailable, err
	}
	inst, err := h.registry.Build(provider.ProviderCode, res.BackendService.Config)
	if err != nil {
		return nil, apierr.KindConfigInvalid, err
	}
	return inst, "", nil
}

func (h *DNSHandler) providerForService(ctx context.Context, svc *model.BackendService) (*model.BackendProvider, error) {
	providers, err := h.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		if p.ID == svc.ProviderID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("provider %d not found for backend service %d", svc.ProviderID, svc.ID)
}

func (h *DNSHandler) infoDnsZone(w http.ResponseWriter, ctx context.Context, tok *model.Token, res *authz.Resolution, param rawParam) (string, apierr.Kind) {
	domain := paramString(param, "domainname")
	if domain == "" {
		APIError(w, apierr.KindMalformedRequest, "domainname required")
		return domain, apierr.KindMalformedRequest
	}
	decision := h.engine.CheckZoneScope(tok, res, "read", domain, ClientIP(ctx), time.Now())
	if !decision.Allowed {
		APIError(w, decision.Kind, decision.Reason)
		return domain, decision.Kind
	}
	inst, kind, err := h.buildBackend(ctx, res)
	if err != nil {
		APIError(w, kind, "backend unavailable")
		return domain, kind
	}
	info, err := inst.GetZoneInfo(ctx, res.RootDomain)
	if err != nil {
		kind := apierr.KindFor(err)
		APIError(w, kind, "backend call failed")
		return domain, kind
	}
	Success(w, info)
	return domain, ""
}

func (h *DNSHandler) infoDnsRecords(w http.ResponseWriter, ctx context.Context, tok *model.Token, res *authz.Resolution, param rawParam) (string, apierr.Kind) {
	domain := paramString(param, "domainname")
	if domain == "" {
		APIError(w, apierr.KindMalformedRequest, "domainname required")
		return domain, apierr.KindMalformedRequest
	}
	decision := h.engine.CheckZoneScope(tok, res, "read", domain, ClientIP(ctx), time.Now())
	if !decision.Allowed {
		APIError(w, decision.Kind, decision.Reason)
		return domain, decision.Kind
	}
	inst, kind, err := h.buildBackend(ctx, res)
	if err != nil {
		APIError(w, kind, "backend unavailable")
		return domain, kind
	}
	records, err := inst.ListRecords(ctx, res.RootDomain)
	if err != nil {
		kind := apierr.KindFor(err)
		APIError(w, kind, "backend call failed")
		return domain, kind
	}
	filtered := h.engine.FilterRecords(tok, res, records)
	Success(w, map[string]any{"dnsrecords": filtered})
	return domain, ""
}

type updateParam struct {
	DomainName   string `json:"domainname"`
	DNSRecordSet struct {
		DNSRecords []model.DNSRecord `json:"dnsrecords"`
	} `json:"dnsrecordset"`
}

func (h *DNSHandler) updateDnsRecords(w http.ResponseWriter, ctx context.Context, tok *model.Token, res *authz.Resolution, param rawParam) (string, apierr.Kind) {
	domain := paramString(param, "domainname")
	recordsRaw, _ := param["dnsrecordset"].(map[string]any)
	recordList, _ := recordsRaw["dnsrecords"].([]any)

	if domain == "" {
		APIError(w, apierr.KindMalformedRequest, "domainname required")
		return domain, apierr.KindMalformedRequest
	}
	if h.maxRecords > 0 && len(recordList) > h.maxRecords {
		APIError(w, apierr.KindMalformedRequest, "too many records in one request")
		return domain, apierr.KindMalformedRequest
	}

	records := make([]model.DNSRecord, 0, len(recordList))
	for _, raw := range recordList {
		m, ok := raw.(map[string]any)
		if !ok {
			APIError(w, apierr.KindMalformedRequest, "malformed record")
			return domain, apierr.KindMalformedRequest
		}
		records = append(records, decodeRecord(m))
	}

	// Authorize every record before touching the backend: the whole
	// request is rejected if any individual record would violate a
	// permission (spec §6).
	now := time.Now()
	for _, rec := range records {
		op := "update"
		if rec.DeleteRecord {
			op = "delete"
		} else if rec.ID == "" {
			op = "create"
		}
		target := res.TargetFQDN(rec.Hostname)
		decision := h.engine.Check(tok, res, op, target, rec.Type, ClientIP(ctx), now)
		if !decision.Allowed {
			APIError(w, decision.Kind, decision.Reason)
			return domain, decision.Kind
		}
	}

	inst, kind, err := h.buildBackend(ctx, res)
	if err != nil {
		APIError(w, kind, "backend unavailable")
		return domain, kind
	}

	for _, rec := range records {
		switch {
		case rec.DeleteRecord:
			if err := inst.DeleteRecord(ctx, res.RootDomain, rec.ID); err != nil {
				kind := apierr.KindFor(err)
				APIError(w, kind, "backend call failed")
				return domain, kind
			}
		case rec.ID == "":
			if _, err := inst.CreateRecord(ctx, res.RootDomain, rec); err != nil {
				kind := apierr.KindFor(err)
				APIError(w, kind, "backend call failed")
				return domain, kind
			}
		default:
			if _, err := inst.UpdateRecord(ctx, res.RootDomain, rec.ID, rec); err != nil {
				kind := apierr.KindFor(err)
				APIError(w, kind, "backend call failed")
				return domain, kind
			}
		}
	}

	Success(w, map[string]any{"dnsrecords": records})
	return domain, ""
}

func decodeRecord(m map[string]any) model.DNSRecord {
	rec := model.DNSRecord{
		ID:       stringField(m, "id"),
		Hostname: stringField(m, "hostname"),
		Type:     stringField(m, "type"),
		Value:    stringField(m, "destination"),
		State:    stringField(m, "state"),
	}
	if v, ok := m["deleterecord"].(bool); ok {
		rec.DeleteRecord = v
	}
	if v, ok := m["priority"].(float64); ok {
		rec.Priority = int(v)
	}
	if v, ok := m["ttl"].(float64); ok {
		rec.TTL = int(v)
	}
	return rec
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
