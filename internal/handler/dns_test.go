package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/authz"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/storetest"
)

type stubBackend struct {
	records []model.DNSRecord
}

func (s *stubBackend) TestConnection(ctx context.Context) (bool, string) { return true, "ok" }
func (s *stubBackend) ListZones(ctx context.Context) ([]string, error)  { return nil, nil }
func (s *stubBackend) ValidateZoneAccess(ctx context.Context, zone string) (bool, string, error) {
	return true, "", nil
}
func (s *stubBackend) ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error) {
	return s.records, nil
}
func (s *stubBackend) GetRecord(ctx context.Context, zone, id string) (*model.DNSRecord, error) {
	return nil, nil
}
func (s *stubBackend) CreateRecord(ctx context.Context, zone string, rec model.DNSRecord) (*model.DNSRecord, error) {
	s.records = append(s.records, rec)
	return &rec, nil
}
func (s *stubBackend) UpdateRecord(ctx context.Context, zone, id string, rec model.DNSRecord) (*model.DNSRecord, error) {
	return &rec, nil
}
func (s *stubBackend) DeleteRecord(ctx context.Context, zone, id string) error { return nil }
func (s *stubBackend) GetZoneInfo(ctx context.Context, zone string) (*model.ZoneInfo, error) {
	return &model.ZoneInfo{Name: zone, TTL: 3600, Serial: "1"}, nil
}

// harness builds a full DNSHandler wired through the real authz.Engine and
// authz.Resolver over an in-memory store, mirroring production wiring in
// cmd/dnsproxy-server/main.go, so the test drives the actual pipeline
// rather than a mock of it.
type harness struct {
	store    *storetest.Fake
	registry *backend.Registry
	engine   *authz.Engine
	resolver *authz.Resolver
	dns      *DNSHandler
	backend  *stubBackend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := storetest.New()
	ctx := context.Background()

	svc, err := st.CreateBackendService(ctx, &model.BackendService{
		ProviderID: 1, ServiceName: "svc", OwnerType: model.OwnerPlatform, IsActive: true,
	}, "tester")
	if err != nil {
		t.Fatalf("create backend service: %v", err)
	}
	if err := st.UpsertProvider(ctx, &model.BackendProvider{ID: 1, ProviderCode: "stub", IsEnabled: true}); err != nil {
		t.Fatalf("upsert provider: %v", err)
	}
	root, err := st.CreateDomainRoot(ctx, &model.ManagedDomainRoot{
		BackendServiceID: svc.ID, RootDomain: "example.com", IsActive: true,
		MinSubdomainDepth: 1, MaxSubdomainDepth: 1,
	}, "tester")
	if err != nil {
		t.Fatalf("create domain root: %v", err)
	}
	realm, err := st.CreateRealm(ctx, &model.Realm{DomainRootID: &root.ID, RealmValue: "home"}, "tester")
	if err != nil {
		t.Fatalf("create realm: %v", err)
	}

	sb := &stubBackend{records: []model.DNSRecord{
		{Hostname: "home", Type: "A", Value: "1.2.3.4"},
		{Hostname: "home", Type: "AAAA", Value: "::1"},
		{Hostname: "www", Type: "A", Value: "5.6.7.8"},
	}}
	reg := backend.NewRegistry()
	reg.Register("stub", nil, func(config []byte) (backend.DNSBackend, error) { return sb, nil }, true)

	tok := &model.Token{
		TokenPrefix: "k1prefix", TokenHash: "unused", RealmID: realm.ID,
		Operations: []string{"read"}, RecordTypes: []string{"A"}, IsActive: true,
	}
	created, err := st.CreateToken(ctx, tok, "tester")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	*tok = *created

	resolver := authz.NewResolver(st)
	engine := authz.NewEngine(authz.NewOriginMatcher())
	logger := zap.NewNop().Sugar()
	dnsH := NewDNSHandler(st, reg, engine, logger, 100)

	return &harness{store: st, registry: reg, engine: engine, resolver: resolver, dns: dnsH, backend: sb}
}

func (h *harness) withContext(req *http.Request, tok *model.Token) *http.Request {
	ctx := context.WithValue(req.Context(), tokenKey, tok)
	res, err := h.resolver.Resolve(context.Background(), mustRealm(h, tok))
	if err != nil {
		panic(err)
	}
	ctx = context.WithValue(ctx, resolutionKey, res)
	ctx = context.WithValue(ctx, clientIPKey, "203.0.113.1")
	return req.WithContext(ctx)
}

func mustRealm(h *harness, tok *model.Token) *model.Realm {
	r, err := h.store.GetRealm(context.Background(), tok.RealmID)
	if err != nil {
		panic(err)
	}
	return r
}

func (h *harness) token(t *testing.T) *model.Token {
	tok, err := h.store.GetTokenByPrefix(context.Background(), "k1prefix")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	return tok
}

func TestDNSHandler_InfoDnsRecordsFiltered(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t)

	body, _ := json.Marshal(map[string]any{
		"action": "infoDnsRecords",
		"param":  map[string]any{"domainname": "example.com"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body))
	req = h.withContext(req, tok)
	w := httptest.NewRecorder()

	h.dns.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Status != "success" {
		t.Fatalf("expected success, got %+v", env)
	}
	data := env.ResponseData.(map[string]any)
	records := data["dnsrecords"].([]any)
	// The token is scoped to home.example.com and may only read A records:
	// home/AAAA fails the record-type gate, www/A fails the zone gate (www
	// is not within home.example.com), leaving only home/A.
	if len(records) != 1 {
		t.Fatalf("expected only the home A record to survive filtering, got %d: %v", len(records), records)
	}

	audits, _ := h.store.ListAuditRecords(context.Background(), store.AuditFilter{})
	if len(audits) != 1 || audits[0].Outcome != model.OutcomeSuccess {
		t.Fatalf("expected one success audit record, got %+v", audits)
	}
}

func TestDNSHandler_DeniedZone(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t)

	body, _ := json.Marshal(map[string]any{
		"action": "infoDnsRecords",
		"param":  map[string]any{"domainname": "other.example.com"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body))
	req = h.withContext(req, tok)
	w := httptest.NewRecorder()

	h.dns.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDNSHandler_UpdateRequiresOperation(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t) // only has "read"

	body, _ := json.Marshal(map[string]any{
		"action": "updateDnsRecords",
		"param": map[string]any{
			"domainname": "example.com",
			"dnsrecordset": map[string]any{
				"dnsrecords": []map[string]any{
					{"hostname": "home", "type": "A", "destination": "9.9.9.9"},
				},
			},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body))
	req = h.withContext(req, tok)
	w := httptest.NewRecorder()

	h.dns.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed operation, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDNSHandler_UpdateSucceedsWithPermission(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t)
	tok.Operations = []string{"read", "create"}
	if err := h.store.UpdateToken(context.Background(), tok, "tester"); err != nil {
		t.Fatalf("update token: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"action": "updateDnsRecords",
		"param": map[string]any{
			"domainname": "example.com",
			"dnsrecordset": map[string]any{
				"dnsrecords": []map[string]any{
					{"hostname": "home", "type": "A", "destination": "9.9.9.9"},
				},
			},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewReader(body))
	req = h.withContext(req, tok)
	w := httptest.NewRecorder()

	h.dns.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
