package netcup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

type fakeServer struct {
	loginCount   int32
	records      []netcupRecord
	expireNextOp bool
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch req.Action {
		case "login":
			atomic.AddInt32(&f.loginCount, 1)
			writeOK(w, req.Action, map[string]any{"apisessionid": "sess-1"})
		case "logout":
			writeOK(w, req.Action, map[string]any{})
		case "infoDnsZone":
			writeOK(w, req.Action, map[string]any{"name": "example.com", "serial": "1", "dnssecstatus": "unsigned"})
		case "infoDnsRecords":
			if f.expireNextOp {
				f.expireNextOp = false
				writeErr(w, req.Action, 4001, "session expired")
				return
			}
			writeOK(w, req.Action, map[string]any{"dnsrecords": f.records})
		case "updateDnsRecords":
			param, _ := req.Param.(map[string]any)
			rs, _ := param["dnsrecordset"].(map[string]any)
			recs, _ := rs["dnsrecords"].([]any)
			var newRecords []netcupRecord
			b, _ := json.Marshal(recs)
			json.Unmarshal(b, &newRecords)
			f.records = newRecords
			writeOK(w, req.Action, map[string]any{})
		default:
			t.Fatalf("unexpected action %q", req.Action)
		}
	}
}

func writeOK(w http.ResponseWriter, action string, data any) {
	b, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(rpcResponse{Action: action, Status: "success", ResponseData: b})
}

func writeErr(w http.ResponseWriter, action string, code int, msg string) {
	json.NewEncoder(w).Encode(rpcResponse{Action: action, Status: "error", StatusCode: code, ShortMessage: msg})
}

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	cfg := Config{CustomerNumber: "1", APIKey: "k", APIPassword: "p", Endpoint: srv.URL}
	b, _ := json.Marshal(cfg)
	inst, err := New(b)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return inst.(*Provider)
}

func TestProvider_ListRecordsAndLogin(t *testing.T) {
	f := &fakeServer{records: []netcupRecord{{ID: "1", Hostname: "home", Type: "A", Destination: "1.2.3.4", Priority: "0"}}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p := newTestProvider(t, srv)
	records, err := p.ListRecords(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 || records[0].Hostname != "home" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if atomic.LoadInt32(&f.loginCount) != 1 {
		t.Errorf("expected exactly one login, got %d", f.loginCount)
	}

	// Second call reuses the cached session, no second login.
	if _, err := p.ListRecords(context.Background(), "example.com"); err != nil {
		t.Fatalf("second list records: %v", err)
	}
	if atomic.LoadInt32(&f.loginCount) != 1 {
		t.Errorf("expected session reuse, got %d logins", f.loginCount)
	}
}

func TestProvider_SessionExpiryRetriesOnce(t *testing.T) {
	f := &fakeServer{records: []netcupRecord{{ID: "1", Hostname: "home", Type: "A", Destination: "1.2.3.4"}}, expireNextOp: true}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p := newTestProvider(t, srv)
	records, err := p.ListRecords(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("expected retry to succeed after session expiry, got %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if atomic.LoadInt32(&f.loginCount) != 2 {
		t.Errorf("expected exactly one re-login after expiry, got %d total logins", f.loginCount)
	}
}

func TestProvider_CreateUpdateDeleteRecord(t *testing.T) {
	f := &fakeServer{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p := newTestProvider(t, srv)
	ctx := context.Background()

	created, err := p.CreateRecord(ctx, "example.com", model.DNSRecord{ID: "1", Hostname: "home", Type: "A", Value: "1.2.3.4"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if created.Hostname != "home" {
		t.Fatalf("unexpected created record: %+v", created)
	}
	if len(f.records) != 1 {
		t.Fatalf("expected 1 record stored upstream, got %d", len(f.records))
	}

	updated, err := p.UpdateRecord(ctx, "example.com", "1", model.DNSRecord{Hostname: "home", Type: "A", Value: "5.6.7.8"})
	if err != nil {
		t.Fatalf("update record: %v", err)
	}
	if updated.Value != "5.6.7.8" {
		t.Fatalf("unexpected updated record: %+v", updated)
	}

	if err := p.DeleteRecord(ctx, "example.com", "1"); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if len(f.records) != 0 {
		t.Fatalf("expected record set empty after delete, got %d", len(f.records))
	}
}

func TestProvider_GetZoneInfo(t *testing.T) {
	f := &fakeServer{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	p := newTestProvider(t, srv)
	info, err := p.GetZoneInfo(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("get zone info: %v", err)
	}
	if info.Name != "example.com" || info.DNSSEC != "unsigned" {
		t.Errorf("unexpected zone info: %+v", info)
	}
}

func TestProvider_ListZonesUnsupported(t *testing.T) {
	p := newTestProvider(t, httptest.NewServer(http.NotFoundHandler()))
	if _, err := p.ListZones(context.Background()); err == nil {
		t.Fatal("expected ListZones to report unsupported")
	}
}
