package powerdns

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

func TestSynthesizeAndSplitID(t *testing.T) {
	id := synthesizeID("home", "A")
	if id != "home:A" {
		t.Fatalf("expected home:A, got %s", id)
	}
	host, typ, ok := splitID(id)
	if !ok || host != "home" || typ != "A" {
		t.Fatalf("splitID(%q) = (%q, %q, %v)", id, host, typ, ok)
	}
	if _, _, ok := splitID("malformed"); ok {
		t.Error("expected malformed id without separator to fail")
	}
}

func newConfig(url string) []byte {
	cfg := Config{APIURL: url, APIKey: "secret", ServerID: "localhost"}
	b, _ := json.Marshal(cfg)
	return b
}

func TestProvider_ListRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("expected api key header to be set")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name":   "example.com.",
			"serial": 2024010100,
			"dnssec": false,
			"rrsets": []map[string]any{
				{
					"name": "home.example.com.",
					"type": "A",
					"ttl":  3600,
					"records": []map[string]any{
						{"content": "1.2.3.4", "disabled": false},
					},
				},
			},
		})
	}))
	defer srv.Close()

	inst, err := New(newConfig(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	records, err := inst.ListRecords(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Hostname != "home" || records[0].Type != "A" || records[0].Value != "1.2.3.4" {
		t.Errorf("unexpected record: %+v", records[0])
	}
	if records[0].ID != "home:A" {
		t.Errorf("expected synthesized id home:A, got %s", records[0].ID)
	}
}

func TestProvider_GetZoneInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name":   "example.com.",
			"serial": 42,
			"dnssec": true,
		})
	}))
	defer srv.Close()

	inst, err := New(newConfig(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	info, err := inst.GetZoneInfo(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("get zone info: %v", err)
	}
	if info.Name != "example.com" || info.Serial != "42" || info.DNSSEC != "signed" {
		t.Errorf("unexpected zone info: %+v", info)
	}
}

func TestProvider_UpstreamErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inst, err := New(newConfig(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := inst.ListRecords(context.Background(), "example.com"); err == nil {
		t.Fatal("expected upstream 5xx to surface as an error")
	}
}

func TestProvider_CreateRecord_DefaultTTL(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	inst, err := New(newConfig(srv.URL))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	rec, err := inst.CreateRecord(context.Background(), "example.com", model.DNSRecord{Hostname: "home", Type: "A", Value: "1.2.3.4"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if rec.TTL != 3600 {
		t.Errorf("expected default TTL 3600, got %d", rec.TTL)
	}
	if rec.ID != "home:A" {
		t.Errorf("expected synthesized id, got %s", rec.ID)
	}
	rrsets, _ := captured["rrsets"].([]any)
	if len(rrsets) != 1 {
		t.Fatalf("expected one rrset in request body, got %v", captured)
	}
}
