// Package powerdns implements the PowerDNS backend using the upstream's
// RRset-oriented HTTP API. Record IDs are synthesized as "name:type" since
// PowerDNS has no per-record identifier; update maps to REPLACE, delete to
// the DELETE changetype (spec §4.3).
package powerdns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// Config is the provider-specific view of a BackendService.config.
type Config struct {
	APIURL   string `json:"api_url"`
	APIKey   string `json:"api_key"`
	ServerID string `json:"server_id"`
}

// Schema is this provider's config-schema, registered with the registry.
var Schema = &backend.Schema{
	Fields: []backend.Field{
		{Name: "api_url", Kind: backend.KindString, Required: true},
		{Name: "api_key", Kind: backend.KindString, Required: true},
		{Name: "server_id", Kind: backend.KindString, Required: false},
	},
}

// Provider implements backend.DNSBackend for PowerDNS.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New constructs a Provider from validated config bytes.
func New(raw []byte) (backend.DNSBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode powerdns config: %w", err)
	}
	if cfg.ServerID == "" {
		cfg.ServerID = "localhost"
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal powerdns request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.APIURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build powerdns request: %w", err)
	}
	req.Header.Set("X-API-Key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierr.Wrap(apierr.KindBackendTimeout, err)
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, fmt.Errorf("powerdns request failed: %w", err))
	}
	return resp, nil
}

// classifyStatus maps an upstream HTTP status to the error taxonomy (spec
// §4.3): 5xx -> backend_unavailable, 4xx -> backend_refused.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 500 {
		return apierr.Wrap(apierr.KindBackendUnavailable, fmt.Errorf("powerdns upstream unavailable: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return apierr.Wrap(apierr.KindBackendRefused, fmt.Errorf("powerdns upstream refused: status %d", resp.StatusCode))
	}
	return nil
}

func (p *Provider) TestConnection(ctx context.Context) (bool, string) {
	resp, err := p.do(ctx, http.MethodGet, "/api/v1/servers/"+p.cfg.ServerID, nil)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

func (p *Provider) ListZones(ctx context.Context) ([]string, error) {
	resp, err := p.do(ctx, http.MethodGet, "/api/v1/servers/"+p.cfg.ServerID+"/zones", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	var zones []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&zones); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendProtocolError, fmt.Errorf("decode zones: %w", err))
	}
	out := make([]string, len(zones))
	for i, z := range zones {
		out[i] = strings.TrimSuffix(z.Name, ".")
	}
	return out, nil
}

func (p *Provider) ValidateZoneAccess(ctx context.Context, zone string) (bool, string, error) {
	resp, err := p.do(ctx, http.MethodGet, "/api/v1/servers/"+p.cfg.ServerID+"/zones/"+zone+".", nil)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, "zone not found", nil
	}
	if err := classifyStatus(resp); err != nil {
		return false, err.Error(), nil
	}
	return true, "ok", nil
}

type pdnsZone struct {
	Name    string    `json:"name"`
	Serial  int       `json:"serial"`
	RRSets  []pdnsRRs `json:"rrsets"`
	DNSSEC  bool      `json:"dnssec"`
}

type pdnsRRs struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	TTL     int            `json:"ttl"`
	Records []pdnsContents `json:"records"`
}

type pdnsContents struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

func (p *Provider) fetchZone(ctx context.Context, zone string) (*pdnsZone, error) {
	resp, err := p.do(ctx, http.MethodGet, "/api/v1/servers/"+p.cfg.ServerID+"/zones/"+zone+".", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	var z pdnsZone
	if err := json.NewDecoder(resp.Body).Decode(&z); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendProtocolError, fmt.Errorf("decode zone: %w", err))
	}
	return &z, nil
}

func (p *Provider) GetZoneInfo(ctx context.Context, zone string) (*model.ZoneInfo, error) {
	z, err := p.fetchZone(ctx, zone)
	if err != nil {
		return nil, err
	}
	dnssec := "unsigned"
	if z.DNSSEC {
		dnssec = "signed"
	}
	return &model.ZoneInfo{
		Name:   strings.TrimSuffix(z.Name, "."),
		Serial: fmt.Sprintf("%d", z.Serial),
		DNSSEC: dnssec,
	}, nil
}

// synthesizeID builds the "name:type" identifier PowerDNS records lack.
func synthesizeID(hostname, recordType string) string {
	return hostname + ":" + recordType
}

func splitID(id string) (hostname, recordType string, ok bool) {
	idx := strings.LastIndexByte(id, ':')
	if idx < 0 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}

func (p *Provider) ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error) {
	z, err := p.fetchZone(ctx, zone)
	if err != nil {
		return nil, err
	}
	var out []model.DNSRecord
	for _, rrset := range z.RRSets {
		hostname := strings.TrimSuffix(strings.TrimSuffix(rrset.Name, "."), "."+zone)
		if hostname == strings.TrimSuffix(rrset.Name, ".") {
			hostname = "@"
		}
		for _, c := range rrset.Records {
			out = append(out, model.DNSRecord{
				ID:       synthesizeID(hostname, rrset.Type),
				Hostname: hostname,
				Type:     rrset.Type,
				Value:    c.Content,
				TTL:      rrset.TTL,
			})
		}
	}
	return out, nil
}

func (p *Provider) GetRecord(ctx context.Context, zone, id string) (*model.DNSRecord, error) {
	hostname, recordType, ok := splitID(id)
	if !ok {
		return nil, fmt.Errorf("malformed powerdns record id %q", id)
	}
	records, err := p.ListRecords(ctx, zone)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Hostname == hostname && r.Type == recordType {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("record %s not found in zone %s", id, zone)
}

// patchRRset issues a single PATCH with one changetype, either REPLACE
// (update/create) or DELETE.
func (p *Provider) patchRRset(ctx context.Context, zone, hostname, recordType, changetype string, ttl int, contents []pdnsContents) error {
	name := hostname
	if name == "@" || name == "" {
		name = zone + "."
	} else {
		name = hostname + "." + zone + "."
	}
	rrset := map[string]any{
		"name":       name,
		"type":       recordType,
		"changetype": changetype,
	}
	if changetype == "REPLACE" {
		rrset["ttl"] = ttl
		rrset["records"] = contents
	}
	resp, err := p.do(ctx, http.MethodPatch, "/api/v1/servers/"+p.cfg.ServerID+"/zones/"+zone+".", map[string]any{
		"rrsets": []any{rrset},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus(resp)
}

func (p *Provider) CreateRecord(ctx context.Context, zone string, rec model.DNSRecord) (*model.DNSRecord, error) {
	ttl := rec.TTL
	if ttl == 0 {
		ttl = 3600
	}
	if err := p.patchRRset(ctx, zone, rec.Hostname, rec.Type, "REPLACE", ttl, []pdnsContents{{Content: rec.Value}}); err != nil {
		return nil, fmt.Errorf("powerdns create record: %w", err)
	}
	rec.ID = synthesizeID(rec.Hostname, rec.Type)
	rec.TTL = ttl
	return &rec, nil
}

func (p *Provider) UpdateRecord(ctx context.Context, zone, id string, rec model.DNSRecord) (*model.DNSRecord, error) {
	hostname, recordType, ok := splitID(id)
	if !ok {
		return nil, fmt.Errorf("malformed powerdns record id %q", id)
	}
	ttl := rec.TTL
	if ttl == 0 {
		ttl = 3600
	}
	if err := p.patchRRset(ctx, zone, hostname, recordType, "REPLACE", ttl, []pdnsContents{{Content: rec.Value}}); err != nil {
		return nil, fmt.Errorf("powerdns update record: %w", err)
	}
	rec.ID = id
	rec.Hostname = hostname
	rec.Type = recordType
	rec.TTL = ttl
	return &rec, nil
}

func (p *Provider) DeleteRecord(ctx context.Context, zone, id string) error {
	hostname, recordType, ok := splitID(id)
	if !ok {
		return fmt.Errorf("malformed powerdns record id %q", id)
	}
	if err := p.patchRRset(ctx, zone, hostname, recordType, "DELETE", 0, nil); err != nil {
		return fmt.Errorf("powerdns delete record: %w", err)
	}
	return nil
}
