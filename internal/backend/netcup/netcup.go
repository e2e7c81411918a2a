// Package netcup implements the Netcup DNS backend: a stateful
// login/logout session, refreshed on session-expiry with at most one
// retry per request, and a per-zone in-process mutex serializing the
// read-modify-write of the upstream's "whole record set" update semantic
// (spec §4.3, §5).
package netcup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// Config is the provider-specific view of a BackendService.config for
// Netcup, parsed once the schema has already validated the raw JSON.
type Config struct {
	CustomerNumber string `json:"customer_number"`
	APIKey         string `json:"api_key"`
	APIPassword    string `json:"api_password"`
	Endpoint       string `json:"endpoint"`
}

// Schema is this provider's config-schema, registered with the backend
// registry.
var Schema = &backend.Schema{
	Fields: []backend.Field{
		{Name: "customer_number", Kind: backend.KindString, Required: true},
		{Name: "api_key", Kind: backend.KindString, Required: true},
		{Name: "api_password", Kind: backend.KindString, Required: true},
		{Name: "endpoint", Kind: backend.KindString, Required: false},
	},
}

const defaultEndpoint = "https://ccp.netcup.net/run/webservice/servers/endpoint.php?JSON"

// Provider implements backend.DNSBackend for the Netcup JSON-RPC API.
type Provider struct {
	cfg    Config
	client *http.Client

	sessionMu  sync.Mutex
	sessionID  string
	sessionAge time.Time

	zoneLocksMu sync.Mutex
	zoneLocks   map[string]*sync.Mutex
}

// New constructs a Provider from validated config bytes; it is registered
// as a backend.Factory.
func New(raw []byte) (backend.DNSBackend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode netcup config: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Provider{
		cfg:       cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		zoneLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (p *Provider) zoneLock(zone string) *sync.Mutex {
	p.zoneLocksMu.Lock()
	defer p.zoneLocksMu.Unlock()
	l, ok := p.zoneLocks[zone]
	if !ok {
		l = &sync.Mutex{}
		p.zoneLocks[zone] = l
	}
	return l
}

type rpcRequest struct {
	Action string `json:"action"`
	Param  any    `json:"param"`
}

type rpcResponse struct {
	ServerRequestID string          `json:"serverrequestid"`
	ClientRequestID string          `json:"clientrequestid"`
	Action          string          `json:"action"`
	Status          string          `json:"status"`
	StatusCode      int             `json:"statuscode"`
	ShortMessage    string          `json:"shortmessage"`
	LongMessage     string          `json:"longmessage"`
	ResponseData    json.RawMessage `json:"responsedata"`
}

func (p *Provider) call(ctx context.Context, action string, param any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{Action: action, Param: param})
	if err != nil {
		return nil, fmt.Errorf("marshal netcup request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build netcup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierr.Wrap(apierr.KindBackendTimeout, err)
		}
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, fmt.Errorf("netcup request failed: %w", err))
	}
	defer resp.Body.Close()

	// Error mapping per spec §4.3: upstream 5xx/timeout -> backend_unavailable,
	// 4xx -> backend_refused, response-shape violations -> backend_protocol_error.
	if resp.StatusCode >= 500 {
		return nil, apierr.Wrap(apierr.KindBackendUnavailable, fmt.Errorf("netcup upstream unavailable: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, apierr.Wrap(apierr.KindBackendRefused, fmt.Errorf("netcup upstream refused: status %d", resp.StatusCode))
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendProtocolError, fmt.Errorf("decode netcup response: %w", err))
	}
	if out.Status != "success" {
		return nil, sessionOrProtocolError(out)
	}
	return &out, nil
}

func sessionOrProtocolError(resp rpcResponse) error {
	if resp.StatusCode == 4001 || resp.StatusCode == 4003 {
		return errSessionExpired
	}
	return apierr.Wrap(apierr.KindBackendRefused, fmt.Errorf("netcup error %d: %s", resp.StatusCode, resp.ShortMessage))
}

// isSessionExpired reports whether err is (or wraps) errSessionExpired.
func isSessionExpired(err error) bool {
	return errors.Is(err, errSessionExpired)
}

var errSessionExpired = fmt.Errorf("netcup session expired")

// ensureSession logs in if no session is cached, or refreshes on demand.
func (p *Provider) ensureSession(ctx context.Context, force bool) (string, error) {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	if !force && p.sessionID != "" {
		return p.sessionID, nil
	}

	resp, err := p.call(ctx, "login", map[string]string{
		"customernumber": p.cfg.CustomerNumber,
		"apikey":         p.cfg.APIKey,
		"apipassword":    p.cfg.APIPassword,
	})
	if err != nil {
		return "", fmt.Errorf("netcup login: %w", err)
	}
	var data struct {
		APISessionID string `json:"apisessionid"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	p.sessionID = data.APISessionID
	p.sessionAge = time.Now()
	return p.sessionID, nil
}

// callAuthenticated wraps call with a session, retrying at most once on
// session expiry (spec §4.3).
func (p *Provider) callAuthenticated(ctx context.Context, action string, param map[string]any) (*rpcResponse, error) {
	sessionID, err := p.ensureSession(ctx, false)
	if err != nil {
		return nil, err
	}
	param["customernumber"] = p.cfg.CustomerNumber
	param["apikey"] = p.cfg.APIKey
	param["apisessionid"] = sessionID

	resp, err := p.call(ctx, action, param)
	if isSessionExpired(err) {
		sessionID, err = p.ensureSession(ctx, true)
		if err != nil {
			return nil, err
		}
		param["apisessionid"] = sessionID
		resp, err = p.call(ctx, action, param)
	}
	return resp, err
}

// TestConnection verifies credentials by logging in and out once.
func (p *Provider) TestConnection(ctx context.Context) (bool, string) {
	sessionID, err := p.ensureSession(ctx, true)
	if err != nil {
		return false, err.Error()
	}
	_, _ = p.call(ctx, "logout", map[string]string{
		"customernumber": p.cfg.CustomerNumber,
		"apikey":         p.cfg.APIKey,
		"apisessionid":   sessionID,
	})
	p.sessionMu.Lock()
	p.sessionID = ""
	p.sessionMu.Unlock()
	return true, "ok"
}

// ListZones is not generally exposed by Netcup's API in a bulk form; this
// backend validates access per-zone instead (capability flag zone_list is
// false for this provider, see the provider registry entry at wiring
// time).
func (p *Provider) ListZones(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("netcup provider does not support zone listing")
}

func (p *Provider) ValidateZoneAccess(ctx context.Context, zone string) (bool, string, error) {
	_, err := p.callAuthenticated(ctx, "infoDnsZone", map[string]any{"domainname": zone})
	if err != nil {
		return false, err.Error(), nil
	}
	return true, "ok", nil
}

func (p *Provider) GetZoneInfo(ctx context.Context, zone string) (*model.ZoneInfo, error) {
	resp, err := p.callAuthenticated(ctx, "infoDnsZone", map[string]any{"domainname": zone})
	if err != nil {
		return nil, fmt.Errorf("netcup infoDnsZone: %w", err)
	}
	var data struct {
		Name          string `json:"name"`
		TTL           string `json:"ttl"`
		Serial        string `json:"serial"`
		Refresh       string `json:"refresh"`
		Retry         string `json:"retry"`
		Expire        string `json:"expire"`
		DNSSECStatus  string `json:"dnssecstatus"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, fmt.Errorf("decode zone info: %w", err)
	}
	return &model.ZoneInfo{
		Name:   data.Name,
		Serial: data.Serial,
		DNSSEC: data.DNSSECStatus,
	}, nil
}

// ListRecords performs the whole-zone read that every other mutating call
// on this provider is built from.
func (p *Provider) ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error) {
	resp, err := p.callAuthenticated(ctx, "infoDnsRecords", map[string]any{"domainname": zone})
	if err != nil {
		return nil, fmt.Errorf("netcup infoDnsRecords: %w", err)
	}
	var data struct {
		DNSRecords []netcupRecord `json:"dnsrecords"`
	}
	if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	out := make([]model.DNSRecord, 0, len(data.DNSRecords))
	for _, r := range data.DNSRecords {
		out = append(out, r.normalize())
	}
	return out, nil
}

type netcupRecord struct {
	ID           string `json:"id"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
	Priority     string `json:"priority"`
	Destination  string `json:"destination"`
	DeleteRecord bool   `json:"deleterecord"`
	State        string `json:"state"`
}

func (r netcupRecord) normalize() model.DNSRecord {
	prio := 0
	fmt.Sscanf(r.Priority, "%d", &prio)
	return model.DNSRecord{
		ID:       r.ID,
		Hostname: r.Hostname,
		Type:     r.Type,
		Value:    r.Destination,
		Priority: prio,
		State:    r.State,
	}
}

func fromNormalized(rec model.DNSRecord) netcupRecord {
	return netcupRecord{
		ID:           rec.ID,
		Hostname:     rec.Hostname,
		Type:         rec.Type,
		Priority:     fmt.Sprintf("%d", rec.Priority),
		Destination:  rec.Value,
		DeleteRecord: rec.DeleteRecord,
	}
}

func (p *Provider) GetRecord(ctx context.Context, zone, id string) (*model.DNSRecord, error) {
	records, err := p.ListRecords(ctx, zone)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("record %s not found in zone %s", id, zone)
}

// CreateRecord performs the read-modify-write: the whole record set is
// fetched, the new record appended, and the whole set written back, all
// under the zone's mutex.
func (p *Provider) CreateRecord(ctx context.Context, zone string, rec model.DNSRecord) (*model.DNSRecord, error) {
	lock := p.zoneLock(zone)
	lock.Lock()
	defer lock.Unlock()

	records, err := p.ListRecords(ctx, zone)
	if err != nil {
		return nil, err
	}
	records = append(records, rec)
	if err := p.writeWholeZone(ctx, zone, records); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Provider) UpdateRecord(ctx context.Context, zone, id string, rec model.DNSRecord) (*model.DNSRecord, error) {
	lock := p.zoneLock(zone)
	lock.Lock()
	defer lock.Unlock()

	records, err := p.ListRecords(ctx, zone)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range records {
		if records[i].ID == id {
			rec.ID = id
			records[i] = rec
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("record %s not found in zone %s", id, zone)
	}
	if err := p.writeWholeZone(ctx, zone, records); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Provider) DeleteRecord(ctx context.Context, zone, id string) error {
	lock := p.zoneLock(zone)
	lock.Lock()
	defer lock.Unlock()

	records, err := p.ListRecords(ctx, zone)
	if err != nil {
		return err
	}
	filtered := records[:0]
	for _, r := range records {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	return p.writeWholeZone(ctx, zone, filtered)
}

func (p *Provider) writeWholeZone(ctx context.Context, zone string, records []model.DNSRecord) error {
	netcupRecords := make([]netcupRecord, len(records))
	for i, r := range records {
		netcupRecords[i] = fromNormalized(r)
	}
	_, err := p.callAuthenticated(ctx, "updateDnsRecords", map[string]any{
		"domainname": zone,
		"dnsrecordset": map[string]any{
			"dnsrecords": netcupRecords,
		},
	})
	if err != nil {
		return fmt.Errorf("netcup updateDnsRecords: %w", err)
	}
	return nil
}
