package backend

import (
	"context"
	"testing"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

type stubBackend struct{}

func (stubBackend) TestConnection(ctx context.Context) (bool, string) { return true, "ok" }
func (stubBackend) ListZones(ctx context.Context) ([]string, error)  { return nil, nil }
func (stubBackend) ValidateZoneAccess(ctx context.Context, zone string) (bool, string, error) {
	return true, "", nil
}
func (stubBackend) ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error) {
	return nil, nil
}
func (stubBackend) GetRecord(ctx context.Context, zone, id string) (*model.DNSRecord, error) {
	return nil, nil
}
func (stubBackend) CreateRecord(ctx context.Context, zone string, rec model.DNSRecord) (*model.DNSRecord, error) {
	return &rec, nil
}
func (stubBackend) UpdateRecord(ctx context.Context, zone, id string, rec model.DNSRecord) (*model.DNSRecord, error) {
	return &rec, nil
}
func (stubBackend) DeleteRecord(ctx context.Context, zone, id string) error { return nil }
func (stubBackend) GetZoneInfo(ctx context.Context, zone string) (*model.ZoneInfo, error) {
	return &model.ZoneInfo{Name: zone}, nil
}

func TestRegistry_BuildUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build("nope", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unregistered provider code")
	}
}

func TestRegistry_BuildDisabled(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", nil, func(config []byte) (DNSBackend, error) { return stubBackend{}, nil }, false)
	if _, err := r.Build("stub", []byte(`{}`)); err == nil {
		t.Fatal("expected error for disabled provider")
	}
}

func TestRegistry_BuildValidatesSchema(t *testing.T) {
	r := NewRegistry()
	schema := &Schema{Fields: []Field{{Name: "username", Kind: KindString, Required: true}}}
	r.Register("stub", schema, func(config []byte) (DNSBackend, error) { return stubBackend{}, nil }, true)
	if _, err := r.Build("stub", []byte(`{}`)); err == nil {
		t.Fatal("expected schema validation error for missing required field")
	}
	if _, err := r.Build("stub", []byte(`{"username":"alice"}`)); err != nil {
		t.Fatalf("expected valid config to build, got %v", err)
	}
}

func TestRegistry_CodesAndEnabled(t *testing.T) {
	r := NewRegistry()
	r.Register("a", nil, func(config []byte) (DNSBackend, error) { return stubBackend{}, nil }, true)
	r.Register("b", nil, func(config []byte) (DNSBackend, error) { return stubBackend{}, nil }, false)
	codes := r.Codes()
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %v", codes)
	}
	if !r.IsEnabled("a") {
		t.Error("expected provider a to be enabled")
	}
	if r.IsEnabled("b") {
		t.Error("expected provider b to be disabled")
	}
}
