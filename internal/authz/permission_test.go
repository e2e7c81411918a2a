package authz

import (
	"testing"
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

func testEngine() *Engine {
	return NewEngine(NewOriginMatcher())
}

func baseToken() *model.Token {
	return &model.Token{
		IsActive:       true,
		Operations:     []string{"read"},
		RecordTypes:    []string{"A"},
		AllowedOrigins: nil,
	}
}

func baseResolution(zone string) *Resolution {
	return &Resolution{Zone: zone}
}

func TestCheck_Allows(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	res := baseResolution("home.example.com")
	d := e.Check(tok, res, "read", "home.example.com", "A", "203.0.113.1", time.Now())
	if !d.Allowed {
		t.Fatalf("expected allow, got deny kind=%s reason=%s", d.Kind, d.Reason)
	}
}

func TestCheck_InactiveToken(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	tok.IsActive = false
	d := e.Check(tok, baseResolution("home.example.com"), "read", "home.example.com", "A", "203.0.113.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindTokenExpired {
		t.Fatalf("expected token_expired deny, got %+v", d)
	}
}

func TestCheck_ExpiredToken(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	past := time.Now().Add(-time.Hour)
	tok.ExpiresAt = &past
	d := e.Check(tok, baseResolution("home.example.com"), "read", "home.example.com", "A", "203.0.113.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindTokenExpired {
		t.Fatalf("expected token_expired deny, got %+v", d)
	}
}

func TestCheck_OriginNotAllowed(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	tok.AllowedOrigins = []string{"192.0.2.0/24"}
	d := e.Check(tok, baseResolution("home.example.com"), "read", "home.example.com", "A", "198.51.100.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindOriginNotAllowed {
		t.Fatalf("expected origin_not_allowed deny, got %+v", d)
	}
}

func TestCheck_OperationNotAllowed(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	d := e.Check(tok, baseResolution("home.example.com"), "update", "home.example.com", "A", "203.0.113.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindOperationNotAllowed {
		t.Fatalf("expected operation_not_allowed deny, got %+v", d)
	}
}

func TestCheck_RecordTypeNotAllowed(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	d := e.Check(tok, baseResolution("home.example.com"), "read", "home.example.com", "AAAA", "203.0.113.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindRecordTypeNotAllowed {
		t.Fatalf("expected record_type_not_allowed deny, got %+v", d)
	}
}

func TestCheck_ZoneNotInRealm(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	d := e.Check(tok, baseResolution("home.example.com"), "read", "other.example.com", "A", "203.0.113.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindZoneNotInRealm {
		t.Fatalf("expected zone_not_in_realm deny, got %+v", d)
	}
}

func TestCheck_SubdomainOfZoneAllowed(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	res := baseResolution("dyn.example.com")
	d := e.Check(tok, res, "read", "myhost.dyn.example.com", "A", "203.0.113.1", time.Now())
	if !d.Allowed {
		t.Fatalf("expected subdomain of zone to be allowed, got %+v", d)
	}
}

func TestCheck_RootPolicyIntersection(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	tok.Operations = nil // inherit from root
	tok.RecordTypes = nil
	res := baseResolution("home.example.com")
	res.DomainRoot = &model.ManagedDomainRoot{
		AllowedOperations:  []string{"read"},
		AllowedRecordTypes: []string{"A"},
	}
	d := e.Check(tok, res, "read", "home.example.com", "A", "203.0.113.1", time.Now())
	if !d.Allowed {
		t.Fatalf("expected allow under inherited root policy, got %+v", d)
	}
	d2 := e.Check(tok, res, "update", "home.example.com", "A", "203.0.113.1", time.Now())
	if d2.Allowed {
		t.Fatalf("expected deny for operation outside root policy, got %+v", d2)
	}
}

func TestCheck_RootPolicyRefusesEvenWhenTokenAllows(t *testing.T) {
	e := testEngine()
	tok := baseToken()
	tok.Operations = []string{"read", "delete"}
	res := baseResolution("home.example.com")
	res.DomainRoot = &model.ManagedDomainRoot{
		AllowedOperations: []string{"read"},
	}
	d := e.Check(tok, res, "delete", "home.example.com", "", "203.0.113.1", time.Now())
	if d.Allowed || d.Kind != apierr.KindRootPolicyRefused {
		t.Fatalf("expected root_policy_refused deny, got %+v", d)
	}
}

func TestFilterRecords(t *testing.T) {
	e := testEngine()
	tok := baseToken() // only type A, op read
	res := baseResolution("example.com")
	res.RootDomain = "example.com"
	records := []model.DNSRecord{
		{Hostname: "home", Type: "A", Value: "1.2.3.4"},
		{Hostname: "home", Type: "AAAA", Value: "::1"},
		{Hostname: "@", Type: "A", Value: "5.6.7.8"},
	}
	filtered := e.FilterRecords(tok, res, records)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 records to pass filter, got %d: %+v", len(filtered), filtered)
	}
	for _, r := range filtered {
		if r.Type != "A" {
			t.Errorf("expected only A records to survive filter, got %s", r.Type)
		}
	}
}
