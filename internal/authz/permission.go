package authz

import (
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// Decision is the total output of check(): every deny carries a Kind from
// the taxonomy in spec §7.
type Decision struct {
	Allowed bool
	Kind    apierr.Kind
	Reason  string
}

// Engine implements C5: the pure, total permission decision function.
type Engine struct {
	origins *OriginMatcher
}

// NewEngine builds a permission Engine.
func NewEngine(origins *OriginMatcher) *Engine {
	return &Engine{origins: origins}
}

// Check evaluates (token, operation, targetDomain, recordType) against the
// resolved realm/root/backend, per spec §4.5. recordType may be empty when
// the request implies no specific type (e.g. listing).
func (e *Engine) Check(token *model.Token, res *Resolution, operation, targetDomain, recordType, sourceIP string, now time.Time) Decision {
	// 1. Token gate: active, not expired, origin matches.
	if !token.IsActive {
		return Decision{Kind: apierr.KindTokenExpired, Reason: "token is not active"}
	}
	if token.ExpiresAt != nil && now.After(*token.ExpiresAt) {
		return Decision{Kind: apierr.KindTokenExpired, Reason: "token has expired"}
	}
	if !e.origins.Allowed(token.AllowedOrigins, sourceIP) {
		return Decision{Kind: apierr.KindOriginNotAllowed, Reason: "origin_not_allowed"}
	}
	return e.checkWithoutTokenGate(token, res, operation, targetDomain, recordType)
}

// CheckZoneScope evaluates a request whose target names a zone itself
// rather than a specific record (infoDnsZone, infoDnsRecords). Unlike
// Check's zone gate, which requires targetDomain to be contained by the
// token's authoritative zone, a zone-level request legitimately names the
// backend's registered root domain while the token's realm is scoped to a
// subdomain of it (spec §8 scenario 1: a token scoped to
// "home.example.com" is queried with domainname "example.com"). The
// requested domain must therefore be equal to, or a strict ancestor of,
// the token's authoritative zone — the reverse containment direction from
// Check.
func (e *Engine) CheckZoneScope(token *model.Token, res *Resolution, operation, targetDomain, sourceIP string, now time.Time) Decision {
	if !token.IsActive {
		return Decision{Kind: apierr.KindTokenExpired, Reason: "token is not active"}
	}
	if token.ExpiresAt != nil && now.After(*token.ExpiresAt) {
		return Decision{Kind: apierr.KindTokenExpired, Reason: "token has expired"}
	}
	if !e.origins.Allowed(token.AllowedOrigins, sourceIP) {
		return Decision{Kind: apierr.KindOriginNotAllowed, Reason: "origin_not_allowed"}
	}

	ops := token.Operations
	if len(ops) == 0 && res.DomainRoot != nil {
		ops = res.DomainRoot.AllowedOperations
	}
	if !containsOrEmpty(ops, operation) {
		return Decision{Kind: apierr.KindOperationNotAllowed, Reason: "operation_not_allowed"}
	}

	if !model.IsSubdomainOrEqual(targetDomain, res.Zone) {
		return Decision{Kind: apierr.KindZoneNotInRealm, Reason: "zone_not_in_realm"}
	}

	if res.DomainRoot != nil && len(res.DomainRoot.AllowedOperations) > 0 && !contains(res.DomainRoot.AllowedOperations, operation) {
		return Decision{Kind: apierr.KindRootPolicyRefused, Reason: "root_policy_refused"}
	}

	return Decision{Allowed: true}
}

// checkWithoutTokenGate evaluates gates 2-5 only, for use when the token
// gate (activity/expiry/origin) was already verified earlier in the
// request pipeline — as it is when FilterRecords re-checks each record in
// a response that already passed the full Check once.
func (e *Engine) checkWithoutTokenGate(token *model.Token, res *Resolution, operation, targetDomain, recordType string) Decision {
	// 2. Operation gate (inherits from root if token list is empty).
	ops := token.Operations
	if len(ops) == 0 && res.DomainRoot != nil {
		ops = res.DomainRoot.AllowedOperations
	}
	if !containsOrEmpty(ops, operation) {
		return Decision{Kind: apierr.KindOperationNotAllowed, Reason: "operation_not_allowed"}
	}

	// 3. Record-type gate.
	if recordType != "" {
		types := token.RecordTypes
		if len(types) == 0 && res.DomainRoot != nil {
			types = res.DomainRoot.AllowedRecordTypes
		}
		if !containsOrEmpty(types, recordType) {
			return Decision{Kind: apierr.KindRecordTypeNotAllowed, Reason: "record_type_not_allowed"}
		}
	}

	// 4. Zone gate: targetDomain must equal or be a strict subdomain of
	// the token's authoritative zone.
	if !model.IsSubdomainOrEqual(res.Zone, targetDomain) {
		return Decision{Kind: apierr.KindZoneNotInRealm, Reason: "zone_not_in_realm"}
	}

	// 5. Policy gate: intersection of root policy and token policy, when
	// under a domain root.
	if res.DomainRoot != nil {
		if len(res.DomainRoot.AllowedOperations) > 0 && !contains(res.DomainRoot.AllowedOperations, operation) {
			return Decision{Kind: apierr.KindRootPolicyRefused, Reason: "root_policy_refused"}
		}
		if recordType != "" && len(res.DomainRoot.AllowedRecordTypes) > 0 && !contains(res.DomainRoot.AllowedRecordTypes, recordType) {
			return Decision{Kind: apierr.KindRootPolicyRefused, Reason: "root_policy_refused"}
		}
	}

	return Decision{Allowed: true}
}

// FilterRecords removes records the token could not individually read,
// implementing the read-response filtering required by spec §4.5.
func (e *Engine) FilterRecords(token *model.Token, res *Resolution, records []model.DNSRecord) []model.DNSRecord {
	out := make([]model.DNSRecord, 0, len(records))
	for _, rec := range records {
		target := res.TargetFQDN(rec.Hostname)
		d := e.checkWithoutTokenGate(token, res, "read", target, rec.Type)
		if d.Allowed {
			out = append(out, rec)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsOrEmpty(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	return contains(list, v)
}
