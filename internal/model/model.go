// Package model defines the entities persisted by the identity store and
// exchanged with the admin/account interactive surface. Field shapes follow
// the same pointer-for-optional convention used throughout this codebase's
// config and routing structs.
package model

import (
	"encoding/json"
	"time"
)

// Account is a human or service principal. See the invariants in the store
// package for uniqueness and lockout enforcement.
type Account struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	MustChangePassword bool       `json:"must_change_password"`
	IsAdmin            bool       `json:"is_admin"`
	IsActive           bool       `json:"is_active"`
	TOTPSecret         string     `json:"-"`
	TOTPEnabled        bool       `json:"totp_enabled"`
	RecoveryCodeHashes []string   `json:"-"`
	FailedLoginCount   int        `json:"-"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Realm is a scope of authority for tokens issued by one account. Exactly
// one of DomainRootID or UserBackendID is set.
type Realm struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"account_id"`
	RealmValue    string    `json:"realm_value"`
	DomainRootID  *int64    `json:"domain_root_id,omitempty"`
	UserBackendID *int64    `json:"user_backend_id,omitempty"`
	UserDomain    string    `json:"user_domain,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Token is an API credential bound to one realm.
type Token struct {
	ID             int64      `json:"id"`
	TokenPrefix    string     `json:"token_prefix"`
	TokenHash      string     `json:"-"`
	RealmID        int64      `json:"realm_id"`
	RecordTypes    []string   `json:"record_types,omitempty"`
	Operations     []string   `json:"operations,omitempty"`
	AllowedOrigins []string   `json:"allowed_origins,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	EmailOnUse     bool       `json:"email_on_use"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasOperation reports whether op is allowed, given inherited defaults are
// already resolved into Operations by the caller.
func (t *Token) HasOperation(op string) bool {
	if len(t.Operations) == 0 {
		return true
	}
	for _, o := range t.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// HasRecordType reports whether rt is allowed; empty RecordTypes inherits.
func (t *Token) HasRecordType(rt string) bool {
	if rt == "" || len(t.RecordTypes) == 0 {
		return true
	}
	for _, r := range t.RecordTypes {
		if r == rt {
			return true
		}
	}
	return false
}

// BackendProvider is a registry entry describing a DNS vendor integration.
type BackendProvider struct {
	ID           int64           `json:"id"`
	ProviderCode string          `json:"provider_code"`
	DisplayName  string          `json:"display_name"`
	ConfigSchema json.RawMessage `json:"config_schema"`
	ZoneList     bool            `json:"zone_list"`
	ZoneCreate   bool            `json:"zone_create"`
	DNSSEC       bool            `json:"dnssec"`
	RecordTypes  []string        `json:"record_types"`
	IsEnabled    bool            `json:"is_enabled"`
}

// OwnerType enumerates who owns a BackendService.
type OwnerType string

const (
	OwnerPlatform OwnerType = "platform"
	OwnerUser     OwnerType = "user"
)

// BackendService is a stored credential instance for a provider.
//
// Config holds secret material (API credentials for the upstream DNS
// vendor). The store never encrypts it at rest (see design note on
// postponed KMS integration); treat the database file itself as secret.
type BackendService struct {
	ID                int64           `json:"id"`
	ProviderID        int64           `json:"provider_id"`
	ServiceName       string          `json:"service_name"`
	OwnerType         OwnerType       `json:"owner_type"`
	OwnerID           *int64          `json:"owner_id,omitempty"`
	Config            json.RawMessage `json:"-"`
	IsActive          bool            `json:"is_active"`
	IsDefaultForOwner bool            `json:"is_default_for_owner"`
	LastTestStatus    string          `json:"last_test_status,omitempty"`
	LastTestMessage   string          `json:"last_test_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Visibility enumerates who may discover and claim under a domain root.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityInvite  Visibility = "invite"
)

// ManagedDomainRoot is a zone the platform administers, under which
// accounts may claim realms.
type ManagedDomainRoot struct {
	ID                 int64      `json:"id"`
	BackendServiceID    int64      `json:"backend_service_id"`
	RootDomain          string     `json:"root_domain"`
	DNSZone             string     `json:"dns_zone"`
	Visibility          Visibility `json:"visibility"`
	AllowApexAccess     bool       `json:"allow_apex_access"`
	MinSubdomainDepth   int        `json:"min_subdomain_depth"`
	MaxSubdomainDepth   int        `json:"max_subdomain_depth"`
	AllowedRecordTypes  []string   `json:"allowed_record_types"`
	AllowedOperations   []string   `json:"allowed_operations"`
	IsActive            bool       `json:"is_active"`
	VerifiedAt          *time.Time `json:"verified_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// GrantType enumerates the kind of access a DomainRootGrant confers.
type GrantType string

const (
	GrantStandard   GrantType = "standard"
	GrantAdmin      GrantType = "admin"
	GrantInviteOnly GrantType = "invite_only"
)

// DomainRootGrant authorizes an account to claim realms under a domain root.
type DomainRootGrant struct {
	ID           int64      `json:"id"`
	DomainRootID int64      `json:"domain_root_id"`
	AccountID    int64      `json:"account_id"`
	GrantType    GrantType  `json:"grant_type"`
	GrantedBy    int64      `json:"granted_by"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Outcome enumerates the terminal state of an audited request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// AuditRecord is an immutable record of one authorization-relevant event.
type AuditRecord struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	TokenPrefix   string    `json:"token_prefix,omitempty"`
	AccountID     *int64    `json:"account_id,omitempty"`
	SourceIP      string    `json:"source_ip"`
	Operation     string    `json:"operation"`
	Domain        string    `json:"domain,omitempty"`
	RecordDetails string    `json:"record_details,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	LatencyMS     int64     `json:"latency_ms"`
}

// DNSRecord is the normalized record shape every provider converts to/from.
//
// JSON field names match the upstream vendor API verbatim (spec §6:
// "semantics are preserved bit-for-bit with the upstream DNS API for
// client compatibility") — notably "destination", not "value".
type DNSRecord struct {
	ID           string `json:"id,omitempty"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
	Value        string `json:"destination"`
	TTL          int    `json:"ttl,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	DeleteRecord bool   `json:"deleterecord,omitempty"`
	State        string `json:"state,omitempty"`
}

// ZoneInfo mirrors the upstream vendor's zone metadata shape, including an
// Extra bag for vendor-specific fields not modeled explicitly, merged
// alongside the named fields on success responses (see MarshalJSON).
type ZoneInfo struct {
	Name    string         `json:"name"`
	TTL     int            `json:"ttl"`
	Serial  string         `json:"serial,omitempty"`
	Refresh int            `json:"refresh,omitempty"`
	Retry   int            `json:"retry,omitempty"`
	Expire  int            `json:"expire,omitempty"`
	DNSSEC  string         `json:"dnssecstatus,omitempty"`
	Extra   map[string]any `json:"-"`
}

// MarshalJSON flattens Extra's keys alongside the named fields, so a
// provider-specific value (anything not modeled above) passes through to
// the client without shadowing a named field of the same name.
func (z ZoneInfo) MarshalJSON() ([]byte, error) {
	type alias ZoneInfo
	named, err := json.Marshal(alias(z))
	if err != nil {
		return nil, err
	}
	if len(z.Extra) == 0 {
		return named, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(named, &out); err != nil {
		return nil, err
	}
	for k, v := range z.Extra {
		if _, exists := out[k]; exists {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}
