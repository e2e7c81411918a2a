// Package store is the identity store (C1): an ACID transactional interface
// over an embedded single-file relational engine, persisting every entity
// in the data model plus specialized lookup queries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// ErrConflict is returned on unique-constraint violations (duplicate realm
// claim, duplicate token prefix, duplicate username).
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a lookup by ID or natural key finds nothing.
var ErrNotFound = errors.New("not_found")

// Store is the full interface the rest of the system depends on. A single
// implementation (SQLiteStore) backs it in production; handler tests use a
// hand-rolled in-memory fake implementing the same interface.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, a *model.Account) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account) error
	DeleteAccount(ctx context.Context, id int64, operator string) error
	CountAdmins(ctx context.Context) (int, error)
	RecordLoginFailure(ctx context.Context, accountID int64, lockUntil *time.Time) error
	RecordLoginSuccess(ctx context.Context, accountID int64) error

	// Realms
	CreateRealm(ctx context.Context, r *model.Realm, operator string) (*model.Realm, error)
	GetRealm(ctx context.Context, id int64) (*model.Realm, error)
	ListRealmsForAccount(ctx context.Context, accountID int64) ([]*model.Realm, error)
	DeleteRealm(ctx context.Context, id int64, operator string) error

	// Tokens
	CreateToken(ctx context.Context, t *model.Token, operator string) (*model.Token, error)
	GetTokenByPrefix(ctx context.Context, prefix string) (*model.Token, error)
	ListTokensForRealm(ctx context.Context, realmID int64) ([]*model.Token, error)
	UpdateToken(ctx context.Context, t *model.Token, operator string) error
	DeleteToken(ctx context.Context, id int64, operator string) error
	TouchTokenLastUsed(ctx context.Context, id int64, at time.Time) error

	// Backend providers (registry persistence, seeded at bootstrap)
	UpsertProvider(ctx context.Context, p *model.BackendProvider) error
	GetProviderByCode(ctx context.Context, code string) (*model.BackendProvider, error)
	ListProviders(ctx context.Context) ([]*model.BackendProvider, error)

	// Backend services
	CreateBackendService(ctx context.Context, s *model.BackendService, operator string) (*model.BackendService, error)
	GetBackendService(ctx context.Context, id int64) (*model.BackendService, error)
	ListBackendServices(ctx context.Context, ownerType model.OwnerType, ownerID *int64) ([]*model.BackendService, error)
	UpdateBackendService(ctx context.Context, s *model.BackendService, operator string) error
	DeleteBackendService(ctx context.Context, id int64, operator string) error

	// Domain roots
	CreateDomainRoot(ctx context.Context, d *model.ManagedDomainRoot, operator string) (*model.ManagedDomainRoot, error)
	GetDomainRoot(ctx context.Context, id int64) (*model.ManagedDomainRoot, error)
	ListDomainRootsVisible(ctx context.Context, accountID int64) ([]*model.ManagedDomainRoot, error)
	UpdateDomainRoot(ctx context.Context, d *model.ManagedDomainRoot, operator string) error

	// Grants
	CreateGrant(ctx context.Context, g *model.DomainRootGrant, operator string) (*model.DomainRootGrant, error)
	ListGrantsForAccount(ctx context.Context, accountID int64) ([]*model.DomainRootGrant, error)
	RevokeGrant(ctx context.Context, id int64, operator string) error

	// Claim a realm value atomically: callers pass the root+value pair; a
	// second concurrent claim of the same pair returns ErrConflict.
	ClaimPlatformRealm(ctx context.Context, domainRootID int64, realmValue string, r *model.Realm, operator string) (*model.Realm, error)

	// Audit
	InsertAuditRecord(ctx context.Context, rec *model.AuditRecord) error
	ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*model.AuditRecord, error)

	// Sessions (C7)
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, now time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, idleCutoff, absoluteCutoff time.Time) (int64, error)

	// Bootstrap
	IsBootstrapped(ctx context.Context) (bool, error)

	Close() error
}

// AuditFilter narrows ListAuditRecords queries.
type AuditFilter struct {
	AccountID   *int64
	TokenPrefix string
	Outcome     model.Outcome
	Limit       int
	Offset      int
}

// Session is the server-side record backing a browser login, keyed by a
// random 192-bit ID (spec §5).
type Session struct {
	ID           string
	AccountID    int64
	CreatedAt    time.Time
	LastSeenAt   time.Time
	CSRFToken    string
	TOTPVerified bool
}
