// Package storetest provides an in-memory fake implementing store.Store,
// in the same hand-rolled mock-store style the teacher uses for its own
// store-dependent unit tests, for use across this codebase's _test.go files.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// Fake is a single-process, mutex-guarded in-memory Store.
type Fake struct {
	mu sync.Mutex

	nextID int64

	accounts        map[int64]*model.Account
	realms          map[int64]*model.Realm
	tokens          map[int64]*model.Token
	providers       map[string]*model.BackendProvider
	backendServices map[int64]*model.BackendService
	domainRoots     map[int64]*model.ManagedDomainRoot
	grants          map[int64]*model.DomainRootGrant
	audit           []*model.AuditRecord
	sessions        map[string]*store.Session
}

// New builds an empty Fake store.
func New() *Fake {
	return &Fake{
		accounts:        make(map[int64]*model.Account),
		realms:          make(map[int64]*model.Realm),
		tokens:          make(map[int64]*model.Token),
		providers:       make(map[string]*model.BackendProvider),
		backendServices: make(map[int64]*model.BackendService),
		domainRoots:     make(map[int64]*model.ManagedDomainRoot),
		grants:          make(map[int64]*model.DomainRootGrant),
		sessions:        make(map[string]*store.Session),
	}
}

func (f *Fake) newID() int64 {
	f.nextID++
	return f.nextID
}

func (f *Fake) CreateAccount(ctx context.Context, a *model.Account) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.accounts {
		if existing.Username == a.Username {
			return nil, store.ErrConflict
		}
	}
	cp := *a
	cp.ID = f.newID()
	f.accounts[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) UpdateAccount(ctx context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[a.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func (f *Fake) DeleteAccount(ctx context.Context, id int64, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.accounts, id)
	return nil
}

func (f *Fake) CountAdmins(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.accounts {
		if a.IsAdmin {
			n++
		}
	}
	return n, nil
}

func (f *Fake) RecordLoginFailure(ctx context.Context, accountID int64, lockUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.FailedLoginCount++
	a.LockedUntil = lockUntil
	return nil
}

func (f *Fake) RecordLoginSuccess(ctx context.Context, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.FailedLoginCount = 0
	a.LockedUntil = nil
	return nil
}

func (f *Fake) CreateRealm(ctx context.Context, r *model.Realm, operator string) (*model.Realm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	cp.ID = f.newID()
	f.realms[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) GetRealm(ctx context.Context, id int64) (*model.Realm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.realms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) ListRealmsForAccount(ctx context.Context, accountID int64) ([]*model.Realm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Realm
	for _, r := range f.realms {
		if r.AccountID == accountID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) DeleteRealm(ctx context.Context, id int64, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.realms[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.realms, id)
	return nil
}

func (f *Fake) CreateToken(ctx context.Context, t *model.Token, operator string) (*model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tokens {
		if existing.TokenPrefix == t.TokenPrefix {
			return nil, store.ErrConflict
		}
	}
	cp := *t
	cp.ID = f.newID()
	f.tokens[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) GetTokenByPrefix(ctx context.Context, prefix string) (*model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.TokenPrefix == prefix {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *Fake) ListTokensForRealm(ctx context.Context, realmID int64) ([]*model.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Token
	for _, t := range f.tokens {
		if t.RealmID == realmID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) UpdateToken(ctx context.Context, t *model.Token, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[t.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *t
	f.tokens[t.ID] = &cp
	return nil
}

func (f *Fake) DeleteToken(ctx context.Context, id int64, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.tokens, id)
	return nil
}

func (f *Fake) TouchTokenLastUsed(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastUsedAt = &at
	return nil
}

func (f *Fake) UpsertProvider(ctx context.Context, p *model.BackendProvider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		p.ID = f.newID()
	}
	cp := *p
	f.providers[p.ProviderCode] = &cp
	return nil
}

func (f *Fake) GetProviderByCode(ctx context.Context, code string) (*model.BackendProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) ListProviders(ctx context.Context) ([]*model.BackendProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.BackendProvider, 0, len(f.providers))
	for _, p := range f.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) CreateBackendService(ctx context.Context, s *model.BackendService, operator string) (*model.BackendService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	cp.ID = f.newID()
	f.backendServices[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) GetBackendService(ctx context.Context, id int64) (*model.BackendService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.backendServices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) ListBackendServices(ctx context.Context, ownerType model.OwnerType, ownerID *int64) ([]*model.BackendService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.BackendService
	for _, s := range f.backendServices {
		if s.OwnerType != ownerType {
			continue
		}
		if ownerID != nil && (s.OwnerID == nil || *s.OwnerID != *ownerID) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) UpdateBackendService(ctx context.Context, s *model.BackendService, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.backendServices[s.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *s
	f.backendServices[s.ID] = &cp
	return nil
}

func (f *Fake) DeleteBackendService(ctx context.Context, id int64, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.backendServices[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.backendServices, id)
	return nil
}

func (f *Fake) CreateDomainRoot(ctx context.Context, d *model.ManagedDomainRoot, operator string) (*model.ManagedDomainRoot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	cp.ID = f.newID()
	f.domainRoots[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) GetDomainRoot(ctx context.Context, id int64) (*model.ManagedDomainRoot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domainRoots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *Fake) ListDomainRootsVisible(ctx context.Context, accountID int64) ([]*model.ManagedDomainRoot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.ManagedDomainRoot, 0, len(f.domainRoots))
	for _, d := range f.domainRoots {
		if d.Visibility == model.VisibilityPublic {
			cp := *d
			out = append(out, &cp)
			continue
		}
		for _, g := range f.grants {
			if g.DomainRootID == d.ID && g.AccountID == accountID && g.RevokedAt == nil {
				cp := *d
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) UpdateDomainRoot(ctx context.Context, d *model.ManagedDomainRoot, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.domainRoots[d.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *d
	f.domainRoots[d.ID] = &cp
	return nil
}

func (f *Fake) CreateGrant(ctx context.Context, g *model.DomainRootGrant, operator string) (*model.DomainRootGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	cp.ID = f.newID()
	f.grants[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) ListGrantsForAccount(ctx context.Context, accountID int64) ([]*model.DomainRootGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.DomainRootGrant
	for _, g := range f.grants {
		if g.AccountID == accountID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) RevokeGrant(ctx context.Context, id int64, operator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	g.RevokedAt = &now
	return nil
}

func (f *Fake) ClaimPlatformRealm(ctx context.Context, domainRootID int64, realmValue string, r *model.Realm, operator string) (*model.Realm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.realms {
		if existing.DomainRootID != nil && *existing.DomainRootID == domainRootID && existing.RealmValue == realmValue {
			return nil, store.ErrConflict
		}
	}
	cp := *r
	cp.ID = f.newID()
	f.realms[cp.ID] = &cp
	return &cp, nil
}

func (f *Fake) InsertAuditRecord(ctx context.Context, rec *model.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.ID = f.newID()
	f.audit = append(f.audit, &cp)
	return nil
}

func (f *Fake) ListAuditRecords(ctx context.Context, filter store.AuditFilter) ([]*model.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditRecord
	for _, rec := range f.audit {
		if filter.AccountID != nil && (rec.AccountID == nil || *rec.AccountID != *filter.AccountID) {
			continue
		}
		if filter.TokenPrefix != "" && rec.TokenPrefix != filter.TokenPrefix {
			continue
		}
		if filter.Outcome != "" && rec.Outcome != filter.Outcome {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) CreateSession(ctx context.Context, s *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *Fake) GetSession(ctx context.Context, id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *Fake) TouchSession(ctx context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.LastSeenAt = now
	return nil
}

func (f *Fake) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *Fake) DeleteExpiredSessions(ctx context.Context, idleCutoff, absoluteCutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if s.LastSeenAt.Before(idleCutoff) || s.CreatedAt.Before(absoluteCutoff) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) IsBootstrapped(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.IsAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) Close() error { return nil }

var _ store.Store = (*Fake)(nil)
