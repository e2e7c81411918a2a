package authz

import (
	"context"
	"fmt"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/apierr"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// Resolution is the output of resolving a token to a backend and its
// authoritative zone (spec §4.4).
type Resolution struct {
	BackendService *model.BackendService
	DomainRoot     *model.ManagedDomainRoot // nil for user-owned (BYOD) realms
	Realm          *model.Realm
	Zone           string

	// RootDomain is the zone actually registered with the backend (the
	// "domainname" the vendor API expects): for platform realms this is
	// the domain root's RootDomain, for BYOD realms the user's
	// registered domain. Zone may be a strict subdomain of RootDomain
	// when the realm is scoped to a label under it; record hostnames in
	// the vendor wire format are always relative to RootDomain, never to
	// Zone.
	RootDomain string
}

// TargetFQDN returns the absolute FQDN a record's vendor-wire hostname
// field addresses, relative to RootDomain (the zone actually registered
// with the backend) rather than Zone (the token's possibly-narrower
// authoritative scope).
func (res *Resolution) TargetFQDN(hostname string) string {
	if hostname == "" || hostname == "@" {
		return res.RootDomain
	}
	return hostname + "." + res.RootDomain
}

// Resolver implements C4: given a token's realm, determine the backend
// service to dispatch to and the zone the token is authoritative over.
type Resolver struct {
	store store.Store
}

// NewResolver builds a Resolver over st.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve implements the algorithm in spec §4.4.
func (r *Resolver) Resolve(ctx context.Context, realm *model.Realm) (*Resolution, error) {
	if realm.UserBackendID != nil {
		svc, err := r.store.GetBackendService(ctx, *realm.UserBackendID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, apierr.New(apierr.KindBackendUnavailable, "user backend not found")
			}
			return nil, apierr.Wrap(apierr.KindStorageError, err)
		}
		if !svc.IsActive {
			return nil, apierr.New(apierr.KindBackendUnavailable, "user backend inactive")
		}
		zone := realm.RealmValue
		root := realm.RealmValue
		if realm.UserDomain != "" {
			zone = realm.RealmValue + "." + realm.UserDomain
			root = realm.UserDomain
		}
		return &Resolution{BackendService: svc, Realm: realm, Zone: zone, RootDomain: root}, nil
	}

	if realm.DomainRootID == nil {
		return nil, apierr.New(apierr.KindRealmNotFound, "realm has no backend binding")
	}

	root, err := r.store.GetDomainRoot(ctx, *realm.DomainRootID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.KindRealmNotFound, "domain root not found")
		}
		return nil, apierr.Wrap(apierr.KindStorageError, err)
	}
	if !root.IsActive {
		return nil, apierr.New(apierr.KindBackendUnavailable, "domain root inactive")
	}

	svc, err := r.store.GetBackendService(ctx, root.BackendServiceID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apierr.New(apierr.KindBackendUnavailable, "backend service not found")
		}
		return nil, apierr.Wrap(apierr.KindStorageError, err)
	}
	if !svc.IsActive {
		return nil, apierr.New(apierr.KindBackendUnavailable, "backend service inactive")
	}

	zone := root.RootDomain
	if realm.RealmValue != "" && realm.RealmValue != "@" {
		zone = realm.RealmValue + "." + root.RootDomain
	} else if !root.AllowApexAccess {
		return nil, apierr.New(apierr.KindRootPolicyRefused, "apex access not allowed for this root")
	}

	return &Resolution{BackendService: svc, DomainRoot: root, Realm: realm, Zone: zone, RootDomain: root.RootDomain}, nil
}

// ValidateRealmValue checks realm-value legality at creation time, per
// spec §4.4: label syntax, FQDN length, and depth bounds relative to root.
func ValidateRealmValue(root *model.ManagedDomainRoot, realmValue string) error {
	fqdn := realmValue
	if realmValue != "@" && realmValue != "" {
		fqdn = realmValue + "." + root.RootDomain
	} else {
		fqdn = root.RootDomain
	}
	if err := model.ValidateFQDN(fqdn); err != nil {
		return err
	}
	depth, ok := model.SubdomainDepth(root.RootDomain, fqdn)
	if !ok {
		return fmt.Errorf("realm value %q is not under root %q", realmValue, root.RootDomain)
	}
	if depth == 0 && !root.AllowApexAccess {
		return fmt.Errorf("apex access not allowed for root %q", root.RootDomain)
	}
	if depth < root.MinSubdomainDepth || depth > root.MaxSubdomainDepth {
		return fmt.Errorf("realm value %q has depth %d, want [%d,%d]", realmValue, depth, root.MinSubdomainDepth, root.MaxSubdomainDepth)
	}
	return nil
}
