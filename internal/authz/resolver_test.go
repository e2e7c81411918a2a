package authz

import (
	"context"
	"testing"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/storetest"
)

func TestResolve_PlatformRealm(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	svc, err := st.CreateBackendService(ctx, &model.BackendService{
		ServiceName: "svc1", OwnerType: model.OwnerPlatform, IsActive: true,
	}, "tester")
	if err != nil {
		t.Fatalf("create backend service: %v", err)
	}
	root, err := st.CreateDomainRoot(ctx, &model.ManagedDomainRoot{
		BackendServiceID: svc.ID, RootDomain: "example.com", IsActive: true,
		MinSubdomainDepth: 1, MaxSubdomainDepth: 1,
	}, "tester")
	if err != nil {
		t.Fatalf("create domain root: %v", err)
	}

	r := NewResolver(st)
	realm := &model.Realm{DomainRootID: &root.ID, RealmValue: "home"}
	res, err := r.Resolve(ctx, realm)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Zone != "home.example.com" {
		t.Errorf("expected zone home.example.com, got %s", res.Zone)
	}
	if res.BackendService.ID != svc.ID {
		t.Errorf("expected resolved backend service %d, got %d", svc.ID, res.BackendService.ID)
	}
}

func TestResolve_ApexDenied(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()
	svc, _ := st.CreateBackendService(ctx, &model.BackendService{
		ServiceName: "svc1", OwnerType: model.OwnerPlatform, IsActive: true,
	}, "tester")
	root, _ := st.CreateDomainRoot(ctx, &model.ManagedDomainRoot{
		BackendServiceID: svc.ID, RootDomain: "example.com", IsActive: true,
		AllowApexAccess: false,
	}, "tester")

	r := NewResolver(st)
	realm := &model.Realm{DomainRootID: &root.ID, RealmValue: "@"}
	_, err := r.Resolve(ctx, realm)
	if err == nil {
		t.Fatal("expected apex access to be denied")
	}
}

func TestResolve_InactiveRootFails(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()
	svc, _ := st.CreateBackendService(ctx, &model.BackendService{
		ServiceName: "svc1", OwnerType: model.OwnerPlatform, IsActive: true,
	}, "tester")
	root, _ := st.CreateDomainRoot(ctx, &model.ManagedDomainRoot{
		BackendServiceID: svc.ID, RootDomain: "example.com", IsActive: false,
	}, "tester")

	r := NewResolver(st)
	realm := &model.Realm{DomainRootID: &root.ID, RealmValue: "home"}
	if _, err := r.Resolve(ctx, realm); err == nil {
		t.Fatal("expected inactive root to fail resolution")
	}
}

func TestResolve_UserBackendRealm(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()
	svc, _ := st.CreateBackendService(ctx, &model.BackendService{
		ServiceName: "byod", OwnerType: model.OwnerUser, IsActive: true,
	}, "tester")

	r := NewResolver(st)
	realm := &model.Realm{UserBackendID: &svc.ID, RealmValue: "home", UserDomain: "myzone.net"}
	res, err := r.Resolve(ctx, realm)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Zone != "home.myzone.net" {
		t.Errorf("expected zone home.myzone.net, got %s", res.Zone)
	}
}

func TestValidateRealmValue(t *testing.T) {
	root := &model.ManagedDomainRoot{
		RootDomain: "example.com", MinSubdomainDepth: 1, MaxSubdomainDepth: 2,
	}
	if err := ValidateRealmValue(root, "home"); err != nil {
		t.Errorf("expected valid depth-1 realm value, got %v", err)
	}
	if err := ValidateRealmValue(root, "a.b.c"); err == nil {
		t.Error("expected depth-3 realm value to fail max depth")
	}
	if err := ValidateRealmValue(root, "@"); err == nil {
		t.Error("expected apex to fail when min depth is 1 and apex access disallowed")
	}
}
