// Package bootstrap implements C9: deterministic, idempotent seeding of
// enums, built-in providers, the default admin account, and (when the
// environment signals it) a sample platform backend service, domain root,
// and read-only test token. Grounded on the teacher's own startup-wiring
// idiom in cmd/server/main.go (compile-time construction, no reflection)
// generalized from "build handlers" to "seed rows".
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend/netcup"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/backend/powerdns"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/config"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/secret"
	"github.com/volkb79-2/netcup-api-filter-sub002/internal/store"
)

// Sample, when non-nil, signals that a sample platform backend service,
// public domain root, and read-only test token should be seeded alongside
// the admin account (spec §4.9: "if the environment signals so").
type Sample struct {
	RootDomain         string
	NetcupCustomerNo   string
	NetcupAPIKey       string
	NetcupAPIPassword  string
}

// Run performs the bootstrap sequence against st, idempotently: if an
// admin account already exists, seeding is skipped entirely (spec §4.9,
// §8 "idempotent bootstrap"). Schema migrations must already have been
// applied by the caller before Run is invoked.
func Run(ctx context.Context, st store.Store, registry *backend.Registry, secrets *secret.Engine, cfg *config.Config, sample *Sample, logger *zap.SugaredLogger) error {
	done, err := st.IsBootstrapped(ctx)
	if err != nil {
		return fmt.Errorf("check bootstrap state: %w", err)
	}
	if done {
		logger.Info("bootstrap: admin account already present, skipping seed")
		return nil
	}

	if err := seedProviders(ctx, st, registry); err != nil {
		return fmt.Errorf("seed providers: %w", err)
	}

	admin, err := seedAdmin(ctx, st, secrets, cfg)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Infow("bootstrap: admin account created", "username", admin.Username)

	if sample != nil {
		if err := seedSample(ctx, st, registry, secrets, admin, sample); err != nil {
			return fmt.Errorf("seed sample domain root: %w", err)
		}
		logger.Infow("bootstrap: sample backend service, domain root, and test token created", "root_domain", sample.RootDomain)
	}

	return nil
}

// seedProviders installs the built-in provider registry rows (netcup,
// powerdns) with their config schemas, mirroring the compiled-in schema
// objects each provider package exports.
func seedProviders(ctx context.Context, st store.Store, registry *backend.Registry) error {
	schemas := map[string]*backend.Schema{
		"netcup":   netcup.Schema,
		"powerdns": powerdns.Schema,
	}
	displayNames := map[string]string{
		"netcup":   "Netcup DNS",
		"powerdns": "PowerDNS",
	}
	capabilities := map[string]model.BackendProvider{
		"netcup":   {ZoneList: false, ZoneCreate: false, DNSSEC: false, RecordTypes: []string{"A", "AAAA", "CNAME", "MX", "TXT", "NS", "SRV", "CAA"}},
		"powerdns": {ZoneList: true, ZoneCreate: true, DNSSEC: true, RecordTypes: []string{"A", "AAAA", "CNAME", "MX", "TXT", "NS", "SRV", "CAA", "PTR"}},
	}
	for code, schema := range schemas {
		schemaJSON, err := schemaToJSON(schema)
		if err != nil {
			return err
		}
		caps := capabilities[code]
		p := &model.BackendProvider{
			ProviderCode: code,
			DisplayName:  displayNames[code],
			ConfigSchema: schemaJSON,
			ZoneList:     caps.ZoneList,
			ZoneCreate:   caps.ZoneCreate,
			DNSSEC:       caps.DNSSEC,
			RecordTypes:  caps.RecordTypes,
			IsEnabled:    true,
		}
		if err := st.UpsertProvider(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func schemaToJSON(schema *backend.Schema) (json.RawMessage, error) {
	type fieldDoc struct {
		Name     string `json:"name"`
		Kind     string `json:"kind"`
		Required bool   `json:"required"`
	}
	docs := make([]fieldDoc, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		docs = append(docs, fieldDoc{Name: f.Name, Kind: string(f.Kind), Required: f.Required})
	}
	return json.Marshal(docs)
}

// seedAdmin creates the default admin account from ADMIN_USERNAME /
// ADMIN_PASSWORD, with must_change_password=true per spec §4.9.
func seedAdmin(ctx context.Context, st store.Store, secrets *secret.Engine, cfg *config.Config) (*model.Account, error) {
	hash, err := secrets.HashPassword(cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	a := &model.Account{
		Username:           cfg.AdminUsername,
		Email:              cfg.AdminUsername + "@localhost",
		PasswordHash:       hash,
		MustChangePassword: true,
		IsAdmin:            true,
	}
	return st.CreateAccount(ctx, a)
}

// seedSample creates one platform backend service, one public domain root
// under it, and one read-only test token, when the environment names a
// sample root domain and Netcup credentials (spec §4.9).
func seedSample(ctx context.Context, st store.Store, registry *backend.Registry, secrets *secret.Engine, admin *model.Account, sample *Sample) error {
	cfgJSON, err := json.Marshal(netcup.Config{
		CustomerNumber: sample.NetcupCustomerNo,
		APIKey:         sample.NetcupAPIKey,
		APIPassword:    sample.NetcupAPIPassword,
	})
	if err != nil {
		return err
	}
	if errs := netcup.Schema.Validate(cfgJSON); len(errs) > 0 {
		return fmt.Errorf("sample backend config invalid: %v", errs)
	}
	provider, err := st.GetProviderByCode(ctx, "netcup")
	if err != nil {
		return fmt.Errorf("look up netcup provider row: %w", err)
	}

	svc, err := st.CreateBackendService(ctx, &model.BackendService{
		ProviderID:  provider.ID,
		ServiceName: "sample-netcup",
		OwnerType:   model.OwnerPlatform,
		Config:      cfgJSON,
	}, admin.Username)
	if err != nil {
		return err
	}

	root, err := st.CreateDomainRoot(ctx, &model.ManagedDomainRoot{
		BackendServiceID:   svc.ID,
		RootDomain:         sample.RootDomain,
		DNSZone:            sample.RootDomain,
		Visibility:         model.VisibilityPublic,
		AllowApexAccess:    false,
		MinSubdomainDepth:  1,
		MaxSubdomainDepth:  2,
		AllowedRecordTypes: []string{"A", "AAAA", "CNAME", "TXT"},
		AllowedOperations:  []string{"read", "create", "update", "delete"},
	}, admin.Username)
	if err != nil {
		return err
	}

	realm, err := st.ClaimPlatformRealm(ctx, root.ID, "sample", &model.Realm{
		AccountID:    admin.ID,
		RealmValue:   "sample",
		DomainRootID: &root.ID,
	}, admin.Username)
	if err != nil {
		return err
	}

	gen, err := secrets.GenerateToken()
	if err != nil {
		return err
	}
	_, err = st.CreateToken(ctx, &model.Token{
		TokenPrefix: gen.Prefix,
		TokenHash:   gen.Hash,
		RealmID:     realm.ID,
		RecordTypes: []string{"A", "AAAA"},
		Operations:  []string{"read"},
	}, admin.Username)
	return err
}
