// Package backend implements the provider-agnostic DNS backend
// abstraction (C3): the DNSBackend interface, a process-wide registry of
// provider factories, and config-schema validation applied before any
// provider instance is constructed.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/volkb79-2/netcup-api-filter-sub002/internal/model"
)

// DNSBackend is the interface every provider implements. Records are
// normalized to model.DNSRecord; providers translate to/from their
// upstream's native shape.
type DNSBackend interface {
	TestConnection(ctx context.Context) (ok bool, message string)
	ListZones(ctx context.Context) ([]string, error)
	ValidateZoneAccess(ctx context.Context, zone string) (ok bool, reason string, err error)
	ListRecords(ctx context.Context, zone string) ([]model.DNSRecord, error)
	GetRecord(ctx context.Context, zone, id string) (*model.DNSRecord, error)
	CreateRecord(ctx context.Context, zone string, rec model.DNSRecord) (*model.DNSRecord, error)
	UpdateRecord(ctx context.Context, zone, id string, rec model.DNSRecord) (*model.DNSRecord, error)
	DeleteRecord(ctx context.Context, zone, id string) error
	GetZoneInfo(ctx context.Context, zone string) (*model.ZoneInfo, error)
}

// Factory builds a DNSBackend from a validated, provider-specific config.
type Factory func(config []byte) (DNSBackend, error)

// Registry is the process-wide table of provider code -> factory + schema,
// populated at startup from compiled-in providers (spec §4.3: "a small
// sealed set... no inheritance beyond interface conformance").
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	schemas    map[string]*Schema
	enabled    map[string]bool
}

// NewRegistry returns an empty registry; callers Register built-ins at
// startup.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		schemas:   make(map[string]*Schema),
		enabled:   make(map[string]bool),
	}
}

// Register adds a provider implementation under code, with its config
// schema and whether it is enabled (from PROVIDER_<CODE>_ENABLED).
func (r *Registry) Register(code string, schema *Schema, factory Factory, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[code] = factory
	r.schemas[code] = schema
	r.enabled[code] = enabled
}

// Build validates config against the provider's schema then constructs a
// DNSBackend instance. Fails fast with a config_invalid-flavored error
// (callers map ValidationErrors to apierr.KindConfigInvalid).
func (r *Registry) Build(code string, config []byte) (DNSBackend, error) {
	r.mu.RLock()
	factory, ok := r.factories[code]
	schema := r.schemas[code]
	enabled := r.enabled[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", code)
	}
	if !enabled {
		return nil, fmt.Errorf("provider %q is disabled", code)
	}
	if schema != nil {
		if errs := schema.Validate(config); len(errs) > 0 {
			return nil, errs
		}
	}
	return factory(config)
}

// Codes returns every registered provider code.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for code := range r.factories {
		out = append(out, code)
	}
	return out
}

// IsEnabled reports whether code is enabled in this registry.
func (r *Registry) IsEnabled(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[code]
}
