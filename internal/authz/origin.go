// Package authz implements the realm/domain-root resolver (C4) and the
// permission engine (C5): origin matching, zone containment, and the
// allow/deny decision function.
package authz

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// originCacheTTL is the DNS-resolution cache lifetime for hostname origin
// entries (spec §4.5: "resolved once per entry per 5 minutes and cached").
const originCacheTTL = 5 * time.Minute

// resolveFunc matches net.LookupIP's shape; overridable in tests.
type resolveFunc func(host string) ([]net.IP, error)

// OriginMatcher evaluates a token's allowed_origins list against a caller's
// source IP. It owns a small per-hostname-entry cache of resolved
// addresses, refreshed lazily on expiry.
type OriginMatcher struct {
	resolve resolveFunc
	mu      sync.Mutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	ips       []net.IP
	expiresAt time.Time
}

// NewOriginMatcher builds a matcher using the standard resolver.
func NewOriginMatcher() *OriginMatcher {
	return &OriginMatcher{
		resolve: func(host string) ([]net.IP, error) { return net.LookupIP(host) },
		cache:   make(map[string]cacheEntry),
	}
}

// Allowed reports whether sourceIP satisfies at least one entry in origins.
// An empty list means "no origin restriction" (spec §4.5).
func (m *OriginMatcher) Allowed(origins []string, sourceIP string) bool {
	if len(origins) == 0 {
		return true
	}
	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return false
	}
	for _, entry := range origins {
		if m.matchEntry(entry, ip, sourceIP) {
			return true
		}
	}
	return false
}

func (m *OriginMatcher) matchEntry(entry string, ip net.IP, sourceIP string) bool {
	if _, cidr, err := net.ParseCIDR(entry); err == nil {
		return cidr.Contains(ip)
	}
	if strings.Contains(entry, "*") {
		return m.matchWildcardHostname(entry, ip)
	}
	return m.matchExactHostname(entry, ip)
}

// matchExactHostname resolves entry forward and checks whether its
// resolved set contains ip (spec §4.5: "exact match against the resolved
// set grants access").
func (m *OriginMatcher) matchExactHostname(entry string, ip net.IP) bool {
	ips, err := m.resolveCached(entry)
	if err != nil {
		return false
	}
	for _, candidate := range ips {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}

// matchWildcardHostname matches a "*.suffix" entry against the reverse DNS
// of the caller's IP, by label-boundary suffix — not by forward resolution
// (spec §4.5 is explicit about this asymmetry).
func (m *OriginMatcher) matchWildcardHostname(entry string, ip net.IP) bool {
	names, err := net.LookupAddr(ip.String())
	if err != nil || len(names) == 0 {
		return false
	}
	g, err := glob.Compile(entry)
	if err != nil {
		return false
	}
	for _, name := range names {
		name = strings.TrimSuffix(name, ".")
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (m *OriginMatcher) resolveCached(host string) ([]net.IP, error) {
	m.mu.Lock()
	entry, ok := m.cache[host]
	m.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.ips, nil
	}

	ips, err := m.resolve(host)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache[host] = cacheEntry{ips: ips, expiresAt: time.Now().Add(originCacheTTL)}
	m.mu.Unlock()
	return ips, nil
}
