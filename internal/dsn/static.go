// internal/dsn/static.go
//
// Config-backed routing table.
//
// Context
// -------
// Development stacks and tests rarely run a control-plane database.  Static
// answers the same questions as Directory from two in-memory maps that the
// daemon fills from the `tenants` and `orgs` config sections.
package dsn

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanizio/tenantdb/internal/scope"
)

// OrgTarget is a Target bound to the tenant that owns the org.
type OrgTarget struct {
	Tenant string `koanf:"tenant" validate:"required"`
	Target `koanf:",squash"`
}

// Static resolves tenants and orgs from fixed maps.  Safe for concurrent use
// because the maps are never written after construction.
type Static struct {
	tenants map[string]Target
	orgs    map[string]OrgTarget
	codes   CodeResolver
}

// NewStatic copies the maps.
func NewStatic(tenants map[string]Target, orgs map[string]OrgTarget) *Static {
	s := &Static{
		tenants: make(map[string]Target, len(tenants)),
		orgs:    make(map[string]OrgTarget, len(orgs)),
		codes:   scope.Tenants{},
	}
	for k, v := range tenants {
		s.tenants[k] = v
	}
	for k, v := range orgs {
		s.orgs[k] = v
	}
	return s
}

// TenantTarget returns the root target of tenant code.
func (s *Static) TenantTarget(ctx context.Context, code string) (Target, error) {
	t, ok := s.tenants[code]
	if !ok {
		return Target{}, fmt.Errorf("tenant %q: %w", code, ErrRouteNotFound)
	}
	return finish(t)
}

// CurrentTenantConnection resolves the root target of the context tenant.
func (s *Static) CurrentTenantConnection(ctx context.Context) (Target, error) {
	return s.TenantTarget(ctx, s.codes.CurrentTenantCode(ctx))
}

// CurrentConnection resolves the context org, or the tenant root when the
// request carries no org.
func (s *Static) CurrentConnection(ctx context.Context) (Target, error) {
	if org := scope.OrgID(ctx); org != "" {
		return s.ConnectionFor(ctx, org)
	}
	return s.CurrentTenantConnection(ctx)
}

// ConnectionFor resolves one org shard.
func (s *Static) ConnectionFor(ctx context.Context, orgID string) (Target, error) {
	o, ok := s.orgs[strings.TrimSpace(orgID)]
	if !ok {
		return Target{}, fmt.Errorf("org %q: %w", orgID, ErrRouteNotFound)
	}
	if err := owned(ctx, s.codes, orgID, o.Tenant); err != nil {
		return Target{}, err
	}
	return finish(o.Target)
}
