// internal/routing/router.go
//
// Connection router: tenant, org, and explicit-org resolution.
//
// Context
// -------
// Callers never build connections.  They ask the Router for one of four
// things and get back a cached *connpool.Conn:
//
//   - Tenant(ctx)       – app-level database of the context tenant.
//   - Root(ctx)         – the tenant's root company database.
//   - Current(ctx)      – the ambient (branch) org database.
//   - Org(ctx, orgID)   – one explicit org shard.
//
// Tenant lookups keep a second cache, tenant code → Target, so the DSN is
// looked up once per tenant per process.  It is single-flight per code in
// the same way the pool cache is single-flight per fingerprint.  Cached
// targets hold password references, never secrets; connpool resolves them
// on each pool open.  Org lookups always ask OrgRouting, which knows the
// org hierarchy.
//
// Notes
// -----
//   - Empty or blank org ids fail with ErrInvalidOrgID before any lookup.
//   - Org(ctx, id) fails with dsn.ErrForeignOrg when a tenant is in scope
//     and does not own the org.
//   - Reset clears the tenant cache for tests; pools stay in connpool.
//   - Oxford commas, two spaces after periods.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantdb/internal/connpool"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/metrics"
)

var (
	// ErrInvalidOrgID is returned for an empty or blank explicit org id.
	ErrInvalidOrgID = errors.New("routing: org id is required")

	// ErrNoTenant is returned when no tenant code is in scope.
	ErrNoTenant = errors.New("routing: no tenant in scope")
)

// TenantResolver supplies the current tenant code; "" means no tenant.
type TenantResolver interface {
	CurrentTenantCode(ctx context.Context) string
}

// DsnResolver maps a tenant code to its app-level database.
type DsnResolver interface {
	TenantTarget(ctx context.Context, code string) (dsn.Target, error)
}

// OrgRouting knows the org hierarchy.  *dsn.Directory and *dsn.Static
// satisfy it.
type OrgRouting interface {
	CurrentTenantConnection(ctx context.Context) (dsn.Target, error)
	CurrentConnection(ctx context.Context) (dsn.Target, error)
	ConnectionFor(ctx context.Context, orgID string) (dsn.Target, error)
}

// Router resolves routing requests into pooled connections.
type Router struct {
	pool    *connpool.Cache
	tenants TenantResolver
	dsns    DsnResolver
	orgs    OrgRouting
	log     *zap.Logger

	sfg     singleflight.Group
	targets sync.Map // tenant code → dsn.Target
}

// New wires a Router.  log may be nil.
func New(pool *connpool.Cache, tenants TenantResolver, dsns DsnResolver, orgs OrgRouting, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{pool: pool, tenants: tenants, dsns: dsns, orgs: orgs, log: log}
}

// Tenant returns the app-level connection of the context tenant.
func (r *Router) Tenant(ctx context.Context) (*connpool.Conn, error) {
	code := r.tenants.CurrentTenantCode(ctx)
	if code == "" {
		metrics.RouteErrorsTotal.WithLabelValues("tenant").Inc()
		return nil, ErrNoTenant
	}

	t, err := r.tenantTarget(ctx, code)
	if err != nil {
		metrics.RouteErrorsTotal.WithLabelValues("tenant").Inc()
		return nil, err
	}
	return r.pool.Get(ctx, t)
}

func (r *Router) tenantTarget(ctx context.Context, code string) (dsn.Target, error) {
	if v, ok := r.targets.Load(code); ok {
		return v.(dsn.Target), nil
	}
	v, err, _ := r.sfg.Do(code, func() (interface{}, error) {
		if v, ok := r.targets.Load(code); ok {
			return v.(dsn.Target), nil
		}
		t, err := r.dsns.TenantTarget(context.WithoutCancel(ctx), code)
		if err != nil {
			r.log.Warn("tenant dsn resolution failed",
				zap.String("tenant", code), zap.Error(err))
			return nil, fmt.Errorf("tenant %q: %w", code, err)
		}
		r.targets.Store(code, t)
		return t, nil
	})
	if err != nil {
		return dsn.Target{}, err
	}
	return v.(dsn.Target), nil
}

// Root returns the tenant's root company connection.
func (r *Router) Root(ctx context.Context) (*connpool.Conn, error) {
	return r.resolve(ctx, "root", r.orgs.CurrentTenantConnection)
}

// Current returns the ambient org connection.
func (r *Router) Current(ctx context.Context) (*connpool.Conn, error) {
	return r.resolve(ctx, "current", r.orgs.CurrentConnection)
}

// Org returns the shard of an explicit org.
func (r *Router) Org(ctx context.Context, orgID string) (*connpool.Conn, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, ErrInvalidOrgID
	}
	return r.resolve(ctx, "org", func(ctx context.Context) (dsn.Target, error) {
		return r.orgs.ConnectionFor(ctx, orgID)
	})
}

func (r *Router) resolve(ctx context.Context, mode string, lookup func(context.Context) (dsn.Target, error)) (*connpool.Conn, error) {
	t, err := lookup(ctx)
	if err != nil {
		metrics.RouteErrorsTotal.WithLabelValues(mode).Inc()
		r.log.Warn("org routing failed", zap.String("mode", mode), zap.Error(err))
		return nil, err
	}
	return r.pool.Get(ctx, t)
}

// Reset forgets every cached tenant target.
func (r *Router) Reset() {
	r.targets.Range(func(k, _ any) bool {
		r.targets.Delete(k)
		return true
	})
}
