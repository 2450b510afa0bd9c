// internal/server/routes.go
//
// Ops HTTP surface for shardd.
//
// Context
// -------
//
//	GET /metrics             Prometheus exposition (promhttp)
//	GET /healthz             200 when the control plane answers a ping
//	GET /debug/connections   JSON snapshot of the shared connection cache
//	GET /debug/route         where a write would land for a given scope
//
// The snapshot lists fingerprint, host, dbname, and replica presence for
// each live pool.  Credentials never leave connpool.
//
// /debug/route takes `tenant`, `org` (explicit org), `current_org` (the
// ambient org), `scope=tenant`, and `level=root`, and answers with the
// same fields as one snapshot entry.  It opens the pool when it is not
// cached yet, exactly as the write would.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/connpool"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/entity"
	"github.com/yanizio/tenantdb/internal/middleware"
	"github.com/yanizio/tenantdb/internal/routing"
	"github.com/yanizio/tenantdb/internal/scope"
)

// Pool is the read-only view of the connection cache.
type Pool interface {
	Snapshot() []connpool.Stat
}

// Locator resolves the connection a descriptor routes to.  *persist.Store
// satisfies it.
type Locator interface {
	DB(ctx context.Context, d *entity.Descriptor, orgID string) (*connpool.Conn, error)
}

// Pinger checks a dependency; nil means healthy.
type Pinger func(ctx context.Context) error

const pingTimeout = 2 * time.Second

// Routes builds the ops router.  ping may be nil when there is no control
// plane to check, and loc may be nil to leave /debug/route unmounted.
func Routes(pool Pool, loc Locator, ping Pinger, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Security)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthz(ping, log))
	r.Get("/debug/connections", connections(pool, log))
	if loc != nil {
		r.Get("/debug/route", route(loc, log))
	}
	return r
}

func healthz(ping Pinger, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.Warn("health check failed", zap.Error(err))
				http.Error(w, "control plane unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}
}

type connectionsBody struct {
	Count       int             `json:"count"`
	Connections []connpool.Stat `json:"connections"`
}

func connections(pool Pool, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := pool.Snapshot()
		if stats == nil {
			stats = []connpool.Stat{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(connectionsBody{Count: len(stats), Connections: stats}); err != nil {
			log.Warn("encode connection snapshot", zap.Error(err))
		}
	}
}

func route(loc Locator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ctx := r.Context()
		if code := q.Get("tenant"); code != "" {
			ctx = scope.WithTenant(ctx, code)
		}
		if org := q.Get("current_org"); org != "" {
			ctx = scope.WithOrg(ctx, org)
		}

		d := &entity.Descriptor{}
		if q.Get("scope") == "tenant" {
			d.Scope = entity.ScopeTenant
		}
		if q.Get("level") == "root" {
			d.Level = entity.LevelRoot
		}

		conn, err := loc.DB(ctx, d, q.Get("org"))
		if err != nil {
			log.Debug("route lookup failed", zap.Error(err))
			http.Error(w, err.Error(), routeStatus(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		stat := connpool.Stat{
			Fingerprint: conn.Fingerprint,
			Host:        conn.Target.Host,
			DBName:      conn.Target.DBName,
			Replica:     conn.Replica != nil,
		}
		if err := json.NewEncoder(w).Encode(stat); err != nil {
			log.Warn("encode route", zap.Error(err))
		}
	}
}

// routeStatus maps routing failures onto HTTP status codes.
func routeStatus(err error) int {
	switch {
	case errors.Is(err, routing.ErrNoTenant), errors.Is(err, routing.ErrInvalidOrgID):
		return http.StatusBadRequest
	case errors.Is(err, dsn.ErrForeignOrg):
		return http.StatusForbidden
	case errors.Is(err, dsn.ErrRouteNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
