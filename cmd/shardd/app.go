package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/connpool"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/entity"
	"github.com/yanizio/tenantdb/internal/persist"
	"github.com/yanizio/tenantdb/internal/routing"
	"github.com/yanizio/tenantdb/internal/schema"
	"github.com/yanizio/tenantdb/internal/scope"
	"github.com/yanizio/tenantdb/internal/server"
	"github.com/yanizio/tenantdb/internal/vault"
)

// secretTTL bounds how long a resolved vault password is reused.
const secretTTL = 5 * time.Minute

// app owns every long-lived handle the daemon opens.
type app struct {
	log     *zap.Logger
	control *sqlx.DB // nil with static routes
	refDB   *sqlx.DB // nil without a schema reference
	pool    *connpool.Cache
	router  *routing.Router
	store   *persist.Store
	ping    server.Pinger
}

type routes interface {
	routing.DsnResolver
	routing.OrgRouting
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log}

	// A nil client still passes inline passwords through and rejects
	// vault: references with vault.ErrDisabled.
	var secrets *vault.Client
	if os.Getenv("VAULT_ADDR") != "" {
		cli, err := vault.New(ctx, log, secretTTL)
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		secrets = cli
	}

	var dir routes
	if cfg.UsesControlPlane() {
		db, err := database.Open(cfg.Database.ControlDSN)
		if err != nil {
			return nil, fmt.Errorf("control plane: %w", err)
		}
		a.control = db
		a.ping = db.PingContext
		dir = dsn.NewDirectory(db, scope.Tenants{})
	} else {
		dir = dsn.NewStatic(cfg.Tenants, cfg.Orgs)
	}

	var schemas entity.SchemaSource
	if ref := cfg.Schema.ReferenceDSN; ref != "" {
		db, err := database.Open(ref)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("schema reference: %w", err)
		}
		a.refDB = db
		schemas = schema.NewInspector(db, cfg.Schema.Capacity)
	}

	a.pool = connpool.New(connpool.MySQLOpener(cfg.DatabaseOptions(), secrets), cfg.PoolOptions())
	a.router = routing.New(a.pool, scope.Tenants{}, dir, dir, log)
	a.store = persist.New(a.router,
		entity.NewLifecycle(schemas, scope.Sessions{}),
		persist.Options{TxTimeout: cfg.Write.TxTimeout, Logger: log})
	return a, nil
}

// warm opens the listed tenants' root pools.  Failures are logged; the
// tenant is retried on first use.
func (a *app) warm(ctx context.Context, codes []string) {
	for _, code := range codes {
		conn, err := a.router.Tenant(scope.WithTenant(ctx, code))
		if err != nil {
			a.log.Warn("tenant warm-up failed", zap.String("tenant", code), zap.Error(err))
			continue
		}
		a.log.Info("tenant warmed",
			zap.String("tenant", code),
			zap.String("target", conn.Target.String()))
	}
}

// Close releases every pool.  Safe on a partially built app.
func (a *app) Close() error {
	var errs *multierror.Error
	if a.pool != nil {
		errs = multierror.Append(errs, a.pool.Close())
	}
	for _, db := range []*sqlx.DB{a.control, a.refDB} {
		if db != nil {
			errs = multierror.Append(errs, db.Close())
		}
	}
	return errs.ErrorOrNil()
}
