// internal/dsn/directory.go
//
// Control-plane DSN directory.
//
// Context
// -------
// The control-plane database holds one row per tenant root database and
// one row per org shard:
//
//	CREATE TABLE tenant_dsn (
//	    tenant_code   VARCHAR(64)  PRIMARY KEY,
//	    host          VARCHAR(255) NOT NULL,
//	    dbname        VARCHAR(128) NOT NULL,
//	    uid           VARCHAR(128) NOT NULL,
//	    pwd           VARCHAR(512) NOT NULL,
//	    readonly_host VARCHAR(255) NULL,
//	    deleted_at    TIMESTAMP    NULL
//	);
//
//	CREATE TABLE org_dsn (
//	    org_id        CHAR(36)     PRIMARY KEY,
//	    tenant_code   VARCHAR(64)  NOT NULL,
//	    host          VARCHAR(255) NOT NULL,
//	    dbname        VARCHAR(128) NOT NULL,
//	    uid           VARCHAR(128) NOT NULL,
//	    pwd           VARCHAR(512) NOT NULL,
//	    readonly_host VARCHAR(255) NULL,
//	    deleted_at    TIMESTAMP    NULL
//	);
//
// `pwd` may hold a literal password or a `vault:<mount/path>#<key>`
// reference.  References leave this file unresolved; the pool opener
// resolves them each time it dials, so rotated secrets reach new pools.
//
// Workflow
// --------
//  1. Tenant root: TenantTarget(code) → tenant_dsn row.
//  2. Org shard:   ConnectionFor(orgID) → org_dsn row.
//  3. Current:     org id from scope when present, else the tenant root.
//
// Notes
// -----
//   - Missing rows surface as ErrRouteNotFound (a configuration error);
//     nothing here retries.
//   - An org owned by a tenant other than the one in scope is refused with
//     ErrForeignOrg.  Without a tenant in scope any org resolves.
//   - Oxford commas, two spaces after periods.
package dsn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantdb/internal/scope"
)

var (
	// ErrRouteNotFound is returned when no DSN exists for a tenant or org.
	ErrRouteNotFound = errors.New("dsn: no route for key")

	// ErrForeignOrg is returned when an org belongs to another tenant than
	// the one in scope.
	ErrForeignOrg = errors.New("dsn: org belongs to another tenant")
)

// Secrets resolves credential references.  *vault.Client satisfies it.
type Secrets interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// CodeResolver supplies the ambient tenant code.
type CodeResolver interface {
	CurrentTenantCode(ctx context.Context) string
}

// row mirrors the shared columns of tenant_dsn and org_dsn.
type row struct {
	Host         string         `db:"host"`
	DBName       string         `db:"dbname"`
	UID          string         `db:"uid"`
	PWD          string         `db:"pwd"`
	ReadonlyHost sql.NullString `db:"readonly_host"`
}

// orgRow adds the owning tenant to an org_dsn row.
type orgRow struct {
	row
	TenantCode string `db:"tenant_code"`
}

func (r row) target() Target {
	return Target{
		Host:         r.Host,
		DBName:       r.DBName,
		Username:     r.UID,
		Password:     r.PWD,
		ReadonlyHost: r.ReadonlyHost.String,
	}
}

// Directory implements tenant and org routing on the control-plane DB.
type Directory struct {
	db    *sqlx.DB
	codes CodeResolver
}

// NewDirectory wires a Directory.  codes defaults to the request-scope
// tenant resolver.
func NewDirectory(db *sqlx.DB, codes CodeResolver) *Directory {
	if codes == nil {
		codes = scope.Tenants{}
	}
	return &Directory{db: db, codes: codes}
}

// TenantTarget returns the root database of tenant code.
func (d *Directory) TenantTarget(ctx context.Context, code string) (Target, error) {
	const q = `
        SELECT host, dbname, uid, pwd, readonly_host
        FROM   tenant_dsn
        WHERE  tenant_code = ?
          AND  deleted_at IS NULL
        LIMIT  1`
	var r row
	if err := d.db.GetContext(ctx, &r, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Target{}, fmt.Errorf("tenant %q: %w", code, ErrRouteNotFound)
		}
		return Target{}, fmt.Errorf("tenant %q dsn lookup: %w", code, err)
	}
	return finish(r.target())
}

// CurrentTenantConnection resolves the context tenant's root database.
func (d *Directory) CurrentTenantConnection(ctx context.Context) (Target, error) {
	return d.TenantTarget(ctx, d.codes.CurrentTenantCode(ctx))
}

// CurrentConnection resolves the context org shard, falling back to the
// tenant root when no org is attached.
func (d *Directory) CurrentConnection(ctx context.Context) (Target, error) {
	if org := scope.OrgID(ctx); org != "" {
		return d.ConnectionFor(ctx, org)
	}
	return d.CurrentTenantConnection(ctx)
}

// ConnectionFor resolves the shard of one org.
func (d *Directory) ConnectionFor(ctx context.Context, orgID string) (Target, error) {
	const q = `
        SELECT host, dbname, uid, pwd, readonly_host, tenant_code
        FROM   org_dsn
        WHERE  org_id = ?
          AND  deleted_at IS NULL
        LIMIT  1`
	var r orgRow
	if err := d.db.GetContext(ctx, &r, q, strings.TrimSpace(orgID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Target{}, fmt.Errorf("org %q: %w", orgID, ErrRouteNotFound)
		}
		return Target{}, fmt.Errorf("org %q dsn lookup: %w", orgID, err)
	}
	if err := owned(ctx, d.codes, orgID, r.TenantCode); err != nil {
		return Target{}, err
	}
	return finish(r.target())
}

// owned refuses an org whose tenant differs from the tenant in scope.
func owned(ctx context.Context, codes CodeResolver, orgID, tenant string) error {
	cur := codes.CurrentTenantCode(ctx)
	if cur == "" || cur == tenant {
		return nil
	}
	return fmt.Errorf("org %q is owned by %q, not %q: %w", orgID, tenant, cur, ErrForeignOrg)
}

// finish validates a looked-up target.
func finish(t Target) (Target, error) {
	if err := t.Validate(); err != nil {
		return Target{}, fmt.Errorf("%s: %w", t, err)
	}
	return t, nil
}
