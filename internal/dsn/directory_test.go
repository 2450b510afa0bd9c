// internal/dsn/directory_test.go
//
// Unit-tests for the control-plane Directory and the config-backed Static
// table, using sqlmock for every query.

package dsn

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantdb/internal/scope"
)

// fakeSecrets resolves "vault:" references from a map.
type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(_ context.Context, v string) (string, error) {
	if !strings.HasPrefix(v, "vault:") {
		return v, nil
	}
	pw, ok := f[v]
	if !ok {
		return "", errors.New("missing secret")
	}
	return pw, nil
}

var (
	dsnCols = []string{"host", "dbname", "uid", "pwd", "readonly_host"}
	orgCols = append(append([]string{}, dsnCols...), "tenant_code")
)

func newDirectory(t *testing.T) (*Directory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDirectory(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func TestDirectoryTenantTarget(t *testing.T) {
	d, mock := newDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenant_dsn WHERE tenant_code = ?`)).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows(dsnCols).
			AddRow("h1", "d1", "app", "vault:kv/tenants/T1#pwd", "h1-ro"))

	got, err := d.TenantTarget(context.Background(), "T1")
	if err != nil {
		t.Fatalf("TenantTarget: %v", err)
	}
	// The reference survives lookup; pools resolve it when they dial.
	want := Target{Host: "h1", DBName: "d1", Username: "app", Password: "vault:kv/tenants/T1#pwd", ReadonlyHost: "h1-ro"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestDirectoryMissingTenant(t *testing.T) {
	d, mock := newDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenant_dsn`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(dsnCols))

	_, err := d.TenantTarget(context.Background(), "nope")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("want ErrRouteNotFound, got %v", err)
	}
}

func TestDirectoryCurrentConnectionUsesScope(t *testing.T) {
	d, mock := newDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM org_dsn WHERE org_id = ?`)).
		WithArgs("org-7").
		WillReturnRows(sqlmock.NewRows(orgCols).AddRow("h7", "d7", "u", "p", nil, "T1"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tenant_dsn`)).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows(dsnCols).AddRow("h1", "d1", "u", "p", nil))

	ctx := scope.WithTenant(context.Background(), "T1")

	org, err := d.CurrentConnection(scope.WithOrg(ctx, "org-7"))
	if err != nil || org.Host != "h7" || org.HasReplica() {
		t.Fatalf("org route = %+v, %v", org, err)
	}
	root, err := d.CurrentConnection(ctx)
	if err != nil || root.Host != "h1" {
		t.Fatalf("root fallback = %+v, %v", root, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestDirectoryRejectsIncompleteRow(t *testing.T) {
	d, mock := newDirectory(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM org_dsn`)).
		WillReturnRows(sqlmock.NewRows(orgCols).AddRow("", "d", "u", "p", nil, "T1"))

	if _, err := d.ConnectionFor(context.Background(), "org-1"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("want ErrInvalidTarget, got %v", err)
	}
}

func TestDirectoryRefusesOrgOfAnotherTenant(t *testing.T) {
	d, mock := newDirectory(t)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM org_dsn WHERE org_id = ?`)).
			WithArgs("org-9").
			WillReturnRows(sqlmock.NewRows(orgCols).AddRow("h9", "d9", "u", "p", nil, "T2"))
	}

	ctx := scope.WithTenant(context.Background(), "T1")
	if _, err := d.ConnectionFor(ctx, "org-9"); !errors.Is(err, ErrForeignOrg) {
		t.Fatalf("want ErrForeignOrg, got %v", err)
	}

	// Maintenance callers carry no tenant and may reach any org.
	got, err := d.ConnectionFor(context.Background(), "org-9")
	if err != nil || got.Host != "h9" {
		t.Fatalf("unscoped lookup = %+v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestTargetResolved(t *testing.T) {
	ref := Target{Host: "h1", DBName: "d1", Password: "vault:kv/T1#pwd"}
	secrets := fakeSecrets{"vault:kv/T1#pwd": "s3cret"}

	got, err := ref.Resolved(context.Background(), secrets)
	if err != nil || got.Password != "s3cret" {
		t.Fatalf("Resolved = %+v, %v", got, err)
	}
	if ref.Password != "vault:kv/T1#pwd" {
		t.Fatalf("receiver mutated: %q", ref.Password)
	}

	plain, err := ref.Resolved(context.Background(), nil)
	if err != nil || plain != ref {
		t.Fatalf("nil secrets = %+v, %v", plain, err)
	}

	missing := Target{Host: "h1", DBName: "d1", Password: "vault:kv/gone#pwd"}
	if _, err := missing.Resolved(context.Background(), secrets); err == nil {
		t.Fatal("want error for unknown reference")
	}
}

func TestStaticRouting(t *testing.T) {
	s := NewStatic(
		map[string]Target{"T1": {Host: "h1", DBName: "d1", Password: "vault:kv/T1#pwd"}},
		map[string]OrgTarget{
			"org-7": {Tenant: "T1", Target: Target{Host: "h7", DBName: "d7"}},
			"org-9": {Tenant: "T2", Target: Target{Host: "h9", DBName: "d9"}},
		},
	)
	ctx := scope.WithTenant(context.Background(), "T1")

	root, err := s.CurrentTenantConnection(ctx)
	if err != nil || root.Password != "vault:kv/T1#pwd" {
		t.Fatalf("root = %+v, %v", root, err)
	}
	org, err := s.CurrentConnection(scope.WithOrg(ctx, "org-7"))
	if err != nil || org.DBName != "d7" {
		t.Fatalf("org = %+v, %v", org, err)
	}
	if _, err := s.ConnectionFor(ctx, "org-404"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("want ErrRouteNotFound, got %v", err)
	}
	if _, err := s.CurrentConnection(scope.WithOrg(ctx, "org-9")); !errors.Is(err, ErrForeignOrg) {
		t.Fatalf("want ErrForeignOrg, got %v", err)
	}
}
