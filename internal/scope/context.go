// internal/scope/context.go
//
// Request-scoped ambient values: tenant code, org id, and actor id.
//
// Context
// -------
// Every routing decision and every audit stamp depends on "who is calling,
// for which tenant, inside which org".  Those values ride on the request's
// context.Context instead of package globals so concurrent requests for
// different tenants never observe each other's state.
//
// Usage
// -----
//
//	ctx = scope.WithTenant(ctx, "T1")
//	ctx = scope.WithOrg(ctx, "org-7")
//	ctx = scope.WithUser(ctx, "u-42")
//
//	code := scope.TenantCode(ctx)     // "T1"
//	id, ok := scope.UserID(ctx)       // "u-42", true
//
// Notes
// -----
// • Keys are unexported struct types to avoid context-key collisions.
// • Oxford commas, two spaces after periods.
package scope

import "context"

type (
	tenantKey struct{}
	orgKey    struct{}
	userKey   struct{}
)

// WithTenant returns a context carrying the tenant code.
func WithTenant(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, tenantKey{}, code)
}

// TenantCode returns the tenant code, or "" when none was attached.
func TenantCode(ctx context.Context) string {
	code, _ := ctx.Value(tenantKey{}).(string)
	return code
}

// WithOrg returns a context carrying the current org id.
func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey{}, orgID)
}

// OrgID returns the current org id, or "" when none was attached.
func OrgID(ctx context.Context) string {
	id, _ := ctx.Value(orgKey{}).(string)
	return id
}

// WithUser returns a context carrying the acting user's id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID extracts the actor id.  It returns ("", false) outside an
// authenticated request.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
