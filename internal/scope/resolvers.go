package scope

import (
	"context"

	"github.com/yanizio/tenantdb/internal/entity"
)

// Tenants resolves the current tenant code from the request context.
type Tenants struct{}

// CurrentTenantCode never fails; it returns "" when unresolved.
func (Tenants) CurrentTenantCode(ctx context.Context) string { return TenantCode(ctx) }

// Sessions exposes the context actor as an entity.Session.
type Sessions struct{}

// CurrentUserSession returns false outside an authenticated context.
func (Sessions) CurrentUserSession(ctx context.Context) (entity.Session, bool) {
	id, ok := UserID(ctx)
	if !ok {
		return entity.Session{}, false
	}
	return entity.Session{UserID: id}, true
}
