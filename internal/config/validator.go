// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` immediately after it unmarshals the merged
// Koanf tree.  Any tag mismatch or validation error aborts startup, so the
// daemon never routes with partial or malformed configuration.
//
// Besides tag rules, one cross-field rule lives here: without a control
// plane the static `tenants` section must name at least one tenant, and
// every static org must point at a tenant that exists.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var v = validator.New()

// ErrNoRoutes is returned when neither a control plane nor static tenants
// are configured.
var ErrNoRoutes = errors.New("config: database.control_dsn or tenants is required")

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.UsesControlPlane() {
		return nil
	}
	if len(c.Tenants) == 0 {
		return ErrNoRoutes
	}
	for id, o := range c.Orgs {
		if _, ok := c.Tenants[o.Tenant]; !ok {
			return fmt.Errorf("config: org %q names unknown tenant %q", id, o.Tenant)
		}
	}
	return nil
}
