// internal/config/model.go
//
// Typed configuration model for tenantdb.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   - optional `.env`                            dotenv values,
//   - `conf/tenantdb.yaml`                       primary static file,
//   - `TENANTDB_`-prefixed environment overrides highest precedence.
//
// Passwords may hold `vault:<mount/path>#<key>` references.  They are kept
// verbatim here and through routing.  The pool opener resolves them each
// time it dials, so rotated credentials are picked up on the next pool
// open.  With `fingerprint: credentials` pools are keyed by the reference,
// not the secret behind it.
//
// Notes
// -----
//   - Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   - The `Paths` block is filled at runtime; YAML must not try to set it.
//   - Oxford commas, two spaces after periods.  No em-dash.

package config

import (
	"time"

	"github.com/yanizio/tenantdb/internal/dsn"
)

//
// HTTP section
//

// HTTP holds the ops listener.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Database section
//

// Database points at the control plane that stores tenant and org DSN
// rows.  Leave it empty to route from the static `tenants` and `orgs`
// sections instead.
type Database struct {
	ControlDSN string `koanf:"control_dsn"`
}

//
// Pool section
//

// Pool tunes the shared connection cache and every *sqlx.DB it opens.
type Pool struct {
	Fingerprint     string        `koanf:"fingerprint"       validate:"omitempty,oneof=host_db credentials"`
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ReplicaTimeout  time.Duration `koanf:"replica_timeout"`
	IdleTTL         time.Duration `koanf:"idle_ttl"`
	MaxEntries      int           `koanf:"max_entries"       validate:"gte=0"`
	EvictInterval   time.Duration `koanf:"evict_interval"`
	EvictGrace      time.Duration `koanf:"evict_grace"`

	// WarmTenants are opened at startup so the first request skips the
	// connect cost.
	WarmTenants []string `koanf:"warm_tenants"`
}

//
// Schema section
//

// Schema points the column inspector at a reference database whose tables
// match every shard.  Without it, descriptors must declare their columns.
type Schema struct {
	ReferenceDSN string `koanf:"reference_dsn"`
	Capacity     int    `koanf:"capacity" validate:"gte=0"`
}

//
// Write section
//

// Write bounds transactional writes.
type Write struct {
	TxTimeout time.Duration `koanf:"tx_timeout"`
}

//
// Log section
//

// Log selects the minimum level and the console tee.
type Log struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Tee   bool   `koanf:"tee"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // TENANTDB_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads.
type Config struct {
	HTTP     HTTP                     `koanf:"http"`
	Database Database                 `koanf:"database"`
	Pool     Pool                     `koanf:"pool"`
	Write    Write                    `koanf:"write"`
	Schema   Schema                   `koanf:"schema"`
	Log      Log                      `koanf:"log"`
	Tenants  map[string]dsn.Target    `koanf:"tenants" validate:"dive"`
	Orgs     map[string]dsn.OrgTarget `koanf:"orgs"    validate:"dive"`
	Paths    Paths                    `koanf:"-"`
}

// UsesControlPlane reports whether routing reads DSN rows from a database.
func (c *Config) UsesControlPlane() bool { return c.Database.ControlDSN != "" }
