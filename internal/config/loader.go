// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/tenantdb.yaml`.
  3. Environment variables prefixed `TENANTDB_`, where `__` maps to “.”
     (e.g., `TENANTDB_POOL__IDLE_TTL → pool.idle_ttl`).

After merging, the tree is unmarshalled into strongly-typed structs,
defaulted, validated, enriched with the runtime root path, and cached in
an `atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG spans: root discovery, YAML read.
  • ERROR spans: YAML parse, env overlay, unmarshal, validation failures.
  • INFO  span:  final “config loaded” with key highlights.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/tenantdb.yaml`;
    this lets `go run ./cmd/shardd` work from any sub-directory.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/connpool"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/dsn"
)

const (
	envPrefix = "TENANTDB_"
	fileName  = "tenantdb.yaml"
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves TENANTDB_ROOT or climbs directories until
// conf/tenantdb.yaml is found.  Falls back to the executable layout.
func rootDir() string {
	if r := os.Getenv(envPrefix + "ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", fileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, validates, and caches Config.
func Load() (*Config, error) {
	return LoadFrom(rootDir())
}

// LoadFrom is Load with an explicit root directory.
func LoadFrom(root string) (*Config, error) {
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", fileName)
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}
	zap.S().Debugw("config yaml loaded", "file", yamlPath)

	// TENANTDB_POOL__IDLE_TTL → pool.idle_ttl
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(strings.ReplaceAll(s, "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	applyDefaults(&cfg)
	cfg.Paths.Root = root
	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"control_plane", cfg.UsesControlPlane(),
		"static_tenants", len(cfg.Tenants),
		"fingerprint", cfg.Pool.Fingerprint,
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// applyDefaults fills zero values that have a sensible non-zero default.
// Idle eviction and the entry cap stay off unless configured.
func applyDefaults(c *Config) {
	d := database.DefaultOptions()
	if c.Pool.Fingerprint == "" {
		c.Pool.Fingerprint = "host_db"
	}
	if c.Pool.MaxOpenConns == 0 {
		c.Pool.MaxOpenConns = d.MaxOpenConns
	}
	if c.Pool.MaxIdleConns == 0 {
		c.Pool.MaxIdleConns = d.MaxIdleConns
	}
	if c.Pool.ConnMaxLifetime == 0 {
		c.Pool.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.Pool.ReplicaTimeout == 0 {
		c.Pool.ReplicaTimeout = d.ReplicaTimeout
	}
	if c.Pool.EvictInterval == 0 {
		c.Pool.EvictInterval = connpool.DefaultEvictInterval
	}
	if c.Pool.EvictGrace == 0 {
		c.Pool.EvictGrace = connpool.DefaultEvictGrace
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }

// DatabaseOptions maps the pool section onto database.Options.
func (c *Config) DatabaseOptions() database.Options {
	return database.Options{
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		ReplicaTimeout:  c.Pool.ReplicaTimeout,
	}
}

// PoolOptions maps the pool section onto connpool.Options.
func (c *Config) PoolOptions() connpool.Options {
	return connpool.Options{
		Fingerprint:   dsn.FingerprintByName(c.Pool.Fingerprint),
		IdleTTL:       c.Pool.IdleTTL,
		MaxEntries:    c.Pool.MaxEntries,
		EvictInterval: c.Pool.EvictInterval,
		EvictGrace:    c.Pool.EvictGrace,
	}
}
