// internal/dsn/target.go
//
// Physical database target and its cache fingerprint.
//
// Context
// -------
// A Target is what every routing lookup eventually produces: the host,
// database name, and credentials of one MySQL shard, plus an optional
// read-replica host.  Targets are plain values and are never mutated after
// lookup.
//
// Two targets pointing at the same host and database are the same physical
// connection as far as the pool cache is concerned, even when their
// credentials differ.  CredentialFingerprint exists for deployments that
// need credentials to split the cache instead.
//
// Notes
// -----
//   - Passwords may be secret references.  They stay unresolved through
//     routing and caching; Resolved runs only when a pool is opened.
//   - String() never prints the password.
//   - Oxford commas, two spaces after periods.
package dsn

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTarget is returned when a resolved target lacks host or dbname.
var ErrInvalidTarget = errors.New("dsn: target requires host and dbname")

// Target describes one physical shard.
type Target struct {
	Host         string `koanf:"host"          validate:"required"`
	DBName       string `koanf:"dbname"        validate:"required"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	ReadonlyHost string `koanf:"readonly_host"`
}

// Validate reports whether t names a reachable database.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" || strings.TrimSpace(t.DBName) == "" {
		return ErrInvalidTarget
	}
	return nil
}

// HasReplica is true when a read-only host is configured.
func (t Target) HasReplica() bool { return strings.TrimSpace(t.ReadonlyHost) != "" }

// Fingerprint is the cache identity of t: SHA-1 over host and dbname.
func (t Target) Fingerprint() string {
	return digest(t.Host, t.DBName)
}

// CredentialFingerprint also folds the username and password into the key,
// so differently credentialed connections to one database stay separate.
func (t Target) CredentialFingerprint() string {
	return digest(t.Host, t.DBName, t.Username, t.Password)
}

// Resolved returns t with its password reference resolved through
// secrets.  A nil secrets returns t unchanged.
func (t Target) Resolved(ctx context.Context, secrets Secrets) (Target, error) {
	if secrets == nil {
		return t, nil
	}
	pw, err := secrets.Resolve(ctx, t.Password)
	if err != nil {
		return Target{}, fmt.Errorf("resolve password for %s: %w", t, err)
	}
	t.Password = pw
	return t, nil
}

func (t Target) String() string {
	if t.HasReplica() {
		return fmt.Sprintf("%s@%s/%s (ro %s)", t.Username, t.Host, t.DBName, t.ReadonlyHost)
	}
	return fmt.Sprintf("%s@%s/%s", t.Username, t.Host, t.DBName)
}

// FingerprintFunc selects how targets are keyed in the pool cache.
type FingerprintFunc func(Target) string

// FingerprintByName maps the `pool.fingerprint` config value to a function.
// Unknown names fall back to host+dbname keying.
func FingerprintByName(name string) FingerprintFunc {
	if name == "credentials" {
		return Target.CredentialFingerprint
	}
	return Target.Fingerprint
}

// digest joins parts with a NUL so ("h1", "d") and ("h", "1d") never collide.
func digest(parts ...string) string {
	h := sha1.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
