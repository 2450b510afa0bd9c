// internal/connpool/conn.go
//
// Cached shard handle.
//
// Context
// -------
// A Conn is the value stored in the pool cache: one primary *sqlx.DB pool
// and, when the target names a read-only host that answered at build time,
// a replica pool.  Both are database/sql pools, so a single Conn is safe for
// concurrent use by every caller that resolves the same fingerprint.
//
// Notes
// -----
//   - Callers never Close a Conn; the cache owns its lifetime.
//   - Conn.Target keeps the password reference as routed, never the
//     resolved secret.
//   - Oxford commas, two spaces after periods.
package connpool

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/dsn"
)

// Conn groups the pools of one physical target.
type Conn struct {
	Fingerprint string
	Target      dsn.Target
	DB          *sqlx.DB // primary, used for every write
	Replica     *sqlx.DB // nil when no replica is attached
}

// Reader returns the replica when attached, otherwise the primary.
func (c *Conn) Reader() *sqlx.DB {
	if c.Replica != nil {
		return c.Replica
	}
	return c.DB
}

// Close drains and closes both pools.
func (c *Conn) Close() error {
	var result *multierror.Error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.Replica != nil {
		if err := c.Replica.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Opener builds a Conn for a target.  It runs at most once per fingerprint
// at a time.
type Opener func(ctx context.Context, t dsn.Target) (*Conn, error)

// MySQLOpener opens real MySQL pools through internal/database, resolving
// password references through secrets first.  secrets may be nil.
func MySQLOpener(opts database.Options, secrets dsn.Secrets) Opener {
	return ResolvingOpener(secrets, func(ctx context.Context, t dsn.Target) (*Conn, error) {
		primary, replica, err := database.OpenTarget(ctx, t, opts)
		if err != nil {
			return nil, err
		}
		return &Conn{Target: t, DB: primary, Replica: replica}, nil
	})
}

// ResolvingOpener resolves t's password on every open, so a pool rebuilt
// after eviction or Close uses the credential current at that moment.
func ResolvingOpener(secrets dsn.Secrets, open Opener) Opener {
	return func(ctx context.Context, t dsn.Target) (*Conn, error) {
		resolved, err := t.Resolved(ctx, secrets)
		if err != nil {
			return nil, err
		}
		conn, err := open(ctx, resolved)
		if conn != nil {
			conn.Target = t
		}
		return conn, err
	}
}
