// Package database centralises sqlx connection helpers.  The driver is
// go-sql-driver/mysql, which also works with MariaDB and any engine that
// speaks the MySQL wire protocol.
//
// Public entry points:
//
//	Open(dsn)                           – control-plane pool with default sizes.
//	OpenTarget(ctx, target, opts)       – shard pool plus optional replica.
//
// Both helpers Ping before returning so callers fail fast.  A replica that
// cannot be reached is dropped with a warning; it never fails the primary.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/metrics"
)

// Options tunes one shard pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ReplicaTimeout  time.Duration // connect timeout for the read replica
}

// DefaultOptions keeps per-shard resource usage small.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ReplicaTimeout:  10 * time.Second,
	}
}

// Open returns a *sqlx.DB with 15 max open, 5 idle, and a 30-minute
// lifetime.  Used for the control-plane pool.
func Open(dsnStr string) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsnStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenTarget opens the primary pool for t and, when t names a read-only
// host, a replica pool bounded by opts.ReplicaTimeout.  replica is nil when
// none is configured or the replica is unreachable.
func OpenTarget(ctx context.Context, t dsn.Target, opts Options) (primary, replica *sqlx.DB, err error) {
	primary, err = connect(ctx, FormatDSN(t, t.Host, 0), opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", t, err)
	}
	if !t.HasReplica() {
		return primary, nil, nil
	}

	timeout := opts.ReplicaTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replica, rerr := connect(rctx, FormatDSN(t, t.ReadonlyHost, timeout), opts)
	if rerr != nil {
		zap.L().Warn("replica unavailable, serving reads from primary",
			zap.String("target", t.String()),
			zap.Error(rerr))
		metrics.ReplicaUnavailableTotal.Inc()
		return primary, nil, nil
	}
	return primary, replica, nil
}

// FormatDSN renders the go-sql-driver DSN for host with t's database and
// credentials.  timeout > 0 bounds the dial.
func FormatDSN(t dsn.Target, host string, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = t.Username
	cfg.Passwd = t.Password
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = t.DBName
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Timeout = timeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// connect opens and pings one pool; replaced in tests.
var connect = openPool

func openPool(ctx context.Context, dsnStr string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsnStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
