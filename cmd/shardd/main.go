// cmd/shardd/main.go
//
// tenantdb – shard routing daemon.
//
// Start-up sequence
// -----------------
//
//  1. Load env vars (jail-wide file → .env fallback).
//
//  2. Load and validate conf/tenantdb.yaml plus TENANTDB_ overrides.
//
//  3. Start daily rotating logger (tees to console when running in a TTY).
//
//  4. Connect Vault when VAULT_ADDR is set, so DSN passwords may be
//     `vault:` references.
//
//  5. Build the routing stack: control-plane directory or static routes,
//     shared connection cache, router, schema inspector, lifecycle, and
//     store.
//
//  6. Warm configured tenants, then serve /metrics, /healthz, and
//     /debug/connections until SIGINT or SIGTERM.
//
//  7. Drain the HTTP server, then close every cached pool.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/logger"
	"github.com/yanizio/tenantdb/internal/server"
)

const (
	serverEnvPath   = "/usr/local/etc/tenantdb/shardd.env"
	shutdownTimeout = 15 * time.Second
)

// loadEnv prefers the jail-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.Paths.Root, cfg.Log.Level, cfg.Log.Tee || runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Routing stack ───────────────────────────────────────────────
	//
	a, err := build(ctx, cfg, zap.L())
	if err != nil {
		logOut.Fatalw("build routing stack", "err", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logOut.Errorw("close routing stack", "err", err)
		}
	}()

	a.warm(ctx, cfg.Pool.WarmTenants)

	//
	// ── 2.  Ops surface ─────────────────────────────────────────────────
	//
	srv := server.New(cfg.HTTP.ListenAddr, server.Routes(a.pool, a.store, a.ping, zap.L()))
	go func() {
		logOut.Infow("ops listener online", "addr", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logOut.Errorw("ops listener", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logOut.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logOut.Warnw("ops listener shutdown", "err", err)
	}
}
