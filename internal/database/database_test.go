package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	dto "github.com/prometheus/client_model/go"

	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/metrics"
)

func TestFormatDSN(t *testing.T) {
	tg := dsn.Target{Host: "db1:3306", DBName: "tenant_a", Username: "app", Password: "pw"}

	got := FormatDSN(tg, tg.Host, 0)
	cfg, err := mysql.ParseDSN(got)
	if err != nil {
		t.Fatalf("ParseDSN(%q): %v", got, err)
	}
	if cfg.Addr != "db1:3306" || cfg.DBName != "tenant_a" || cfg.User != "app" || cfg.Passwd != "pw" {
		t.Fatalf("round trip mismatch: %+v", cfg)
	}
	if !cfg.ParseTime {
		t.Fatalf("parseTime must be on")
	}
	if !strings.Contains(got, "charset=utf8mb4") {
		t.Fatalf("charset missing: %s", got)
	}
}

func TestFormatDSNReplicaTimeout(t *testing.T) {
	tg := dsn.Target{Host: "db1", DBName: "d", ReadonlyHost: "db1-ro"}

	cfg, err := mysql.ParseDSN(FormatDSN(tg, tg.ReadonlyHost, 10*time.Second))
	if err != nil {
		t.Fatalf("ParseDSN: %v", err)
	}
	if cfg.Addr != "db1-ro:3306" || cfg.Timeout != 10*time.Second {
		t.Fatalf("replica dsn = %+v", cfg)
	}
}

// stubConnect swaps the pool dialer for the test.  Each call records the
// dialled address and is answered by dial.
func stubConnect(t *testing.T, dial func(ctx context.Context, addr string) (*sqlx.DB, error)) *[]string {
	t.Helper()
	var addrs []string
	prev := connect
	connect = func(ctx context.Context, dsnStr string, _ Options) (*sqlx.DB, error) {
		cfg, err := mysql.ParseDSN(dsnStr)
		if err != nil {
			t.Fatalf("ParseDSN(%q): %v", dsnStr, err)
		}
		addrs = append(addrs, cfg.Addr)
		return dial(ctx, cfg.Addr)
	}
	t.Cleanup(func() { connect = prev })
	return &addrs
}

func mockDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock")
}

func replicaUnavailable(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.ReplicaUnavailableTotal.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestOpenTargetSurvivesDeadReplica(t *testing.T) {
	primaryDB := mockDB(t)
	addrs := stubConnect(t, func(_ context.Context, addr string) (*sqlx.DB, error) {
		if addr == "db1-ro:3306" {
			return nil, errors.New("connection refused")
		}
		return primaryDB, nil
	})
	before := replicaUnavailable(t)

	tg := dsn.Target{Host: "db1", DBName: "d", ReadonlyHost: "db1-ro"}
	primary, replica, err := OpenTarget(context.Background(), tg, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenTarget: %v", err)
	}
	if primary != primaryDB || replica != nil {
		t.Fatalf("primary=%p replica=%p; want primary only", primary, replica)
	}
	if got := replicaUnavailable(t); got != before+1 {
		t.Fatalf("replica_unavailable = %v, want %v", got, before+1)
	}
	if len(*addrs) != 2 {
		t.Fatalf("dialled %v, want primary then replica", *addrs)
	}
}

func TestOpenTargetReplicaTimeoutKeepsPrimary(t *testing.T) {
	primaryDB := mockDB(t)
	var replicaErr error
	stubConnect(t, func(ctx context.Context, addr string) (*sqlx.DB, error) {
		if addr != "db1-ro:3306" {
			return primaryDB, nil
		}
		<-ctx.Done()
		replicaErr = ctx.Err()
		return nil, replicaErr
	})

	opts := DefaultOptions()
	opts.ReplicaTimeout = 20 * time.Millisecond
	tg := dsn.Target{Host: "db1", DBName: "d", ReadonlyHost: "db1-ro"}

	primary, replica, err := OpenTarget(context.Background(), tg, opts)
	if err != nil || primary != primaryDB || replica != nil {
		t.Fatalf("OpenTarget = %p, %p, %v", primary, replica, err)
	}
	if !errors.Is(replicaErr, context.DeadlineExceeded) {
		t.Fatalf("replica dial ended with %v, want deadline", replicaErr)
	}
}

func TestOpenTargetReplicaAttached(t *testing.T) {
	primaryDB, replicaDB := mockDB(t), mockDB(t)
	stubConnect(t, func(_ context.Context, addr string) (*sqlx.DB, error) {
		if addr == "db1-ro:3306" {
			return replicaDB, nil
		}
		return primaryDB, nil
	})

	tg := dsn.Target{Host: "db1", DBName: "d", ReadonlyHost: "db1-ro"}
	primary, replica, err := OpenTarget(context.Background(), tg, DefaultOptions())
	if err != nil || primary != primaryDB || replica != replicaDB {
		t.Fatalf("OpenTarget = %p, %p, %v", primary, replica, err)
	}
}

func TestOpenTargetPrimaryFailureSkipsReplica(t *testing.T) {
	boom := errors.New("access denied")
	addrs := stubConnect(t, func(context.Context, string) (*sqlx.DB, error) { return nil, boom })

	tg := dsn.Target{Host: "db1", DBName: "d", ReadonlyHost: "db1-ro"}
	if _, _, err := OpenTarget(context.Background(), tg, DefaultOptions()); !errors.Is(err, boom) {
		t.Fatalf("want primary error, got %v", err)
	}
	if len(*addrs) != 1 {
		t.Fatalf("dialled %v, want primary only", *addrs)
	}
}
