// internal/connpool/conn_test.go
//
// Unit-tests for credential resolution at pool-open time.

package connpool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/yanizio/tenantdb/internal/dsn"
)

// rotatingSecrets serves whatever password is current for a reference.
type rotatingSecrets struct {
	mu  sync.Mutex
	pwd map[string]string
}

func (r *rotatingSecrets) Resolve(_ context.Context, v string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pw, ok := r.pwd[v]
	if !ok {
		return "", errors.New("unknown reference")
	}
	return pw, nil
}

func (r *rotatingSecrets) set(ref, pw string) {
	r.mu.Lock()
	r.pwd[ref] = pw
	r.mu.Unlock()
}

func TestReopenedPoolUsesRotatedSecret(t *testing.T) {
	const ref = "vault:kv/tenants/T1#pwd"
	secrets := &rotatingSecrets{pwd: map[string]string{ref: "first"}}

	var dialled []string
	open := ResolvingOpener(secrets, func(_ context.Context, tg dsn.Target) (*Conn, error) {
		dialled = append(dialled, tg.Password)
		return &Conn{Target: tg}, nil
	})
	c := New(open, Options{})
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	target := dsn.Target{Host: "h1", DBName: "d1", Username: "app", Password: ref}

	conn, err := c.Get(ctx, target)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conn.Target.Password != ref {
		t.Fatalf("cached handle exposes %q, want the reference", conn.Target.Password)
	}

	secrets.set(ref, "second")

	v, _ := c.m.Load(target.Fingerprint())
	ent := v.(*entry)
	if !c.evict(target.Fingerprint(), ent, ent.lastSeen.Load()) {
		t.Fatalf("idle entry not evicted")
	}
	if _, err := c.Get(ctx, target); err != nil {
		t.Fatalf("Get after eviction: %v", err)
	}

	if len(dialled) != 2 || dialled[0] != "first" || dialled[1] != "second" {
		t.Fatalf("dialled with %v, want [first second]", dialled)
	}
}

func TestResolvingOpenerStopsOnSecretError(t *testing.T) {
	secrets := &rotatingSecrets{pwd: map[string]string{}}
	called := false
	open := ResolvingOpener(secrets, func(context.Context, dsn.Target) (*Conn, error) {
		called = true
		return &Conn{}, nil
	})

	_, err := open(context.Background(), dsn.Target{Host: "h1", DBName: "d1", Password: "vault:kv/gone#pwd"})
	if err == nil || called {
		t.Fatalf("err=%v called=%v, want error before dialling", err, called)
	}
}
