// internal/connpool/cache.go
//
// Process-wide shard pool cache.
//
// Context
// -------
// Every routed read or write ends here: a fingerprint (see dsn.Target)
// maps to exactly one live Conn.  The first caller for a fingerprint builds
// the pools; concurrent first callers wait on a singleflight barrier and
// receive the same handle.  A failed build is not remembered, so the next
// caller simply tries again.
//
// By default entries live until Close.  Setting IdleTTL or MaxEntries starts
// the background evictor (evictor.go), which closes idle or least recently
// used pools.
//
// Notes
// -----
//   - The cache is an injected object, not a package global; tests build
//     their own and call Close in cleanup.
//   - Oxford commas, two spaces after periods.
package connpool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantdb/internal/dsn"
	"github.com/yanizio/tenantdb/internal/metrics"
)

const (
	// DefaultEvictInterval is the sweep period when eviction is enabled.
	DefaultEvictInterval = 5 * time.Minute

	// DefaultEvictGrace is how long an evicted pool stays open for callers
	// that fetched it just before eviction.
	DefaultEvictGrace = 30 * time.Second
)

// ErrNilConn is returned when a factory yields neither a Conn nor an error.
var ErrNilConn = errors.New("connpool: factory returned nil conn")

// Options configures a Cache.  The zero value keys by host+dbname and never
// evicts.
type Options struct {
	Fingerprint   dsn.FingerprintFunc
	IdleTTL       time.Duration
	MaxEntries    int
	EvictInterval time.Duration
	EvictGrace    time.Duration // 0 selects DefaultEvictGrace
}

// Cache maps fingerprints to live Conns.  Safe for concurrent use.
type Cache struct {
	open        Opener
	fingerprint dsn.FingerprintFunc
	sfg         singleflight.Group
	m           sync.Map // fingerprint → *entry

	idleTTL    time.Duration
	maxEntries int
	evictGrace time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New constructs a Cache.  The evictor only runs when opts asks for it.
func New(open Opener, opts Options) *Cache {
	c := &Cache{
		open:        open,
		fingerprint: opts.Fingerprint,
		idleTTL:     opts.IdleTTL,
		maxEntries:  opts.MaxEntries,
		evictGrace:  opts.EvictGrace,
		stop:        make(chan struct{}),
	}
	if c.evictGrace <= 0 {
		c.evictGrace = DefaultEvictGrace
	}
	if c.fingerprint == nil {
		c.fingerprint = dsn.Target.Fingerprint
	}
	if c.idleTTL > 0 || c.maxEntries > 0 {
		interval := opts.EvictInterval
		if interval <= 0 {
			interval = DefaultEvictInterval
		}
		c.wg.Add(1)
		go c.evictLoop(interval)
	}
	return c
}

// Get returns the Conn for t, building it on first use.
func (c *Cache) Get(ctx context.Context, t dsn.Target) (*Conn, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return c.GetOrCreate(ctx, c.fingerprint(t), func(ctx context.Context) (*Conn, error) {
		return c.open(ctx, t)
	})
}

// GetOrCreate returns the cached Conn for fingerprint or runs factory once,
// however many goroutines miss at the same time.
func (c *Cache) GetOrCreate(ctx context.Context, fingerprint string, factory func(context.Context) (*Conn, error)) (*Conn, error) {
	if v, ok := c.m.Load(fingerprint); ok {
		ent := v.(*entry)
		ent.touch()
		metrics.ConnectionHitsTotal.Inc()
		return ent.conn, nil
	}

	// The build outlives any single caller's cancellation; waiters share it.
	buildCtx := context.WithoutCancel(ctx)

	v, err, _ := c.sfg.Do(fingerprint, func() (interface{}, error) {
		// Double-check after singleflight barrier.
		if v, ok := c.m.Load(fingerprint); ok {
			ent := v.(*entry)
			ent.touch()
			return ent.conn, nil
		}
		conn, err := factory(buildCtx)
		if err == nil && conn == nil {
			err = ErrNilConn
		}
		if err != nil {
			metrics.ConnectionBuildErrorsTotal.Inc()
			zap.L().Warn("shard pool build failed",
				zap.String("fingerprint", fingerprint),
				zap.Error(err))
			return nil, err
		}
		conn.Fingerprint = fingerprint
		c.m.Store(fingerprint, newEntry(conn))
		metrics.ConnectionBuildTotal.Inc()
		metrics.OpenConnections.Inc()
		zap.L().Info("shard pool online",
			zap.String("fingerprint", fingerprint),
			zap.String("target", conn.Target.String()),
			zap.Bool("replica", conn.Replica != nil))
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// Len reports how many pools are cached.
func (c *Cache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Stat describes one cached pool without exposing credentials.
type Stat struct {
	Fingerprint string    `json:"fingerprint"`
	Host        string    `json:"host"`
	DBName      string    `json:"dbname"`
	Replica     bool      `json:"replica"`
	LastSeen    time.Time `json:"last_seen"`
}

// Snapshot lists cached pools ordered by host then database.
func (c *Cache) Snapshot() []Stat {
	var out []Stat
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		out = append(out, Stat{
			Fingerprint: key.(string),
			Host:        ent.conn.Target.Host,
			DBName:      ent.conn.Target.DBName,
			Replica:     ent.conn.Replica != nil,
			LastSeen:    time.Unix(0, ent.lastSeen.Load()),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].DBName < out[j].DBName
	})
	return out
}

// Close stops the evictor, closes pools still waiting out their eviction
// grace, and closes every cached pool.  The cache stays usable; later
// lookups rebuild on demand.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()

	var result *multierror.Error
	c.m.Range(func(key, value any) bool {
		if c.m.CompareAndDelete(key, value) {
			metrics.OpenConnections.Dec()
			if err := value.(*entry).conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return true
	})
	return result.ErrorOrNil()
}
