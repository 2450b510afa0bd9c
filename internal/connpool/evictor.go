// evictor.go houses the optional eviction loop for Cache.  Every interval
// it scans the map and removes:
//
//   - pools idle longer than idleTTL
//   - least-recently-used pools when the map size exceeds maxEntries
//
// An entry handed out after the scan read its lastSeen is skipped.  A
// caller that won the race anyway still holds a working pool for
// evictGrace, after which the pool is closed; closing a *sqlx.DB waits for
// statements already running.
package connpool

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/metrics"
)

func (c *Cache) evictLoop(interval time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			c.sweep(now)
		}
	}
}

// sweep runs one idle pass followed by one LRU pass.
func (c *Cache) sweep(now time.Time) {
	var count int

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	c.m.Range(func(key, value any) bool {
		count++
		ent := value.(*entry)
		seen := ent.lastSeen.Load()
		idle := now.Sub(time.Unix(0, seen))
		if c.idleTTL > 0 && idle > c.idleTTL {
			if c.evict(key.(string), ent, seen) {
				count--
				zap.L().Info("shard pool evicted",
					zap.String("fingerprint", key.(string)),
					zap.Duration("idle", idle.Truncate(time.Second)))
			}
		}
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if c.maxEntries <= 0 || count <= c.maxEntries {
		return
	}
	type kv struct {
		key string
		ent *entry
		at  int64
	}
	var all []kv
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		all = append(all, kv{key: key.(string), ent: ent, at: ent.lastSeen.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
	for i := 0; i < len(all)-c.maxEntries; i++ {
		if c.evict(all[i].key, all[i].ent, all[i].at) {
			zap.L().Info("shard pool evicted (LRU pressure)",
				zap.String("fingerprint", all[i].key))
		}
	}
}

// evict removes ent only if it is still the slot's current value and was
// not used since seen.
func (c *Cache) evict(key string, ent *entry, seen int64) bool {
	if ent.lastSeen.Load() != seen {
		return false
	}
	if !c.m.CompareAndDelete(key, ent) {
		return false
	}
	metrics.ConnectionEvictTotal.Inc()
	metrics.OpenConnections.Dec()
	c.retire(key, ent.conn)
	return true
}

// retire closes an evicted pool after evictGrace, or at once when Close
// stops the cache first.
func (c *Cache) retire(key string, conn *Conn) {
	if c.evictGrace <= 0 {
		closeEvicted(key, conn)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTimer(c.evictGrace)
		defer t.Stop()
		select {
		case <-t.C:
		case <-c.stop:
		}
		closeEvicted(key, conn)
	}()
}

func closeEvicted(key string, conn *Conn) {
	if err := conn.Close(); err != nil {
		zap.L().Warn("shard pool close failed",
			zap.String("fingerprint", key),
			zap.Error(err))
	}
}
