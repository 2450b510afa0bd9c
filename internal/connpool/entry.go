package connpool

import (
	"sync/atomic"
	"time"
)

// entry is the cache slot for one fingerprint.
type entry struct {
	conn     *Conn
	lastSeen atomic.Int64 // UnixNano
}

func newEntry(c *Conn) *entry {
	e := &entry{conn: c}
	e.touch()
	return e
}

func (e *entry) touch() { e.lastSeen.Store(time.Now().UnixNano()) }
