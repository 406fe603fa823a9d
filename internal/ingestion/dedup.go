package ingestion

import (
	"sync"
	"time"
)

// dedupTTL is how long a sequence number suppresses a repeat for.
const dedupTTL = 30 * time.Minute

// dedupCap is the LRU cap on cached sequences per hive.
const dedupCap = 256

// dedupEntry is one cached (sequence -> seen-at) pair, with an access
// counter for LRU eviction.
type dedupEntry struct {
	observedAt string
	seenAt     time.Time
	lastAccess uint64
}

// hiveCache is the per-hive sequence->timestamp map used to suppress
// redelivered readings ahead of the database's unique-index backstop.
type hiveCache struct {
	entries map[uint16]*dedupEntry
	clock   uint64
}

// DedupCache is the process-wide, per-hive dedup cache described in
// spec.md §4.2. It is deliberately process-local and unshared: the
// database's unique index on (hive_id, sequence, observed_at) is the
// ultimate authority across restarts and across processes.
type DedupCache struct {
	mu    sync.Mutex
	hives map[int]*hiveCache
}

// NewDedupCache builds an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{hives: map[int]*hiveCache{}}
}

// Warm seeds a hive's cache from recently-ingested rows at startup.
func (c *DedupCache) Warm(hiveID int, recent map[uint16]string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hc := c.hiveFor(hiveID)
	for seq, observedAt := range recent {
		hc.clock++
		hc.entries[seq] = &dedupEntry{observedAt: observedAt, seenAt: now, lastAccess: hc.clock}
	}
}

// Clear drops every cached sequence for a hive — called when a reading
// carries the FIRST_BOOT flag, since the device's own counter restarted.
func (c *DedupCache) Clear(hiveID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hives, hiveID)
}

// CheckAndRemember reports whether sequence has been seen for hiveID within
// the TTL. If not, it records the sighting and returns false (not a dup).
func (c *DedupCache) CheckAndRemember(hiveID int, sequence uint16, observedAt string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	hc := c.hiveFor(hiveID)
	c.evictExpired(hc, now)

	if e, ok := hc.entries[sequence]; ok && now.Sub(e.seenAt) < dedupTTL {
		hc.clock++
		e.lastAccess = hc.clock
		return true
	}

	c.evictLRUIfFull(hc)
	hc.clock++
	hc.entries[sequence] = &dedupEntry{observedAt: observedAt, seenAt: now, lastAccess: hc.clock}
	return false
}

func (c *DedupCache) hiveFor(hiveID int) *hiveCache {
	hc, ok := c.hives[hiveID]
	if !ok {
		hc = &hiveCache{entries: map[uint16]*dedupEntry{}}
		c.hives[hiveID] = hc
	}
	return hc
}

func (c *DedupCache) evictExpired(hc *hiveCache, now time.Time) {
	for seq, e := range hc.entries {
		if now.Sub(e.seenAt) >= dedupTTL {
			delete(hc.entries, seq)
		}
	}
}

func (c *DedupCache) evictLRUIfFull(hc *hiveCache) {
	if len(hc.entries) < dedupCap {
		return
	}
	var oldestSeq uint16
	var oldestAccess uint64 = ^uint64(0)
	for seq, e := range hc.entries {
		if e.lastAccess < oldestAccess {
			oldestAccess = e.lastAccess
			oldestSeq = seq
		}
	}
	delete(hc.entries, oldestSeq)
}
