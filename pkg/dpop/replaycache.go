package dpop

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTTL is the default time-to-live for recorded jti entries.
	// Entries only need to outlive the proof clock-skew window.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxEntries is the default maximum number of entries in the cache.
	DefaultMaxEntries = 100_000

	// DefaultCleanupInterval is the default interval for expired entry cleanup.
	DefaultCleanupInterval = 30 * time.Second

	// MaxJTILength is the maximum allowed jti length in bytes.
	MaxJTILength = 1024
)

// ReplayCache records consumed proof jtis and rejects reuse.
// Implementations must be safe for concurrent use.
type ReplayCache interface {
	// CheckAndRecord atomically records a jti. Returns true if this is a
	// replay (the jti was already recorded and has not expired).
	// Returns an error for invalid input or if the cache is full.
	CheckAndRecord(jti string) (isReplay bool, err error)

	// Close stops any background goroutines and releases resources.
	Close() error
}

// jtiEntry stores metadata about a recorded jti.
type jtiEntry struct {
	// offset is nanoseconds since cache creation (monotonic).
	offset int64
}

// MemoryReplayCache is an in-memory replay cache using sync.Map for atomic
// operations. Expired entries are reclaimed by a background cleanup loop,
// so hitting capacity is an error condition rather than a trigger for
// clearing the whole set (which would reopen a replay window).
type MemoryReplayCache struct {
	entries    sync.Map
	entryCount atomic.Int64
	maxEntries int64
	ttl        time.Duration
	createdAt  time.Time

	cleanupInterval time.Duration // 0 means use default, -1 means disabled
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// ReplayCacheOption configures a MemoryReplayCache.
type ReplayCacheOption func(*MemoryReplayCache)

// WithTTL sets the time-to-live for jti entries.
func WithTTL(ttl time.Duration) ReplayCacheOption {
	return func(c *MemoryReplayCache) {
		c.ttl = ttl
	}
}

// WithMaxEntries sets the maximum number of entries in the cache.
func WithMaxEntries(max int) ReplayCacheOption {
	return func(c *MemoryReplayCache) {
		c.maxEntries = int64(max)
	}
}

// WithCleanupInterval sets the interval for expired entry cleanup.
// Pass 0 to disable automatic cleanup.
func WithCleanupInterval(interval time.Duration) ReplayCacheOption {
	return func(c *MemoryReplayCache) {
		if interval <= 0 {
			c.cleanupInterval = -1 // Disabled
		} else {
			c.cleanupInterval = interval
		}
	}
}

// NewMemoryReplayCache creates a new in-memory replay cache.
// By default, entries expire after 10 minutes, max 100,000 entries,
// with cleanup every 30 seconds.
func NewMemoryReplayCache(opts ...ReplayCacheOption) *MemoryReplayCache {
	c := &MemoryReplayCache{
		ttl:             DefaultTTL,
		maxEntries:      DefaultMaxEntries,
		createdAt:       time.Now(),
		cleanupInterval: 0, // Use default
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.cleanupInterval >= 0 {
		interval := c.cleanupInterval
		if interval == 0 {
			interval = DefaultCleanupInterval
		}
		go c.cleanupLoop(interval)
	} else {
		// No cleanup, close done channel immediately
		close(c.cleanupDone)
	}

	return c
}

// CheckAndRecord atomically records a jti. Returns true if this is a replay.
// Safe for concurrent use; LoadOrStore prevents the TOCTOU race that would
// let two simultaneous requests with the same jti both pass.
func (c *MemoryReplayCache) CheckAndRecord(jti string) (bool, error) {
	if jti == "" {
		return false, ErrInvalidJTI
	}
	if len(jti) > MaxJTILength {
		return false, ErrJTITooLong
	}

	// Monotonic offset so wall-clock adjustments cannot resurrect entries.
	offset := time.Since(c.createdAt).Nanoseconds()
	entry := &jtiEntry{offset: offset}

	existing, loaded := c.entries.LoadOrStore(jti, entry)
	if loaded {
		// Entry exists, check if expired
		existingEntry := existing.(*jtiEntry)
		age := time.Duration(offset - existingEntry.offset)
		if age < c.ttl {
			// Not expired, this is a replay
			return true, nil
		}
		// Expired, try to replace with new entry
		if c.entries.CompareAndSwap(jti, existing, entry) {
			return false, nil
		}
		// CAS failed, someone else updated it, this is a replay
		return true, nil
	}

	// New entry, check if we exceeded max entries
	count := c.entryCount.Add(1)
	if count > c.maxEntries {
		// Over limit, remove our entry and surface the condition rather
		// than clearing the cache wholesale.
		c.entries.Delete(jti)
		c.entryCount.Add(-1)
		return false, ErrCacheFull
	}

	return false, nil
}

// Close stops the cleanup goroutine and releases resources.
func (c *MemoryReplayCache) Close() error {
	close(c.stopCleanup)
	<-c.cleanupDone
	return nil
}

// cleanupLoop periodically removes expired entries.
func (c *MemoryReplayCache) cleanupLoop(interval time.Duration) {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes all expired entries.
func (c *MemoryReplayCache) cleanup() {
	now := time.Since(c.createdAt).Nanoseconds()
	ttlNanos := c.ttl.Nanoseconds()

	c.entries.Range(func(key, value any) bool {
		entry := value.(*jtiEntry)
		age := now - entry.offset
		if age >= ttlNanos {
			if c.entries.CompareAndDelete(key, value) {
				c.entryCount.Add(-1)
			}
		}
		return true
	})
}

// Len returns the current number of entries (for testing).
func (c *MemoryReplayCache) Len() int {
	return int(c.entryCount.Load())
}
