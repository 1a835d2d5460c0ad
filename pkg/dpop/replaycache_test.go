package dpop

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFirstUseSucceeds(t *testing.T) {
	t.Log("Creating new replay cache")
	cache := NewMemoryReplayCache(WithCleanupInterval(time.Hour)) // Slow cleanup for test
	defer cache.Close()

	t.Log("Recording new jti 'test-jti-1'")
	isReplay, err := cache.CheckAndRecord("test-jti-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isReplay {
		t.Error("first use should not be detected as replay")
	}
	t.Log("First use succeeded as expected")
}

func TestSecondUseFails(t *testing.T) {
	t.Log("Creating new replay cache")
	cache := NewMemoryReplayCache(WithCleanupInterval(time.Hour))
	defer cache.Close()

	jti := "test-jti-replay"

	t.Log("Recording jti for the first time")
	isReplay, err := cache.CheckAndRecord(jti)
	if err != nil {
		t.Fatalf("unexpected error on first use: %v", err)
	}
	if isReplay {
		t.Error("first use should not be detected as replay")
	}

	t.Log("Attempting to record the same jti again")
	isReplay, err = cache.CheckAndRecord(jti)
	if err != nil {
		t.Fatalf("unexpected error on second use: %v", err)
	}
	if !isReplay {
		t.Error("second use should be detected as replay")
	}
	t.Log("Second use correctly detected as replay")
}

func TestExpiresAfterTTL(t *testing.T) {
	ttl := 50 * time.Millisecond
	t.Logf("Creating cache with short TTL (%v)", ttl)
	cache := NewMemoryReplayCache(
		WithTTL(ttl),
		WithCleanupInterval(time.Hour), // Don't cleanup during test
	)
	defer cache.Close()

	jti := "test-jti-expiry"

	isReplay, err := cache.CheckAndRecord(jti)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isReplay {
		t.Error("first use should not be replay")
	}

	t.Logf("Waiting for TTL to expire (%v)", ttl+10*time.Millisecond)
	time.Sleep(ttl + 10*time.Millisecond)

	t.Log("Recording the same jti after expiry should succeed")
	isReplay, err = cache.CheckAndRecord(jti)
	if err != nil {
		t.Fatalf("unexpected error after expiry: %v", err)
	}
	if isReplay {
		t.Error("expired jti should be accepted again")
	}
}

func TestConcurrentSameJTI(t *testing.T) {
	t.Log("Launching 100 goroutines racing on the same jti")
	cache := NewMemoryReplayCache(WithCleanupInterval(time.Hour))
	defer cache.Close()

	const goroutines = 100
	var accepted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			isReplay, err := cache.CheckAndRecord("contested-jti")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if !isReplay {
				accepted.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Errorf("exactly one goroutine should win, got %d", got)
	}
	t.Log("Exactly one acceptance as required")
}

func TestConcurrentDistinctJTIs(t *testing.T) {
	cache := NewMemoryReplayCache(WithCleanupInterval(time.Hour))
	defer cache.Close()

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jti := fmt.Sprintf("distinct-jti-%d", n)
			isReplay, err := cache.CheckAndRecord(jti)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if isReplay {
				t.Errorf("jti %s should not be a replay", jti)
			}
		}(i)
	}
	wg.Wait()

	if got := cache.Len(); got != goroutines {
		t.Errorf("expected %d entries, got %d", goroutines, got)
	}
}

func TestInvalidJTIs(t *testing.T) {
	cache := NewMemoryReplayCache(WithCleanupInterval(time.Hour))
	defer cache.Close()

	t.Log("Empty jti must be rejected")
	if _, err := cache.CheckAndRecord(""); err != ErrInvalidJTI {
		t.Errorf("expected ErrInvalidJTI, got %v", err)
	}

	t.Log("Oversized jti must be rejected")
	long := make([]byte, MaxJTILength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := cache.CheckAndRecord(string(long)); err != ErrJTITooLong {
		t.Errorf("expected ErrJTITooLong, got %v", err)
	}
}

func TestCapacityBound(t *testing.T) {
	t.Log("Creating cache with capacity 3")
	cache := NewMemoryReplayCache(
		WithMaxEntries(3),
		WithCleanupInterval(time.Hour),
	)
	defer cache.Close()

	for i := 0; i < 3; i++ {
		if _, err := cache.CheckAndRecord(fmt.Sprintf("cap-jti-%d", i)); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}

	t.Log("Fourth insert must fail with ErrCacheFull instead of clearing the set")
	if _, err := cache.CheckAndRecord("cap-jti-overflow"); err != ErrCacheFull {
		t.Errorf("expected ErrCacheFull, got %v", err)
	}

	t.Log("Previously recorded jtis are still replays")
	isReplay, err := cache.CheckAndRecord("cap-jti-0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isReplay {
		t.Error("existing jti should still be detected after overflow")
	}
}

func TestCleanupReclaimsCapacity(t *testing.T) {
	cache := NewMemoryReplayCache(
		WithTTL(20*time.Millisecond),
		WithMaxEntries(2),
		WithCleanupInterval(10*time.Millisecond),
	)
	defer cache.Close()

	for i := 0; i < 2; i++ {
		if _, err := cache.CheckAndRecord(fmt.Sprintf("reclaim-%d", i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	t.Log("Waiting for cleanup to remove expired entries")
	time.Sleep(60 * time.Millisecond)

	if _, err := cache.CheckAndRecord("reclaim-new"); err != nil {
		t.Errorf("cleanup should have freed capacity: %v", err)
	}
}

func TestCloseStopsCleanup(t *testing.T) {
	cache := NewMemoryReplayCache(WithCleanupInterval(5 * time.Millisecond))
	if err := cache.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Close must be safe to call once and must join the cleanup goroutine.
}
