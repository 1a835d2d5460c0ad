package behavior

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// browserRequest builds a request carrying the header set a real browser sends.
func browserRequest(path string) *http.Request {
	r := httptest.NewRequest("GET", path, nil)
	r.Header.Set("User-Agent", browserUA)
	r.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	r.Header.Set("Referer", "https://app.example.com/")
	return r
}

// testConfig disables throttling so scoring tests aren't perturbed by it.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestsPerSecond = 0
	cfg.TrimInterval = time.Hour
	return cfg
}

func TestFirstObservationTransitionsToTracked(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	t.Log("Client starts Unknown")
	state, score := c.Lookup("client-1")
	if state != StateUnknown || score != 0 {
		t.Errorf("expected Unknown/0 before first request, got %s/%d", state, score)
	}

	t.Log("First request moves the client to Tracked")
	a := c.Observe("client-1", browserRequest("/dashboard"))
	if a.State != StateTracked {
		t.Errorf("expected Tracked after first request, got %s", a.State)
	}
	if a.Bot {
		t.Error("single browser request should not be a bot")
	}
}

func TestSequentialCrawlerIsFlagged(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	defer c.Close()

	t.Log("Issuing 60 requests to 60 sequential paths at near-identical intervals")
	var last Assessment
	for i := 0; i < 60; i++ {
		last = c.Observe("crawler", browserRequest(fmt.Sprintf("/items/%d", i+1)))
	}

	if last.State != StateFlagged {
		t.Errorf("expected Flagged, got %s (score %d)", last.State, last.Score)
	}
	if last.Score < 70 {
		t.Errorf("expected score >= 70, got %d", last.Score)
	}
	if !last.Bot {
		t.Error("flagged crawler should be classified as bot")
	}
	t.Logf("Crawler flagged with score %d", last.Score)
}

func TestBenignBrowserStaysClean(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	defer c.Close()

	t.Log("Simulating ~3 requests/minute to two paths over 10 minutes")
	// Backdate samples directly so the test doesn't sleep: 30 requests,
	// alternating two paths, 20 seconds apart.
	now := time.Now()
	c.mu.Lock()
	w := &window{}
	for i := 0; i < 30; i++ {
		path := "/inbox"
		if i%2 == 1 {
			path = "/settings"
		}
		w.samples = append(w.samples, sample{
			at:   now.Add(time.Duration(i-30) * 20 * time.Second),
			path: path,
			ua:   browserUA,
		})
	}
	c.windows["benign"] = w
	c.mu.Unlock()

	a := c.Observe("benign", browserRequest("/inbox"))
	if a.State == StateFlagged {
		t.Errorf("benign client should not be flagged, score %d", a.Score)
	}
	if a.Score >= cfg.FlagThreshold {
		t.Errorf("benign score %d should stay under threshold %d", a.Score, cfg.FlagThreshold)
	}
	if a.Bot {
		t.Error("benign browser request must not trip the stateless predicate")
	}
}

func TestFlaggedStateSticks(t *testing.T) {
	cfg := testConfig()
	// Low threshold so a handful of requests flags the client.
	cfg.FlagThreshold = 15
	cfg.VolumeMediumCount = 3
	c := New(cfg)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Observe("sticky", browserRequest("/same"))
	}
	state, _ := c.Lookup("sticky")
	if state != StateFlagged {
		t.Fatalf("expected Flagged, got %s", state)
	}

	t.Log("Score dropping below threshold must not un-flag the client")
	c.mu.Lock()
	c.windows["sticky"].samples = c.windows["sticky"].samples[:1]
	c.mu.Unlock()

	a := c.Observe("sticky", browserRequest("/same"))
	if a.State != StateFlagged {
		t.Errorf("flagged client should stay flagged until eviction, got %s", a.State)
	}
}

func TestSweepEvictsIdleWindows(t *testing.T) {
	cfg := testConfig()
	cfg.RetentionHorizon = 50 * time.Millisecond
	c := New(cfg)
	defer c.Close()

	c.Observe("idle", browserRequest("/page"))

	t.Log("Sweeping after the horizon evicts the window and resets to Unknown")
	c.sweep(time.Now().Add(100 * time.Millisecond))

	state, score := c.Lookup("idle")
	if state != StateUnknown || score != 0 {
		t.Errorf("expected eviction to reset to Unknown/0, got %s/%d", state, score)
	}
}

func TestRateExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSecond = rate.Limit(1)
	cfg.Burst = 2
	c := New(cfg)
	defer c.Close()

	t.Log("Burst capacity allows the first requests, then throttles")
	a1 := c.Observe("heavy", browserRequest("/a"))
	a2 := c.Observe("heavy", browserRequest("/b"))
	a3 := c.Observe("heavy", browserRequest("/c"))

	if a1.RateExceeded || a2.RateExceeded {
		t.Error("requests within burst should not be throttled")
	}
	if !a3.RateExceeded {
		t.Error("request beyond burst should be throttled")
	}
}

func TestConcurrentObserve(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	t.Log("Hammering Observe from concurrent goroutines across shared identities")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("client-%d", i%4)
				c.Observe(id, browserRequest(fmt.Sprintf("/p/%d", i)))
			}
		}(g)
	}
	wg.Wait()
	// Success criterion is simply no race/panic; -race covers the rest.
}
