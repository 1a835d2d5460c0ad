// Package behavior classifies clients as bot-like from request-pattern
// statistics.
//
// A Classifier keeps one sliding window of recent requests per logical
// client identity and derives a 0-100 suspicion score from heuristic
// signals (volume, timing uniformity, path diversity, sequential path
// enumeration, user-agent churn). A separate stateless predicate evaluates
// a single request for automation tells regardless of history.
//
// The classifier never blocks a request itself; it reports an Assessment
// and lets the caller's policy decide.
package behavior

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Assessment is the classifier's verdict for one observed request.
type Assessment struct {
	// State is the client's tracking state after this request.
	State State

	// Score is the derived suspicion score, 0-100.
	Score int

	// Bot is true when the stateless predicate fired on this request OR
	// the tracked score crossed the flag threshold.
	Bot bool

	// RateExceeded is true when the client is over its volume budget and
	// the caller should answer 429.
	RateExceeded bool
}

// Classifier tracks per-client request behavior. Safe for concurrent use.
type Classifier struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	windows map[string]*window

	stopTrim chan struct{}
	trimDone chan struct{}
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger for the classifier.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// New creates a Classifier with the given configuration and starts its
// housekeeping loop. Call Close to stop it.
func New(cfg Config, opts ...Option) *Classifier {
	c := &Classifier{
		cfg:      cfg,
		logger:   slog.Default(),
		windows:  make(map[string]*window),
		stopTrim: make(chan struct{}),
		trimDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	interval := cfg.TrimInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go c.trimLoop(interval)

	return c
}

// Observe records a request for a client identity and returns the resulting
// assessment. The window update and score derivation happen under the
// classifier lock; the lock is never held across I/O.
func (c *Classifier) Observe(clientID string, r *http.Request) Assessment {
	now := time.Now()
	path := r.URL.Path
	ua := r.UserAgent()

	statelessBot := c.isBotRequest(r)

	c.mu.Lock()
	w, ok := c.windows[clientID]
	if !ok {
		w = &window{}
		if c.cfg.RequestsPerSecond > 0 {
			w.limiter = rate.NewLimiter(c.cfg.RequestsPerSecond, c.cfg.Burst)
		}
		c.windows[clientID] = w
	}

	rateExceeded := w.limiter != nil && !w.limiter.Allow()
	w.record(&c.cfg, now, path, ua)
	state, score := w.state, w.score
	c.mu.Unlock()

	assessment := Assessment{
		State:        state,
		Score:        score,
		Bot:          statelessBot || score >= c.cfg.FlagThreshold,
		RateExceeded: rateExceeded,
	}

	if assessment.Bot || rateExceeded {
		c.logger.Debug("suspicious client activity",
			"client", clientID,
			"state", state.String(),
			"score", score,
			"stateless_bot", statelessBot,
			"rate_exceeded", rateExceeded,
		)
	}

	return assessment
}

// Lookup returns the current state and score for a client identity without
// recording a request.
func (c *Classifier) Lookup(clientID string) (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[clientID]
	if !ok {
		return StateUnknown, 0
	}
	return w.state, w.score
}

// Close stops the housekeeping loop.
func (c *Classifier) Close() error {
	close(c.stopTrim)
	<-c.trimDone
	return nil
}

// trimLoop periodically trims idle windows and evicts empty ones, keeping
// lock hold times short so request handling never stalls behind it.
func (c *Classifier) trimLoop(interval time.Duration) {
	defer close(c.trimDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopTrim:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep trims every window and evicts those left empty. Eviction resets the
// client to Unknown, which is the only way out of Flagged.
func (c *Classifier) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, w := range c.windows {
		w.trim(&c.cfg, now)
		if w.empty() {
			delete(c.windows, id)
		}
	}
}

// isBotRequest is the stateless predicate: it inspects only the current
// request, independent of any tracked history.
func (c *Classifier) isBotRequest(r *http.Request) bool {
	// Known automation-tool user agents.
	ua := strings.ToLower(r.UserAgent())
	if ua == "" {
		return true
	}
	for _, sub := range c.cfg.AutomationUASubstrings {
		if strings.Contains(ua, sub) {
			return true
		}
	}

	// Real browsers send the standard content-negotiation headers; missing
	// more than one of them is an automation tell.
	missing := 0
	accept := r.Header.Get("Accept")
	if accept == "" {
		missing++
	}
	if r.Header.Get("Accept-Language") == "" {
		missing++
	}
	if r.Header.Get("Accept-Encoding") == "" {
		missing++
	}
	if missing > 1 {
		return true
	}

	// A wildcard-only Accept header is what HTTP libraries default to.
	if strings.TrimSpace(accept) == "*/*" {
		return true
	}

	// Browsers navigating below the root send a referrer; tools don't.
	path := r.URL.Path
	if r.Header.Get("Referer") == "" && path != "/" && !strings.HasPrefix(path, "/api") {
		return true
	}

	return false
}
