package behavior

import (
	"time"

	"golang.org/x/time/rate"
)

// Config holds the classifier's tuning parameters. The detection rules are
// policy data, not algorithm: every weight, threshold, and pattern list is
// injectable so deployments can tune them and tests can pin them.
type Config struct {
	// RetentionHorizon is how long a request stays in a client's window.
	// A flagged client resets only by going idle past this horizon.
	RetentionHorizon time.Duration

	// FlagThreshold is the suspicion score at which a client transitions
	// to Flagged. Scores range 0-100.
	FlagThreshold int

	// Volume signal: request counts inside the window.
	VolumeHighCount   int // requests for the high-volume score
	VolumeHighScore   int
	VolumeMediumCount int // requests for the medium-volume score
	VolumeMediumScore int

	// Timing-uniformity signal: near-constant inter-arrival intervals at a
	// short mean imply scripted issuance.
	TimingMinRequests int           // minimum requests before the signal evaluates
	TimingMaxVariance float64       // variance ceiling, in seconds squared
	TimingMaxMean     time.Duration // mean interval ceiling
	TimingScore       int

	// Path-diversity signal: ratio of distinct paths to total requests.
	DiversityHighRatio float64 // above this ratio: crawling breadth
	DiversityHighScore int
	DiversityLowRatio  float64 // below this ratio: single-endpoint hammering
	DiversityLowScore  int

	// Sequential-path signal: a path ending in n with n±1 also observed.
	SequentialScore int

	// User-agent churn signal: distinct user agents from one client identity.
	UAChurnMax   int // distinct UAs tolerated before the signal fires
	UAChurnScore int

	// AutomationUASubstrings are lowercase substrings that mark a user
	// agent as an automation tool for the stateless predicate.
	AutomationUASubstrings []string

	// RequestsPerSecond and Burst bound per-client request volume; beyond
	// them the classifier reports a rate-exceeded decision (HTTP 429).
	// A zero RequestsPerSecond disables throttling.
	RequestsPerSecond rate.Limit
	Burst             int

	// TrimInterval is how often the housekeeping loop sweeps idle windows.
	TrimInterval time.Duration
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{
		RetentionHorizon: 10 * time.Minute,
		FlagThreshold:    70,

		VolumeHighCount:   50,
		VolumeHighScore:   30,
		VolumeMediumCount: 20,
		VolumeMediumScore: 15,

		TimingMinRequests: 5,
		TimingMaxVariance: 0.25, // near-constant: stddev under half a second
		TimingMaxMean:     3 * time.Second,
		TimingScore:       25,

		DiversityHighRatio: 0.8,
		DiversityHighScore: 20,
		DiversityLowRatio:  0.1,
		DiversityLowScore:  15,

		SequentialScore: 20,

		UAChurnMax:   3,
		UAChurnScore: 15,

		AutomationUASubstrings: []string{
			"curl", "wget", "python-requests", "python-urllib", "scrapy",
			"headless", "phantomjs", "selenium", "puppeteer", "playwright",
			"go-http-client", "okhttp", "java/", "libwww", "httpclient",
			"bot", "spider", "crawler", "scraper",
		},

		RequestsPerSecond: 20,
		Burst:             40,

		TrimInterval: time.Minute,
	}
}
