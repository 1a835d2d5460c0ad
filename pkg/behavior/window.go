package behavior

import (
	"regexp"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// State is a client identity's position in the tracking lifecycle.
type State int

const (
	// StateUnknown means the client has never been observed (or its window
	// aged out entirely and was evicted).
	StateUnknown State = iota

	// StateTracked means requests are being recorded and scored.
	StateTracked

	// StateFlagged means the suspicion score crossed the threshold. There
	// is no recovery transition; the client must go fully idle past the
	// retention horizon to reset.
	StateFlagged
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateTracked:
		return "tracked"
	case StateFlagged:
		return "flagged"
	default:
		return "unknown"
	}
}

// sample is one recorded request.
type sample struct {
	at   time.Time
	path string
	ua   string
}

// window holds the per-client sliding request history and derived score.
// Access is guarded by the Classifier's lock; the window itself is not
// synchronized.
type window struct {
	samples []sample
	state   State
	score   int
	limiter *rate.Limiter
}

// trailingInt matches a path whose final segment ends in an integer,
// e.g. /items/41 or /page2.
var trailingInt = regexp.MustCompile(`^(.*?)(\d+)$`)

// record appends a request and re-derives the suspicion score.
func (w *window) record(cfg *Config, now time.Time, path, ua string) {
	w.samples = append(w.samples, sample{at: now, path: path, ua: ua})
	w.trim(cfg, now)
	w.rescore(cfg)

	if w.state == StateUnknown {
		w.state = StateTracked
	}
	if w.score >= cfg.FlagThreshold {
		w.state = StateFlagged
	}
	// A Flagged window stays Flagged even if the score later drops; only
	// full eviction resets the state.
}

// trim drops samples older than the retention horizon.
func (w *window) trim(cfg *Config, now time.Time) {
	cutoff := now.Add(-cfg.RetentionHorizon)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// empty reports whether the window holds no samples.
func (w *window) empty() bool {
	return len(w.samples) == 0
}

// rescore recomputes the suspicion score as the sum of independently capped
// signals, clamped to [0,100].
func (w *window) rescore(cfg *Config) {
	total := len(w.samples)
	if total == 0 {
		w.score = 0
		return
	}

	score := 0
	score += w.volumeSignal(cfg, total)
	score += w.timingSignal(cfg)
	score += w.diversitySignal(cfg, total)
	score += w.sequentialSignal(cfg)
	score += w.uaChurnSignal(cfg)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	w.score = score
}

// volumeSignal scores raw request counts inside the window.
func (w *window) volumeSignal(cfg *Config, total int) int {
	if total > cfg.VolumeHighCount {
		return cfg.VolumeHighScore
	}
	if total > cfg.VolumeMediumCount {
		return cfg.VolumeMediumScore
	}
	return 0
}

// timingSignal scores near-constant inter-arrival intervals. Humans click
// irregularly; scripts fire on a timer.
func (w *window) timingSignal(cfg *Config) int {
	if len(w.samples) < cfg.TimingMinRequests {
		return 0
	}

	intervals := make([]float64, 0, len(w.samples)-1)
	for i := 1; i < len(w.samples); i++ {
		intervals = append(intervals, w.samples[i].at.Sub(w.samples[i-1].at).Seconds())
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))

	var variance float64
	for _, iv := range intervals {
		d := iv - mean
		variance += d * d
	}
	variance /= float64(len(intervals))

	if variance < cfg.TimingMaxVariance && mean < cfg.TimingMaxMean.Seconds() {
		return cfg.TimingScore
	}
	return 0
}

// diversitySignal scores the distinct-path ratio at both extremes: near-total
// breadth looks like crawling, near-total repetition looks like hammering.
func (w *window) diversitySignal(cfg *Config, total int) int {
	distinct := make(map[string]struct{}, total)
	for _, s := range w.samples {
		distinct[s.path] = struct{}{}
	}
	ratio := float64(len(distinct)) / float64(total)

	if ratio > cfg.DiversityHighRatio {
		return cfg.DiversityHighScore
	}
	if ratio < cfg.DiversityLowRatio {
		return cfg.DiversityLowScore
	}
	return 0
}

// sequentialSignal fires when any path with a trailing integer n has n+1 or
// n-1 also observed. Walking adjacent IDs is enumeration behavior.
func (w *window) sequentialSignal(cfg *Config) int {
	// prefix -> set of trailing integers seen under that prefix
	seen := make(map[string]map[int64]struct{})
	for _, s := range w.samples {
		m := trailingInt.FindStringSubmatch(s.path)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		if seen[m[1]] == nil {
			seen[m[1]] = make(map[int64]struct{})
		}
		seen[m[1]][n] = struct{}{}
	}

	for _, nums := range seen {
		for n := range nums {
			if _, ok := nums[n+1]; ok {
				return cfg.SequentialScore
			}
			if _, ok := nums[n-1]; ok {
				return cfg.SequentialScore
			}
		}
	}
	return 0
}

// uaChurnSignal fires when one client identity rotates through more distinct
// user agents than any real browser session would.
func (w *window) uaChurnSignal(cfg *Config) int {
	distinct := make(map[string]struct{})
	for _, s := range w.samples {
		distinct[s.ua] = struct{}{}
	}
	if len(distinct) > cfg.UAChurnMax {
		return cfg.UAChurnScore
	}
	return 0
}
