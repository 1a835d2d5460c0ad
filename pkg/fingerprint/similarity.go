package fingerprint

import (
	"regexp"
	"strconv"
)

// Per-field weights. They sum to 1.0; Similarity returns a value in [0,1].
const (
	weightUserAgent           = 0.30
	weightLanguages           = 0.10
	weightTimezone            = 0.10
	weightScreen              = 0.20
	weightHardwareConcurrency = 0.10
	weightDeviceMemory        = 0.10
	weightPlatform            = 0.05
	weightGraphicsRenderer    = 0.05
)

// Similarity computes a weighted similarity score between two fingerprints.
//
// Exact field matches contribute their full weight. The user agent field
// falls back to browser-family plus major-version proximity, because browser
// auto-updates change the version between sessions while everything else
// about the device stays put.
//
// Returns 0 when either input is nil. Symmetric: Similarity(a, b) equals
// Similarity(b, a).
func Similarity(stored, current *Fingerprint) float64 {
	if stored == nil || current == nil {
		return 0
	}

	a := normalize(stored)
	b := normalize(current)

	score := weightUserAgent * userAgentSimilarity(a.UserAgent, b.UserAgent)
	if a.Languages == b.Languages {
		score += weightLanguages
	}
	if a.Timezone == b.Timezone {
		score += weightTimezone
	}
	if a.Screen == b.Screen {
		score += weightScreen
	}
	if a.HardwareConcurrency == b.HardwareConcurrency {
		score += weightHardwareConcurrency
	}
	if a.DeviceMemory == b.DeviceMemory {
		score += weightDeviceMemory
	}
	if a.Platform == b.Platform {
		score += weightPlatform
	}
	if a.GraphicsRenderer == b.GraphicsRenderer {
		score += weightGraphicsRenderer
	}

	return score
}

// browserVersion is the parsed family and major version of a user agent.
type browserVersion struct {
	family string
	major  int
	parsed bool
}

// uaPatterns maps browser families to the token carrying their version.
// Order matters: Edge and Opera embed "Chrome", and Chrome embeds "Safari",
// so the more specific families are checked first.
var uaPatterns = []struct {
	family  string
	pattern *regexp.Regexp
}{
	{"edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/(\d+)`)},
	{"opera", regexp.MustCompile(`OPR/(\d+)`)},
	{"chrome", regexp.MustCompile(`Chrome/(\d+)`)},
	{"firefox", regexp.MustCompile(`Firefox/(\d+)`)},
	{"safari", regexp.MustCompile(`Version/(\d+).*Safari`)},
}

// parseUserAgent extracts the browser family and major version.
func parseUserAgent(ua string) browserVersion {
	for _, p := range uaPatterns {
		if m := p.pattern.FindStringSubmatch(ua); m != nil {
			major, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return browserVersion{family: p.family, major: major, parsed: true}
		}
	}
	return browserVersion{}
}

// userAgentSimilarity scores two user agents in [0,1].
//
// Identical strings score 1. Same browser family scores by major-version
// proximity: 1 - delta/10, floored at 0. Different families, or strings
// that don't parse as any known browser, score 0.
func userAgentSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}

	va := parseUserAgent(a)
	vb := parseUserAgent(b)
	if !va.parsed || !vb.parsed {
		return 0
	}
	if va.family != vb.family {
		return 0
	}

	delta := va.major - vb.major
	if delta < 0 {
		delta = -delta
	}
	score := 1 - float64(delta)/10
	if score < 0 {
		return 0
	}
	return score
}

// Family returns the lowercase browser family of a user agent string, or
// "unknown" when it does not parse as any known browser.
func Family(ua string) string {
	v := parseUserAgent(ua)
	if !v.parsed {
		return "unknown"
	}
	return v.family
}
