package fingerprint

import (
	"math"
	"testing"
)

func TestSimilarityIdentity(t *testing.T) {
	fp := sampleFingerprint()
	score := Similarity(fp, fp)
	if math.Abs(score-1.0) > 1e-9 {
		t.Errorf("identical fingerprints should score 1.0, got %f", score)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a := sampleFingerprint()
	b := sampleFingerprint()
	b.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"
	b.Timezone = "Europe/London"

	ab := Similarity(a, b)
	ba := Similarity(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("similarity must be symmetric: %f vs %f", ab, ba)
	}
}

func TestSimilarityNilInput(t *testing.T) {
	fp := sampleFingerprint()
	if Similarity(nil, fp) != 0 {
		t.Error("nil stored fingerprint should score 0")
	}
	if Similarity(fp, nil) != 0 {
		t.Error("nil current fingerprint should score 0")
	}
	if Similarity(nil, nil) != 0 {
		t.Error("two nil fingerprints should score 0")
	}
}

func TestUserAgentVersionProximity(t *testing.T) {
	t.Log("Same browser family with a small version delta should keep most of the UA weight")
	chrome120 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	chrome117 := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

	score := userAgentSimilarity(chrome120, chrome117)
	want := 1 - 3.0/10
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("expected %f for delta 3, got %f", want, score)
	}
	if score <= 0.5 {
		t.Errorf("delta <= 5 in the same family should score above 0.5, got %f", score)
	}
}

func TestUserAgentDifferentFamily(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefox := "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"

	if score := userAgentSimilarity(chrome, firefox); score != 0 {
		t.Errorf("different families should score 0, got %f", score)
	}
}

func TestUserAgentLargeDeltaFloorsAtZero(t *testing.T) {
	chrome120 := "Mozilla/5.0 AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"
	chrome100 := "Mozilla/5.0 AppleWebKit/537.36 Chrome/100.0.0.0 Safari/537.36"

	if score := userAgentSimilarity(chrome120, chrome100); score != 0 {
		t.Errorf("delta 20 should floor at 0, got %f", score)
	}
}

func TestUserAgentUnparseable(t *testing.T) {
	chrome := "Mozilla/5.0 AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"
	if score := userAgentSimilarity(chrome, "definitely-not-a-browser"); score != 0 {
		t.Errorf("unparseable UA against a browser UA should score 0, got %f", score)
	}

	t.Log("Two identical unparseable strings still match exactly")
	if score := userAgentSimilarity("custom-agent/1.0", "custom-agent/1.0"); score != 1 {
		t.Errorf("identical strings should score 1 regardless of parseability, got %f", score)
	}
}

func TestParseUserAgentFamilies(t *testing.T) {
	cases := []struct {
		name   string
		ua     string
		family string
		major  int
	}{
		{"chrome", "Mozilla/5.0 AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36", "chrome", 120},
		{"firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "firefox", 121},
		{"safari", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Version/17.1 Safari/605.1.15", "safari", 17},
		{"edge", "Mozilla/5.0 AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91", "edge", 120},
		{"opera", "Mozilla/5.0 AppleWebKit/537.36 Chrome/119.0.0.0 Safari/537.36 OPR/105.0.0.0", "opera", 105},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := parseUserAgent(tc.ua)
			if !v.parsed {
				t.Fatal("expected UA to parse")
			}
			if v.family != tc.family || v.major != tc.major {
				t.Errorf("expected %s/%d, got %s/%d", tc.family, tc.major, v.family, v.major)
			}
		})
	}
}

func TestSimilarityWeightedPartialMatch(t *testing.T) {
	a := sampleFingerprint()
	b := sampleFingerprint()
	b.Timezone = "Europe/Berlin"       // drops 0.10
	b.GraphicsRenderer = "SwiftShader" // drops 0.05

	score := Similarity(a, b)
	want := 1.0 - 0.10 - 0.05
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("expected %f, got %f", want, score)
	}
}
