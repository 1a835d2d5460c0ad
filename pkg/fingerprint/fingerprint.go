// Package fingerprint computes stable hashes and similarity scores for
// device/browser fingerprints.
//
// A fingerprint is a snapshot of client-reported characteristics captured at
// request time. It is a soft, secondary binding signal: the proof-of-possession
// key is the primary binding, and fingerprint drift (browser updates, monitor
// changes) is expected. Similarity scoring therefore weighs fields instead of
// requiring exact equality.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Fingerprint is an immutable snapshot of device/browser characteristics.
type Fingerprint struct {
	UserAgent           string `json:"userAgent"`
	Languages           string `json:"languages"`
	Timezone            string `json:"timezone"`
	Screen              string `json:"screen"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
	DeviceMemory        int    `json:"deviceMemory"`
	Platform            string `json:"platform"`
	GraphicsRenderer    string `json:"graphicsRenderer"`
}

// Field defaults applied during normalization. Missing values hash the same
// way on every request, so a client that never reports deviceMemory still
// produces a stable hash.
const (
	defaultString = "unknown"
	defaultInt    = 0
)

// normalize returns a copy with missing fields replaced by defaults and
// string fields trimmed. Hashing and comparison both operate on the
// normalized form.
func normalize(fp *Fingerprint) Fingerprint {
	n := Fingerprint{
		UserAgent:           strings.TrimSpace(fp.UserAgent),
		Languages:           strings.TrimSpace(fp.Languages),
		Timezone:            strings.TrimSpace(fp.Timezone),
		Screen:              strings.TrimSpace(fp.Screen),
		HardwareConcurrency: fp.HardwareConcurrency,
		DeviceMemory:        fp.DeviceMemory,
		Platform:            strings.TrimSpace(fp.Platform),
		GraphicsRenderer:    strings.TrimSpace(fp.GraphicsRenderer),
	}
	if n.UserAgent == "" {
		n.UserAgent = defaultString
	}
	if n.Languages == "" {
		n.Languages = defaultString
	}
	if n.Timezone == "" {
		n.Timezone = defaultString
	}
	if n.Screen == "" {
		n.Screen = defaultString
	}
	if n.Platform == "" {
		n.Platform = defaultString
	}
	if n.GraphicsRenderer == "" {
		n.GraphicsRenderer = defaultString
	}
	if n.HardwareConcurrency < 0 {
		n.HardwareConcurrency = defaultInt
	}
	if n.DeviceMemory < 0 {
		n.DeviceMemory = defaultInt
	}
	return n
}

// Hash computes a stable, order-insensitive hash of a fingerprint.
//
// Fields are normalized, serialized in a fixed sorted key order, and folded
// through FNV-1a. The result is a 16-character lowercase hex string. The hash
// is not cryptographic; it is an identity shorthand for storage and logging,
// never an integrity check.
//
// Identical normalized field sets always yield an identical hash.
func Hash(fp *Fingerprint) string {
	if fp == nil {
		fp = &Fingerprint{}
	}
	n := normalize(fp)

	// Keys in fixed sorted order. Changing this order changes every stored
	// hash, so treat it as a format version.
	serialized := fmt.Sprintf(
		"deviceMemory=%d|graphicsRenderer=%s|hardwareConcurrency=%d|languages=%s|platform=%s|screen=%s|timezone=%s|userAgent=%s",
		n.DeviceMemory, n.GraphicsRenderer, n.HardwareConcurrency,
		n.Languages, n.Platform, n.Screen, n.Timezone, n.UserAgent,
	)

	h := fnv.New64a()
	h.Write([]byte(serialized))
	return fmt.Sprintf("%016x", h.Sum64())
}
