package audit

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// captureEmitter records events and optionally fails.
type captureEmitter struct {
	events []Event
	err    error
}

func (c *captureEmitter) Emit(ev Event) error {
	c.events = append(c.events, ev)
	return c.err
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		et   EventType
		want Severity
	}{
		{EventAuthSuccess, SeverityInfo},
		{EventKeyRegistered, SeverityNotice},
		{EventAuthFailure, SeverityWarning},
		{EventKeyRevoked, SeverityWarning},
		{EventBotFlagged, SeverityWarning},
		{EventType("made.up"), SeverityWarning},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.et); got != tt.want {
			t.Errorf("SeverityFor(%s) = %v, want %v", tt.et, got, tt.want)
		}
	}
}

func TestEventConstructors(t *testing.T) {
	ev := NewAuthFailure("user-1", "203.0.113.7", "dpop.replay", "GET", "/api/v1/whoami")
	if ev.Type != EventAuthFailure || ev.Severity != SeverityWarning {
		t.Errorf("event = %+v", ev)
	}
	if ev.Details["reason"] != "dpop.replay" {
		t.Errorf("reason = %q", ev.Details["reason"])
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}

	reg := NewKeyRegistered("acct-1", "dk_1", "thumb", "203.0.113.7")
	if reg.Details["device_key_id"] != "dk_1" || reg.Details["thumbprint"] != "thumb" {
		t.Errorf("details = %v", reg.Details)
	}

	bot := NewBotFlagged("c1234", "203.0.113.7", 85)
	if bot.Details["score"] != "85" {
		t.Errorf("score = %q", bot.Details["score"])
	}
}

func TestLogEmitterWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	e := NewLogEmitter(logger)
	if err := e.Emit(NewAuthSuccess("user-1", "203.0.113.7", "GET", "/x", 12)); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"auth.success", "user-1", "203.0.113.7", "latency_ms=12"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestAuthEventEmitterFansOut(t *testing.T) {
	a := &captureEmitter{}
	b := &captureEmitter{}
	e := NewAuthEventEmitter(nil, a, b)

	e.EmitAuthSuccess("user-1", "ip", "GET", "/x", 3)
	e.EmitAuthFailure("user-1", "ip", "auth.invalid_token", "GET", "/x")

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Fatalf("backends saw %d and %d events, want 2 each", len(a.events), len(b.events))
	}
	if a.events[0].Type != EventAuthSuccess || a.events[1].Type != EventAuthFailure {
		t.Errorf("event order = %v, %v", a.events[0].Type, a.events[1].Type)
	}
}

func TestAuthEventEmitterSwallowsBackendErrors(t *testing.T) {
	failing := &captureEmitter{err: errors.New("sink down")}
	healthy := &captureEmitter{}

	var buf bytes.Buffer
	e := NewAuthEventEmitter(slog.New(slog.NewTextHandler(&buf, nil)), failing, healthy)

	// The failing backend must not stop the healthy one.
	e.EmitAuthSuccess("user-1", "ip", "GET", "/x", 1)

	if len(healthy.events) != 1 {
		t.Errorf("healthy backend saw %d events, want 1", len(healthy.events))
	}
	if !strings.Contains(buf.String(), "audit emit failed") {
		t.Error("backend error should be logged")
	}
}
