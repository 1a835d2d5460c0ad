// Package audit emits structured events for security-relevant outcomes:
// authentication successes and failures, device-key lifecycle changes, and
// bot classifications.
//
// Emission never blocks or fails a request; backend errors are logged and
// dropped.
package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityNotice:
		return "NOTICE"
	case SeverityWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a security-relevant audit event.
type EventType string

const (
	EventAuthSuccess   EventType = "auth.success"
	EventAuthFailure   EventType = "auth.failure"
	EventKeyRegistered EventType = "key.registered"
	EventKeyRevoked    EventType = "key.revoked"
	EventBotFlagged    EventType = "bot.flagged"
)

// severityMap maps each event type to its syslog severity.
var severityMap = map[EventType]Severity{
	EventAuthSuccess:   SeverityInfo,
	EventAuthFailure:   SeverityWarning,
	EventKeyRegistered: SeverityNotice,
	EventKeyRevoked:    SeverityWarning,
	EventBotFlagged:    SeverityWarning,
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning (fail-secure: treat unknowns
// as concerning).
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event represents a security-relevant audit event with structured fields.
type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	ActorID   string            // account or device-key id depending on event
	IP        string            // Client IP address
	Details   map[string]string // Event-specific fields
}

// NewAuthSuccess creates an auth.success event for accepted requests.
func NewAuthSuccess(actorID, ip, method, path string, latencyMS int64) Event {
	return Event{
		Type:      EventAuthSuccess,
		Severity:  SeverityInfo,
		Timestamp: time.Now(),
		ActorID:   actorID,
		IP:        ip,
		Details: map[string]string{
			"method":     method,
			"path":       path,
			"latency_ms": strconv.FormatInt(latencyMS, 10),
		},
	}
}

// NewAuthFailure creates an auth.failure event for rejected authentication.
func NewAuthFailure(actorID, ip, reason, method, path string) Event {
	return Event{
		Type:      EventAuthFailure,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		ActorID:   actorID,
		IP:        ip,
		Details: map[string]string{
			"reason": reason,
			"method": method,
			"path":   path,
		},
	}
}

// NewKeyRegistered creates a key.registered event for a new device key.
func NewKeyRegistered(accountID, deviceKeyID, thumbprint, ip string) Event {
	return Event{
		Type:      EventKeyRegistered,
		Severity:  SeverityNotice,
		Timestamp: time.Now(),
		ActorID:   accountID,
		IP:        ip,
		Details: map[string]string{
			"device_key_id": deviceKeyID,
			"thumbprint":    thumbprint,
		},
	}
}

// NewKeyRevoked creates a key.revoked event for a deactivated device key.
func NewKeyRevoked(accountID, deviceKeyID, reason string) Event {
	return Event{
		Type:      EventKeyRevoked,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		ActorID:   accountID,
		Details: map[string]string{
			"device_key_id": deviceKeyID,
			"reason":        reason,
		},
	}
}

// NewBotFlagged creates a bot.flagged event for a client crossing the
// suspicion threshold.
func NewBotFlagged(clientID, ip string, score int) Event {
	return Event{
		Type:      EventBotFlagged,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
		ActorID:   clientID,
		IP:        ip,
		Details: map[string]string{
			"score": strconv.Itoa(score),
		},
	}
}
