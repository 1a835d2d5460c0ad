package audit

import (
	"log/slog"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// LogEmitter writes audit events to a structured logger. It is the default
// backend when no external sink is configured.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter writing to the given logger.
// If logger is nil, slog.Default() is used.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit writes the event as one structured log record.
func (e *LogEmitter) Emit(ev Event) error {
	args := []any{
		"severity", ev.Severity.String(),
		"actor", ev.ActorID,
		"ip", ev.IP,
	}
	for k, v := range ev.Details {
		args = append(args, k, v)
	}
	e.logger.Info(string(ev.Type), args...)
	return nil
}

// AuthEventEmitter bridges the auth middleware's AuditEmitter interface
// (defined in pkg/auth to avoid import cycles) with audit.Event
// constructors and one or more EventEmitter backends. It satisfies
// auth.AuditEmitter through Go's structural typing without importing
// pkg/auth.
type AuthEventEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewAuthEventEmitter creates an emitter that forwards auth events to the
// given backends. If logger is nil, slog.Default() is used for error
// reporting.
func NewAuthEventEmitter(logger *slog.Logger, backends ...EventEmitter) *AuthEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthEventEmitter{
		backends: backends,
		logger:   logger,
	}
}

// EmitAuthSuccess creates an auth.success Event and writes it to all backends.
// Errors are logged but do not propagate; audit failures must not block requests.
func (e *AuthEventEmitter) EmitAuthSuccess(userID, ip, method, path string, latencyMS int64) {
	ev := NewAuthSuccess(userID, ip, method, path, latencyMS)
	for _, b := range e.backends {
		if err := b.Emit(ev); err != nil {
			e.logger.Error("audit emit failed", "event", "auth.success", "error", err)
		}
	}
}

// EmitAuthFailure creates an auth.failure Event and writes it to all backends.
// Errors are logged but do not propagate; audit failures must not block requests.
func (e *AuthEventEmitter) EmitAuthFailure(userID, ip, reason, method, path string) {
	ev := NewAuthFailure(userID, ip, reason, method, path)
	for _, b := range e.backends {
		if err := b.Emit(ev); err != nil {
			e.logger.Error("audit emit failed", "event", "auth.failure", "error", err)
		}
	}
}
