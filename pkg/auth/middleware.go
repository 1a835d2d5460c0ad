package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gobeyondidentity/perimeter/pkg/fingerprint"
)

// AuditEmitter emits structured audit events for authentication outcomes.
// Implementations live in pkg/audit; defined here to avoid import cycles.
type AuditEmitter interface {
	// EmitAuthSuccess records a successful authentication.
	EmitAuthSuccess(userID, ip, method, path string, latencyMS int64)
	// EmitAuthFailure records a failed authentication.
	EmitAuthFailure(userID, ip, reason, method, path string)
}

// nopAuditEmitter discards all events. Used when no emitter is configured.
type nopAuditEmitter struct{}

func (nopAuditEmitter) EmitAuthSuccess(string, string, string, string, int64) {}
func (nopAuditEmitter) EmitAuthFailure(string, string, string, string, string) {}

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// verdictKey is the context key for the request's verdict.
	verdictKey contextKey = iota
)

// VerdictFromContext extracts the authentication verdict from the context.
// Returns nil if no verdict is present (e.g., bypassed endpoint).
func VerdictFromContext(ctx context.Context) *Verdict {
	v, _ := ctx.Value(verdictKey).(*Verdict)
	return v
}

// ContextWithVerdict returns a new context with the given verdict.
// Primarily used for testing handlers that expect an authenticated request.
func ContextWithVerdict(ctx context.Context, v *Verdict) context.Context {
	return context.WithValue(ctx, verdictKey, v)
}

// Middleware provides request authentication middleware for HTTP handlers.
type Middleware struct {
	authenticator *Authenticator
	logger        *slog.Logger
	auditEmitter  AuditEmitter

	// bypassPaths contains paths that don't require authentication.
	bypassPaths map[string]bool

	// bypassPrefixes contains path prefixes that don't require authentication.
	bypassPrefixes []string

	// debugMode enables detailed error codes in responses. In production
	// mode (default), key lifecycle errors return generic "auth.failed" to
	// prevent identity enumeration. Detailed codes are ALWAYS logged
	// server-side regardless of this setting.
	debugMode bool
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithMiddlewareLogger sets the logger for the middleware.
func WithMiddlewareLogger(logger *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithDebugMode enables detailed error codes in responses. Production mode
// (default) masks key lifecycle errors as "auth.failed".
func WithDebugMode(enabled bool) MiddlewareOption {
	return func(m *Middleware) {
		m.debugMode = enabled
	}
}

// WithAuditEmitter sets the audit event emitter.
func WithAuditEmitter(emitter AuditEmitter) MiddlewareOption {
	return func(m *Middleware) {
		if emitter != nil {
			m.auditEmitter = emitter
		}
	}
}

// WithBypassPaths sets additional exact-match paths that skip authentication.
func WithBypassPaths(paths ...string) MiddlewareOption {
	return func(m *Middleware) {
		for _, p := range paths {
			m.bypassPaths[p] = true
		}
	}
}

// NewMiddleware creates authentication middleware around an Authenticator.
func NewMiddleware(authenticator *Authenticator, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		authenticator: authenticator,
		logger:        slog.Default(),
		auditEmitter:  nopAuditEmitter{},
		bypassPaths: map[string]bool{
			"/health": true,
			"/ready":  true,
		},
		bypassPrefixes: []string{
			"/api/v1/devices/register",
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// maskedCodes are rejection kinds masked as generic auth.failed in
// production responses to prevent key enumeration. The real code is still
// logged and attached to the verdict.
var maskedCodes = map[string]bool{
	ErrCodeKeyNotFound: true,
	ErrCodeKeyInactive: true,
}

// Wrap wraps an HTTP handler with request authentication.
// The handler runs only if authentication succeeds or the path is bypassed.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Recover from panics to prevent unauthenticated access
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("panic in auth middleware",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				m.writeError(w, http.StatusInternalServerError, "internal_error")
				// Do NOT call next - request must not proceed
			}
		}()

		if m.shouldBypass(r.URL.Path) {
			m.logger.Debug("bypassing authentication", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		req := &Request{
			BearerToken: extractBearer(r),
			Proof:       r.Header.Get("DPoP"),
			Method:      r.Method,
			URL:         buildRequestURL(r),
			Fingerprint: extractFingerprint(r),
			HTTPRequest: r,
		}

		verdict := m.authenticator.Authenticate(r.Context(), req)

		if !verdict.Accepted {
			m.logAuthFailure(r, verdict)
			code := verdict.Reason
			if !m.debugMode && maskedCodes[code] {
				code = "auth.failed"
			}
			m.writeError(w, StatusForReason(verdict.Reason), code)
			return
		}

		latencyMS := time.Since(start).Milliseconds()
		m.logAuthSuccess(r, verdict, latencyMS)

		ctx := context.WithValue(r.Context(), verdictKey, verdict)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// shouldBypass returns true if the path should bypass authentication.
func (m *Middleware) shouldBypass(path string) bool {
	if m.bypassPaths[path] {
		return true
	}
	for _, prefix := range m.bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractBearer pulls the bearer token from the Authorization header.
func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// FingerprintHeader carries the client's device fingerprint as
// base64-encoded JSON.
const FingerprintHeader = "X-Device-Fingerprint"

// extractFingerprint decodes the fingerprint header. Returns nil when the
// header is absent or unparseable; an unusable fingerprint scores 0 rather
// than erroring the request.
func extractFingerprint(r *http.Request) *fingerprint.Fingerprint {
	raw := r.Header.Get(FingerprintHeader)
	if raw == "" {
		return nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var fp fingerprint.Fingerprint
	if err := json.Unmarshal(decoded, &fp); err != nil {
		return nil
	}
	return &fp
}

// buildRequestURL reconstructs the full request URL, query string included,
// for proof comparison. The scheme comes from the connection and the host
// prefers X-Forwarded-Host when a proxy sits in front.
func buildRequestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	url := scheme + "://" + host + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	return url
}

// writeError writes a JSON error response. Only the code is included;
// messages stay server-side to prevent information disclosure.
func (m *Middleware) writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": code,
	})
}

// logAuthSuccess logs a successful authentication and emits an audit event.
func (m *Middleware) logAuthSuccess(r *http.Request, v *Verdict, latencyMS int64) {
	ip := ClientIP(r)
	m.logger.Info("auth.success",
		"user", sanitizeForLog(v.UserID),
		"method", r.Method,
		"path", r.URL.Path,
		"ip", ip,
		"suspicion_score", v.Suspicious.Score,
		"fingerprint_mismatch", v.FingerprintMismatch,
		"latency_ms", latencyMS,
	)
	m.auditEmitter.EmitAuthSuccess(v.UserID, ip, r.Method, r.URL.Path, latencyMS)
}

// logAuthFailure logs an authentication failure and emits an audit event.
func (m *Middleware) logAuthFailure(r *http.Request, v *Verdict) {
	ip := ClientIP(r)
	m.logger.Warn("auth.failure",
		"reason", v.Reason,
		"user", sanitizeForLog(v.UserID),
		"method", r.Method,
		"path", r.URL.Path,
		"ip", ip,
		"suspicion_score", v.Suspicious.Score,
	)
	m.auditEmitter.EmitAuthFailure(v.UserID, ip, v.Reason, r.Method, r.URL.Path)
}

// sanitizeForLog sanitizes a string for logging to prevent log injection.
func sanitizeForLog(s string) string {
	result := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1 // Remove character
		}
		return r
	}, s)

	if len(result) > 256 {
		result = result[:256] + "..."
	}

	return result
}

// ClientIP extracts the client IP from the request, preferring proxy
// headers over the raw remote address.
func ClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// Take the first IP in the chain
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	// Fall back to RemoteAddr, stripping the port if present
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		if strings.Contains(addr, "[") {
			// IPv6 [::1]:port format
			if closeIdx := strings.LastIndex(addr, "]"); closeIdx != -1 && closeIdx < idx {
				return addr[:idx]
			}
		} else {
			return addr[:idx]
		}
	}
	return addr
}
