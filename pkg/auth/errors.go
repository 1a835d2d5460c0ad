package auth

import (
	"fmt"
	"net/http"
)

// Authentication error codes. Verification failures answer 401, confirmed
// bot classification answers 403, and volume throttling answers 429.
const (
	ErrCodeMissingToken        = "auth.missing_token"        // HTTP 401 - No bearer token on the request
	ErrCodeInvalidToken        = "auth.invalid_token"        // HTTP 401 - Bearer token rejected by the issuer
	ErrCodeMissingProof        = "auth.missing_proof"        // HTTP 401 - No DPoP proof header
	ErrCodeKeyNotFound         = "auth.key_not_found"        // HTTP 401 - Device key id is not registered
	ErrCodeKeyInactive         = "auth.key_inactive"         // HTTP 401 - Device key was revoked
	ErrCodeKeyBindingMismatch  = "auth.key_binding_mismatch" // HTTP 401 - Token thumbprint does not match the stored key
	ErrCodeFingerprintMismatch = "auth.fingerprint_mismatch" // HTTP 401 - Fingerprint similarity under threshold (policy-gated)
	ErrCodeBotClassified       = "bot.classified"            // HTTP 403 - Client classified as automated
	ErrCodeRateExceeded        = "bot.rate_exceeded"         // HTTP 429 - Client over its volume budget
)

// httpStatusMap maps error codes to their HTTP status codes.
var httpStatusMap = map[string]int{
	ErrCodeMissingToken:        http.StatusUnauthorized,
	ErrCodeInvalidToken:        http.StatusUnauthorized,
	ErrCodeMissingProof:        http.StatusUnauthorized,
	ErrCodeKeyNotFound:         http.StatusUnauthorized,
	ErrCodeKeyInactive:         http.StatusUnauthorized,
	ErrCodeKeyBindingMismatch:  http.StatusUnauthorized,
	ErrCodeFingerprintMismatch: http.StatusUnauthorized,
	ErrCodeBotClassified:       http.StatusForbidden,
	ErrCodeRateExceeded:        http.StatusTooManyRequests,
}

// AuthError represents an authentication failure with a structured code.
type AuthError struct {
	Code    string // One of the ErrCode* constants
	Message string // Human-readable error description
	Status  int    // HTTP status code
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AuthError) HTTPStatus() int {
	return e.Status
}

// newError creates an AuthError with the given code and message.
func newError(code, message string) *AuthError {
	return &AuthError{
		Code:    code,
		Message: message,
		Status:  httpStatusMap[code],
	}
}

// ErrMissingToken creates an error for a request with no bearer token.
func ErrMissingToken() *AuthError {
	return newError(ErrCodeMissingToken, "bearer token required")
}

// ErrInvalidToken creates an error for a bearer token the issuer rejected.
func ErrInvalidToken(reason string) *AuthError {
	return newError(ErrCodeInvalidToken, reason)
}

// ErrMissingProof creates an error for a request with no proof header.
func ErrMissingProof() *AuthError {
	return newError(ErrCodeMissingProof, "DPoP proof required")
}

// ErrKeyNotFound creates an error for an unregistered device key id.
func ErrKeyNotFound(deviceKeyID string) *AuthError {
	return newError(ErrCodeKeyNotFound, fmt.Sprintf("device key %q not found", deviceKeyID))
}

// ErrKeyInactive creates an error for a revoked device key.
func ErrKeyInactive(deviceKeyID string) *AuthError {
	return newError(ErrCodeKeyInactive, fmt.Sprintf("device key %q is inactive", deviceKeyID))
}

// ErrKeyBindingMismatch creates an error for a token bound to a different key.
func ErrKeyBindingMismatch() *AuthError {
	return newError(ErrCodeKeyBindingMismatch, "token key thumbprint does not match the registered key")
}

// ErrFingerprintMismatch creates an error for fingerprint similarity under threshold.
func ErrFingerprintMismatch(similarity float64) *AuthError {
	return newError(ErrCodeFingerprintMismatch, fmt.Sprintf("fingerprint similarity %.2f under threshold", similarity))
}

// ErrBotClassified creates an error for a client classified as automated.
func ErrBotClassified(score int) *AuthError {
	return newError(ErrCodeBotClassified, fmt.Sprintf("client classified as automated (score %d)", score))
}

// ErrRateExceeded creates an error for a client over its volume budget.
func ErrRateExceeded() *AuthError {
	return newError(ErrCodeRateExceeded, "request volume exceeded")
}
