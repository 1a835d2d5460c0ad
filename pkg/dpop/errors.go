package dpop

import (
	"errors"
	"fmt"
	"net/http"
)

// Proof verification error codes. Every rejection carries one of these so
// callers can log the exact kind while surfacing a generic message.
const (
	ErrCodeMalformedProof   = "dpop.malformed_proof"   // HTTP 401 - Proof is not a well-formed three-part JWT
	ErrCodeUnsupportedProof = "dpop.unsupported_proof" // HTTP 401 - typ or alg header is not the expected value
	ErrCodeMethodMismatch   = "dpop.method_mismatch"   // HTTP 401 - htm claim does not match the request method
	ErrCodeURLMismatch      = "dpop.url_mismatch"      // HTTP 401 - htu claim does not match the request URL
	ErrCodeStaleProof       = "dpop.stale_proof"       // HTTP 401 - iat is more than the skew window in the past
	ErrCodeFutureProof      = "dpop.future_proof"      // HTTP 401 - iat is more than the skew window in the future
	ErrCodeMissingJTI       = "dpop.missing_jti"       // HTTP 401 - jti claim is absent or empty
	ErrCodeInvalidSignature = "dpop.invalid_signature" // HTTP 401 - Signature does not verify against the key
	ErrCodeInvalidKey       = "dpop.invalid_key"       // HTTP 401 - Public key material is malformed
	ErrCodeReplay           = "dpop.replay"            // HTTP 401 - jti has already been consumed
)

// httpStatusMap maps error codes to their HTTP status codes.
var httpStatusMap = map[string]int{
	ErrCodeMalformedProof:   http.StatusUnauthorized,
	ErrCodeUnsupportedProof: http.StatusUnauthorized,
	ErrCodeMethodMismatch:   http.StatusUnauthorized,
	ErrCodeURLMismatch:      http.StatusUnauthorized,
	ErrCodeStaleProof:       http.StatusUnauthorized,
	ErrCodeFutureProof:      http.StatusUnauthorized,
	ErrCodeMissingJTI:       http.StatusUnauthorized,
	ErrCodeInvalidSignature: http.StatusUnauthorized,
	ErrCodeInvalidKey:       http.StatusUnauthorized,
	ErrCodeReplay:           http.StatusUnauthorized,
}

// ProofError represents a proof verification failure with a structured code.
type ProofError struct {
	Code    string // One of the ErrCode* constants
	Message string // Human-readable error description
	Status  int    // HTTP status code
}

// Error implements the error interface.
func (e *ProofError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status code for this error.
func (e *ProofError) HTTPStatus() int {
	return e.Status
}

// newError creates a ProofError with the given code and message.
func newError(code, message string) *ProofError {
	return &ProofError{
		Code:    code,
		Message: message,
		Status:  httpStatusMap[code],
	}
}

// ErrMalformedProof creates an error for a structurally invalid proof.
func ErrMalformedProof(reason string) *ProofError {
	return newError(ErrCodeMalformedProof, reason)
}

// ErrUnsupportedProof creates an error for an unexpected typ or alg header.
func ErrUnsupportedProof(reason string) *ProofError {
	return newError(ErrCodeUnsupportedProof, reason)
}

// ErrMethodMismatch creates an error for an htm claim that does not match the request.
func ErrMethodMismatch(claimed, actual string) *ProofError {
	return newError(ErrCodeMethodMismatch, fmt.Sprintf("proof bound to method %q, request used %q", claimed, actual))
}

// ErrURLMismatch creates an error for an htu claim that does not match the request.
func ErrURLMismatch(claimed, actual string) *ProofError {
	return newError(ErrCodeURLMismatch, fmt.Sprintf("proof bound to URL %q, request targeted %q", claimed, actual))
}

// ErrStaleProof creates an error for an iat too far in the past.
func ErrStaleProof(ageSeconds, maxSeconds int64) *ProofError {
	return newError(ErrCodeStaleProof, fmt.Sprintf("proof issued %ds ago, maximum is %ds", ageSeconds, maxSeconds))
}

// ErrFutureProof creates an error for an iat too far in the future.
func ErrFutureProof(offsetSeconds, maxSeconds int64) *ProofError {
	return newError(ErrCodeFutureProof, fmt.Sprintf("proof issued %ds in the future, maximum skew is %ds", offsetSeconds, maxSeconds))
}

// ErrMissingJTI creates an error for an absent or empty jti claim.
func ErrMissingJTI() *ProofError {
	return newError(ErrCodeMissingJTI, "jti claim is required")
}

// ErrInvalidSignature creates an error for a signature verification failure.
func ErrInvalidSignature() *ProofError {
	return newError(ErrCodeInvalidSignature, "proof signature verification failed")
}

// ErrInvalidKey creates an error for malformed public key material.
func ErrInvalidKey(reason string) *ProofError {
	return newError(ErrCodeInvalidKey, reason)
}

// Replay cache sentinel errors.
var (
	// ErrInvalidJTI indicates the JTI is empty or otherwise invalid.
	ErrInvalidJTI = errors.New("invalid jti: must be non-empty")

	// ErrJTITooLong indicates the JTI exceeds the maximum allowed length.
	ErrJTITooLong = errors.New("jti too long: maximum 1024 bytes")

	// ErrCacheFull indicates the cache has reached its maximum entry count.
	ErrCacheFull = errors.New("replay cache full: maximum entries reached")
)
