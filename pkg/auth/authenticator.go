// Package auth composes proof verification, replay protection, fingerprint
// matching, and behavioral classification into a single per-request
// authentication decision.
//
// The Authenticator is transport-agnostic; Middleware adapts it to net/http.
// Collaborators (token issuer, device-key store, client identity deriver)
// are interfaces so the orchestrator stays independently testable.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gobeyondidentity/perimeter/pkg/behavior"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/gobeyondidentity/perimeter/pkg/fingerprint"
)

// TokenClaims are the bearer-token claims this core reads. The token issuer
// collaborator has already verified signature, issuer, audience, and expiry;
// nothing here re-implements general JWT validation.
type TokenClaims struct {
	// Subject is the authenticated account id.
	Subject string

	// KeyThumbprint is the confirmation claim binding the token to a
	// device key (cnf.jkt).
	KeyThumbprint string

	// DeviceKeyID identifies the stored device key record.
	DeviceKeyID string
}

// TokenVerifier verifies bearer tokens and returns their claims.
// Implemented by pkg/token; defined here so the orchestrator depends on the
// contract, not the issuer.
type TokenVerifier interface {
	VerifyToken(token string) (*TokenClaims, error)
}

// DeviceKey is a stored device key record as the orchestrator sees it.
type DeviceKey struct {
	ID          string
	AccountID   string
	PublicKey   *dpop.JWK
	Thumbprint  string
	Fingerprint *fingerprint.Fingerprint // nil when none was captured
	Active      bool
}

// ErrDeviceKeyNotFound is returned by DeviceKeyStore.Get for unknown ids.
var ErrDeviceKeyNotFound = errors.New("device key not found")

// DeviceKeyStore looks up device key records. Implemented by pkg/store.
// Get is the only blocking I/O on the authentication path; it must complete
// before proof verification since the public key is the verifier's input.
type DeviceKeyStore interface {
	Get(ctx context.Context, deviceKeyID string) (*DeviceKey, error)
	TouchLastUsed(ctx context.Context, deviceKeyID string) error
}

// ClientIdentifier derives a stable per-client identity from a request.
// Implemented by internal/clientid; opaque input to the classifier.
type ClientIdentifier interface {
	ClientID(r *http.Request) string
}

// Suspicion summarizes the behavioral classifier's view of the client.
type Suspicion struct {
	Flag  bool `json:"flag"`
	Score int  `json:"score"`
}

// Verdict is the single per-request decision exposed to callers.
type Verdict struct {
	Accepted            bool      `json:"accepted"`
	Reason              string    `json:"reason,omitempty"` // error code, empty when accepted
	UserID              string    `json:"userId,omitempty"`
	JTI                 string    `json:"jti,omitempty"`
	FingerprintMismatch bool      `json:"fingerprintMismatch"`
	Suspicious          Suspicion `json:"suspicious"`
}

// Policy gates the advisory signals. Verification failures always reject;
// fingerprint mismatch and bot classification reject only when enforced.
type Policy struct {
	// FingerprintThreshold is the minimum similarity an offered fingerprint
	// must reach against the stored one. Default 0.7.
	FingerprintThreshold float64

	// EnforceFingerprint hard-fails below-threshold fingerprints instead of
	// flagging them.
	EnforceFingerprint bool

	// BlockBots hard-fails requests the classifier marks as bots instead of
	// flagging them. Rate-exceeded decisions always reject.
	BlockBots bool
}

// DefaultPolicy returns the default advisory-mode policy.
func DefaultPolicy() Policy {
	return Policy{
		FingerprintThreshold: 0.7,
	}
}

// Authenticator composes the verification pipeline. Safe for concurrent use.
type Authenticator struct {
	tokens     TokenVerifier
	keys       DeviceKeyStore
	verifier   *dpop.Verifier
	replay     dpop.ReplayCache
	classifier *behavior.Classifier
	clientID   ClientIdentifier
	policy     Policy
	logger     *slog.Logger
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithPolicy sets the advisory-signal policy.
func WithPolicy(p Policy) AuthenticatorOption {
	return func(a *Authenticator) {
		a.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator creates an Authenticator from its collaborators.
func NewAuthenticator(
	tokens TokenVerifier,
	keys DeviceKeyStore,
	verifier *dpop.Verifier,
	replay dpop.ReplayCache,
	classifier *behavior.Classifier,
	clientID ClientIdentifier,
	opts ...AuthenticatorOption,
) *Authenticator {
	a := &Authenticator{
		tokens:     tokens,
		keys:       keys,
		verifier:   verifier,
		replay:     replay,
		classifier: classifier,
		clientID:   clientID,
		policy:     DefaultPolicy(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request carries the credentials extracted from an inbound request.
// Middleware populates it from headers; tests construct it directly.
type Request struct {
	// BearerToken is the bearer token without the "Bearer " prefix.
	BearerToken string

	// Proof is the DPoP proof JWT.
	Proof string

	// Method and URL are the request's method and full target URL,
	// query string included.
	Method string
	URL    string

	// Fingerprint is the current device fingerprint, nil when the client
	// did not supply one.
	Fingerprint *fingerprint.Fingerprint

	// HTTPRequest feeds the behavioral classifier and identity deriver.
	HTTPRequest *http.Request
}

// Authenticate runs the full pipeline and returns a verdict. Every rejection
// carries an error code in Reason; no failure is silent.
func (a *Authenticator) Authenticate(ctx context.Context, req *Request) *Verdict {
	verdict := &Verdict{}

	// The classifier sees every request, accepted or not, so rejected
	// probes still accumulate in the client's window.
	assessment := a.observe(req)
	verdict.Suspicious = Suspicion{
		Flag:  assessment.Bot || assessment.State == behavior.StateFlagged,
		Score: assessment.Score,
	}

	if assessment.RateExceeded {
		return a.reject(verdict, ErrRateExceeded())
	}

	if req.BearerToken == "" {
		return a.reject(verdict, ErrMissingToken())
	}
	if req.Proof == "" {
		return a.reject(verdict, ErrMissingProof())
	}

	claims, err := a.tokens.VerifyToken(req.BearerToken)
	if err != nil {
		return a.reject(verdict, ErrInvalidToken(err.Error()))
	}
	verdict.UserID = claims.Subject

	// Device-key lookup is the only blocking I/O; the public key must be
	// in hand before the proof can be checked.
	key, err := a.keys.Get(ctx, claims.DeviceKeyID)
	if err != nil {
		if errors.Is(err, ErrDeviceKeyNotFound) {
			return a.reject(verdict, ErrKeyNotFound(claims.DeviceKeyID))
		}
		a.logger.Error("device key lookup failed", "device_key_id", claims.DeviceKeyID, "error", err)
		return a.reject(verdict, ErrKeyNotFound(claims.DeviceKeyID))
	}
	if !key.Active {
		return a.reject(verdict, ErrKeyInactive(key.ID))
	}

	// Recompute the thumbprint from stored key material and require it to
	// match the token's confirmation claim. A token stolen and re-bound to
	// another key dies here.
	thumbprint, err := dpop.Thumbprint(key.PublicKey)
	if err != nil {
		a.logger.Error("stored key material is invalid", "device_key_id", key.ID, "error", err)
		return a.reject(verdict, ErrKeyBindingMismatch())
	}
	if thumbprint != claims.KeyThumbprint {
		return a.reject(verdict, ErrKeyBindingMismatch())
	}

	publicKey, err := dpop.JWKToPublicKey(key.PublicKey)
	if err != nil {
		a.logger.Error("stored key material is invalid", "device_key_id", key.ID, "error", err)
		return a.reject(verdict, ErrKeyBindingMismatch())
	}

	result, err := a.verifier.Verify(req.Proof, req.Method, req.URL, publicKey)
	if err != nil {
		return a.rejectProof(verdict, err)
	}
	verdict.JTI = result.JTI

	// Replay check-and-set is one atomic step; two concurrent requests with
	// the same jti cannot both pass.
	isReplay, err := a.replay.CheckAndRecord(result.JTI)
	if err != nil {
		a.logger.Error("replay cache error", "error", err)
		verdict.Reason = dpop.ErrCodeReplay
		verdict.Accepted = false
		return verdict
	}
	if isReplay {
		verdict.Reason = dpop.ErrCodeReplay
		verdict.Accepted = false
		return verdict
	}

	// Fingerprint similarity is a monitored signal; policy decides whether
	// a mismatch blocks or merely flags.
	if req.Fingerprint != nil && key.Fingerprint != nil {
		similarity := fingerprint.Similarity(key.Fingerprint, req.Fingerprint)
		if similarity < a.policy.FingerprintThreshold {
			verdict.FingerprintMismatch = true
			a.logger.Warn("fingerprint similarity under threshold",
				"device_key_id", key.ID,
				"similarity", similarity,
				"threshold", a.policy.FingerprintThreshold,
				"enforced", a.policy.EnforceFingerprint,
			)
			if a.policy.EnforceFingerprint {
				return a.reject(verdict, ErrFingerprintMismatch(similarity))
			}
		}
	}

	// Bot classification is advisory unless policy blocks it.
	if assessment.Bot && a.policy.BlockBots {
		return a.reject(verdict, ErrBotClassified(assessment.Score))
	}

	if err := a.keys.TouchLastUsed(ctx, key.ID); err != nil {
		// Bookkeeping only; an accepted request stays accepted.
		a.logger.Warn("failed to touch device key", "device_key_id", key.ID, "error", err)
	}

	verdict.Accepted = true
	return verdict
}

// observe feeds the request into the classifier. A nil classifier or a
// request without transport context yields a zero assessment.
func (a *Authenticator) observe(req *Request) behavior.Assessment {
	if a.classifier == nil || a.clientID == nil || req.HTTPRequest == nil {
		return behavior.Assessment{}
	}
	return a.classifier.Observe(a.clientID.ClientID(req.HTTPRequest), req.HTTPRequest)
}

// reject finalizes a verdict with the given error's code.
func (a *Authenticator) reject(v *Verdict, err *AuthError) *Verdict {
	v.Accepted = false
	v.Reason = err.Code
	return v
}

// rejectProof finalizes a verdict from a proof verification error,
// preserving its code when it is a coded error.
func (a *Authenticator) rejectProof(v *Verdict, err error) *Verdict {
	v.Accepted = false
	var perr *dpop.ProofError
	if errors.As(err, &perr) {
		v.Reason = perr.Code
	} else {
		v.Reason = dpop.ErrCodeMalformedProof
	}
	return v
}

// StatusForReason maps a verdict reason code to an HTTP status. Unknown
// codes map to 401 so a new rejection kind can never accidentally pass.
func StatusForReason(reason string) int {
	if status, ok := httpStatusMap[reason]; ok {
		return status
	}
	return http.StatusUnauthorized
}
