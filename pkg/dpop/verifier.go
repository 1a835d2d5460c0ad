package dpop

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"time"
)

const (
	// maxProofSize is the maximum allowed size of a proof in bytes.
	// This prevents DoS attacks via oversized proofs.
	maxProofSize = 8 * 1024 // 8KB

	// es256SignatureSize is the raw r||s signature length for P-256.
	es256SignatureSize = 64
)

// VerifierConfig contains configuration for proof verification.
type VerifierConfig struct {
	// ClockSkew is the maximum allowed difference between proof iat and
	// server time, in either direction. The boundary is inclusive.
	// Default: 300 seconds.
	ClockSkew time.Duration

	// now overrides the clock for tests.
	now func() time.Time
}

// DefaultVerifierConfig returns the default verifier configuration.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		ClockSkew: 300 * time.Second,
	}
}

// Verifier validates device-bound proofs.
//
// Verification is pure: it consults no caches and records nothing. Replay
// detection composes separately via ReplayCache so that the two concerns can
// be tested in isolation.
type Verifier struct {
	config VerifierConfig
}

// NewVerifier creates a new proof verifier.
func NewVerifier(config VerifierConfig) *Verifier {
	if config.ClockSkew <= 0 {
		config.ClockSkew = 300 * time.Second
	}
	if config.now == nil {
		config.now = time.Now
	}
	return &Verifier{config: config}
}

// Verify validates a proof against the request's method and URL using the
// caller-supplied public key, and returns the proof's jti and issuance time.
//
// Validation order:
//  1. Format check: exactly 3 non-empty base64url parts separated by dots
//  2. Size limit: reject proofs > 8KB total
//  3. Parse header: base64url decode, JSON unmarshal
//  4. typ check: must equal "dpop+jwt" exactly
//  5. alg check: must equal "ES256" exactly (algorithm confusion prevention)
//  6. Parse payload: base64url decode, JSON unmarshal
//  7. Signature verify: ECDSA P-256 over SHA-256(header.payload)
//  8. htm check: must match method (case-insensitive)
//  9. htu check: must match url exactly, query string included
//  10. iat check: within ±ClockSkew of current time, boundary inclusive
//  11. jti check: must be non-empty
func (v *Verifier) Verify(proof, method, url string, publicKey *ecdsa.PublicKey) (*ProofResult, error) {
	if proof == "" {
		return nil, ErrMalformedProof("proof cannot be empty")
	}

	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedProof("JWT must have exactly 3 parts")
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformedProof("JWT parts cannot be empty")
	}
	if len(proof) > maxProofSize {
		return nil, ErrMalformedProof("proof exceeds maximum size of 8KB")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformedProof("invalid base64url encoding in header")
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrMalformedProof("invalid JSON in header")
	}

	// typ and alg are checked against compile-time constants. The alg from
	// the header is NEVER used to select the verification algorithm.
	if header.Typ != TypeDPoP {
		return nil, ErrUnsupportedProof("typ must be \"dpop+jwt\"")
	}
	if header.Alg != AlgES256 {
		return nil, ErrUnsupportedProof("alg must be \"ES256\"")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformedProof("invalid base64url encoding in payload")
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, ErrMalformedProof("invalid JSON in payload")
	}

	if claims.HTM == "" {
		return nil, ErrMalformedProof("htm claim is required")
	}
	if claims.HTU == "" {
		return nil, ErrMalformedProof("htu claim is required")
	}

	if publicKey == nil {
		return nil, ErrInvalidKey("public key is required")
	}

	// Signature verification before claim comparison, so a forged proof
	// never learns which claim would have failed.
	signatureBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformedProof("invalid base64url encoding in signature")
	}
	if len(signatureBytes) != es256SignatureSize {
		return nil, ErrInvalidSignature()
	}

	signingInput := parts[0] + "." + parts[1]
	digest := sha256.Sum256([]byte(signingInput))

	// ES256 signatures are raw r||s, 32 bytes each.
	r := new(big.Int).SetBytes(signatureBytes[:32])
	s := new(big.Int).SetBytes(signatureBytes[32:])
	if !ecdsa.Verify(publicKey, digest[:], r, s) {
		return nil, ErrInvalidSignature()
	}

	// htm: methods are compared case-insensitively; clients and servers
	// disagree on casing more often than they disagree on methods.
	if !strings.EqualFold(claims.HTM, method) {
		return nil, ErrMethodMismatch(claims.HTM, method)
	}

	// htu: exact match, query string included. A proof for /a?x=1 must not
	// authorize /a?x=2.
	if claims.HTU != url {
		return nil, ErrURLMismatch(claims.HTU, url)
	}

	now := v.config.now().Unix()
	skew := int64(v.config.ClockSkew.Seconds())

	if claims.IAT <= 0 {
		return nil, ErrStaleProof(now, skew)
	}
	if age := now - claims.IAT; age > skew {
		return nil, ErrStaleProof(age, skew)
	}
	if offset := claims.IAT - now; offset > skew {
		return nil, ErrFutureProof(offset, skew)
	}

	if claims.JTI == "" {
		return nil, ErrMissingJTI()
	}

	return &ProofResult{JTI: claims.JTI, IssuedAt: claims.IAT}, nil
}
