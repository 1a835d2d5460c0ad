// Package token issues and verifies the bearer tokens that carry the
// device-key binding claims.
//
// This is deliberately not a general JWT library: the algorithm, issuer,
// and audience are fixed at construction, and the only custom claims are
// the key-binding confirmation (cnf.jkt) and the device-key id. The
// authentication core reads claims from here and re-checks the binding
// against stored key material itself.
package token

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/gobeyondidentity/perimeter/pkg/auth"
)

// confirmation is the cnf claim per RFC 7800; jkt carries the JWK
// thumbprint of the device key the token is bound to.
type confirmation struct {
	JKT string `json:"jkt"`
}

// bindingClaims are the custom claims alongside the registered set.
type bindingClaims struct {
	Cnf         confirmation `json:"cnf"`
	DeviceKeyID string       `json:"dkid"`
}

// Issuer mints time-boxed bearer tokens bound to a device key.
type Issuer struct {
	key      *ecdsa.PrivateKey
	issuer   string
	audience string
	ttl      time.Duration
}

// NewIssuer creates a token issuer signing with the given P-256 key.
func NewIssuer(key *ecdsa.PrivateKey, issuer, audience string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{key: key, issuer: issuer, audience: audience, ttl: ttl}
}

// Issue mints a token for a subject, bound to the device key identified by
// deviceKeyID whose JWK thumbprint is keyThumbprint.
func (i *Issuer) Issue(subject, keyThumbprint, deviceKeyID string) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: i.key}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	now := time.Now()
	std := jwt.Claims{
		ID:       uuid.New().String(),
		Issuer:   i.issuer,
		Audience: jwt.Audience{i.audience},
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(i.ttl)),
	}
	custom := bindingClaims{
		Cnf:         confirmation{JKT: keyThumbprint},
		DeviceKeyID: deviceKeyID,
	}

	tok, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize token: %w", err)
	}
	return tok, nil
}

// Verifier validates bearer tokens and extracts their binding claims.
// It implements auth.TokenVerifier.
type Verifier struct {
	key      *ecdsa.PublicKey
	issuer   string
	audience string
}

// NewVerifier creates a token verifier for the given issuer public key.
func NewVerifier(key *ecdsa.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{key: key, issuer: issuer, audience: audience}
}

// VerifyToken checks signature, issuer, audience, and expiry, and returns
// the claims the authentication core consumes.
func (v *Verifier) VerifyToken(token string) (*auth.TokenClaims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}

	var std jwt.Claims
	var custom bindingClaims
	if err := parsed.Claims(v.key, &std, &custom); err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	if err := std.Validate(jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.audience},
		Time:        time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("token claims invalid: %w", err)
	}

	if std.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	if custom.Cnf.JKT == "" {
		return nil, fmt.Errorf("token missing key confirmation claim")
	}
	if custom.DeviceKeyID == "" {
		return nil, fmt.Errorf("token missing device key id")
	}

	return &auth.TokenClaims{
		Subject:       std.Subject,
		KeyThumbprint: custom.Cnf.JKT,
		DeviceKeyID:   custom.DeviceKeyID,
	}, nil
}

// Ensure Verifier implements auth.TokenVerifier.
var _ auth.TokenVerifier = (*Verifier)(nil)
