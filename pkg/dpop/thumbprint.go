package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// GenerateKeyPair generates a new P-256 key pair using cryptographically
// secure random number generation.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key pair: %w", err)
	}
	return priv, nil
}

// Thumbprint computes the RFC 7638 thumbprint of a P-256 public key JWK.
// The canonical form is the JSON object containing only the fields that
// define the key (crv, kty, x, y) in that fixed order; the thumbprint is
// the SHA-256 of those bytes, base64url-encoded without padding.
//
// The same key material always produces the same thumbprint regardless of
// how the caller's JWK was ordered or what optional fields it carried.
func Thumbprint(jwk *JWK) (string, error) {
	if jwk == nil {
		return "", ErrInvalidKey("key is nil")
	}
	if jwk.Kty == "" || jwk.Crv == "" || jwk.X == "" || jwk.Y == "" {
		return "", ErrInvalidKey("kty, crv, x, and y are required")
	}

	// Canonical form per RFC 7638: required members only, lexicographic
	// order, no whitespace. Built by hand so field order never depends on
	// a JSON library's behavior.
	canonical := fmt.Sprintf(`{"crv":%q,"kty":%q,"x":%q,"y":%q}`, jwk.Crv, jwk.Kty, jwk.X, jwk.Y)

	hash := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(hash[:]), nil
}

// PublicKeyThumbprint computes the thumbprint directly from a P-256 public key.
func PublicKeyThumbprint(publicKey *ecdsa.PublicKey) (string, error) {
	jwk, err := PublicKeyToJWK(publicKey)
	if err != nil {
		return "", err
	}
	return Thumbprint(jwk)
}

// PublicKeyToJWK converts a P-256 public key to JWK format.
// Coordinates are encoded as fixed-width 32-byte base64url strings.
func PublicKeyToJWK(publicKey *ecdsa.PublicKey) (*JWK, error) {
	if publicKey == nil {
		return nil, ErrInvalidKey("key is nil")
	}
	if publicKey.Curve != elliptic.P256() {
		return nil, ErrInvalidKey("only P-256 keys are supported")
	}

	var x, y [32]byte
	publicKey.X.FillBytes(x[:])
	publicKey.Y.FillBytes(y[:])

	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x[:]),
		Y:   base64.RawURLEncoding.EncodeToString(y[:]),
	}, nil
}

// JWKToPublicKey converts a JWK to a P-256 public key.
// Performs strict validation of kty and crv and checks the point is on the curve.
func JWKToPublicKey(jwk *JWK) (*ecdsa.PublicKey, error) {
	if jwk == nil {
		return nil, ErrInvalidKey("key is nil")
	}
	if jwk.Kty != "EC" {
		return nil, ErrInvalidKey(fmt.Sprintf("kty must be EC, got %q", jwk.Kty))
	}
	if jwk.Crv != "P-256" {
		return nil, ErrInvalidKey(fmt.Sprintf("crv must be P-256, got %q", jwk.Crv))
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, ErrInvalidKey("failed to decode x coordinate")
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, ErrInvalidKey("failed to decode y coordinate")
	}
	if len(xBytes) != 32 || len(yBytes) != 32 {
		return nil, ErrInvalidKey("coordinates must be 32 bytes")
	}

	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, ErrInvalidKey("point is not on the P-256 curve")
	}

	return pub, nil
}
