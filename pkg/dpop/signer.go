package dpop

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// Signer generates proofs using a P-256 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
}

// NewSigner creates a new proof signer with the given private key.
func NewSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: privateKey}
}

// CreateProof creates a proof JWT for the given HTTP method and URL.
// The kid parameter is the server-assigned device-key identifier (empty
// during registration, when the public key is embedded as a jwk instead).
func (s *Signer) CreateProof(method, url, kid string) (string, error) {
	return GenerateProof(s.privateKey, method, url, kid)
}

// SignRequest adds a DPoP header to an HTTP request.
// The htu is derived from the request's URL, not the Host header, to
// prevent Host header injection.
func (s *Signer) SignRequest(req *http.Request, kid string) error {
	proof, err := s.CreateProof(req.Method, req.URL.String(), kid)
	if err != nil {
		return fmt.Errorf("failed to generate proof: %w", err)
	}
	req.Header.Set("DPoP", proof)
	return nil
}

// proofClaims is the claim set used with go-jose's jwt builder.
type proofClaims struct {
	JTI string `json:"jti"`
	HTM string `json:"htm"`
	HTU string `json:"htu"`
	IAT int64  `json:"iat"`
}

// GenerateProof creates a proof JWT binding one HTTP method and URL to one use.
//
// The proof contains:
//   - Header: typ="dpop+jwt", alg="ES256", and either kid or jwk
//   - Payload: jti (unique ID), htm (method), htu (full URL with query), iat
//
// The URL is carried exactly as supplied; the verifier compares it verbatim
// against the request target, query string included.
func GenerateProof(privateKey *ecdsa.PrivateKey, method, url, kid string) (string, error) {
	if privateKey == nil {
		return "", ErrInvalidKey("private key is required")
	}
	if url == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	signerOpts := (&jose.SignerOptions{}).WithType("dpop+jwt")

	if kid != "" {
		signerOpts = signerOpts.WithHeader("kid", kid)
	} else {
		// Embed the public key for registration requests.
		jwk := jose.JSONWebKey{
			Key:       privateKey.Public(),
			Algorithm: string(jose.ES256),
		}
		signerOpts = signerOpts.WithHeader("jwk", jwk)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: privateKey}, signerOpts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	claims := proofClaims{
		JTI: uuid.New().String(),
		HTM: method,
		HTU: url,
		IAT: time.Now().Unix(),
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize proof: %w", err)
	}

	return proof, nil
}

// ParseProof parses a proof JWT and returns its components without verifying.
// This is useful for testing and debugging.
func ParseProof(proof string) (header, payload map[string]any, signature []byte, err error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("invalid JWT: expected 3 parts, got %d", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal header: %w", err)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, nil, nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	signature, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode signature: %w", err)
	}

	return header, payload, signature, nil
}
