package dpop

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// LoadPrivateKeyPEM parses a P-256 private key from PEM-encoded data.
// Accepts PKCS#8 format ("PRIVATE KEY" block).
//
// Returns an error if the PEM is malformed or contains a non-P-256 key.
// Error messages never contain key material.
func LoadPrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block: no valid PEM data found")
	}

	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q, expected PRIVATE KEY", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA: only P-256 keys are supported")
	}
	if _, err := PublicKeyToJWK(&ecKey.PublicKey); err != nil {
		return nil, err
	}

	return ecKey, nil
}

// MarshalPrivateKeyPEM encodes a P-256 private key as PKCS#8 PEM.
func MarshalPrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadPublicKeyPEM parses a P-256 public key from PEM-encoded data.
// Accepts PKIX format ("PUBLIC KEY" block).
func LoadPublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block: no valid PEM data found")
	}

	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q, expected PUBLIC KEY", block.Type)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}

	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA: only P-256 keys are supported")
	}
	if _, err := PublicKeyToJWK(ecKey); err != nil {
		return nil, err
	}

	return ecKey, nil
}

// MarshalPublicKeyPEM encodes a P-256 public key as PKIX PEM.
func MarshalPublicKeyPEM(key *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
