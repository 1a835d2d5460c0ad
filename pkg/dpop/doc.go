// Package dpop implements device-bound proof-of-possession tokens in the
// style of RFC 9449.
//
// A proof is a short-lived JWT signed with the device's P-256 private key,
// binding one HTTP method and URL to one use. Proofs carry a unique jti for
// replay detection; the ReplayCache records consumed identifiers.
//
// # Token Structure
//
// A proof is a JWT containing:
//   - jti: Unique token identifier
//   - htm: HTTP method (GET, POST, etc.)
//   - htu: Full HTTP URL being accessed, including any query string
//   - iat: Issued-at timestamp
//
// The header declares typ "dpop+jwt" and alg "ES256", plus either a kid or
// the public key itself as a JWK.
//
// # Usage
//
// Create proofs for API requests:
//
//	signer := dpop.NewSigner(privateKey)
//	proof, err := signer.CreateProof("POST", "https://api.example.com/v1/orders?limit=10")
//
// Verify incoming proofs:
//
//	verifier := dpop.NewVerifier(dpop.DefaultVerifierConfig())
//	result, err := verifier.Verify(proof, "POST", requestURL, publicKey)
//
// Verification is side-effect-free; callers compose it with the ReplayCache's
// atomic CheckAndRecord to reject reuse.
package dpop
