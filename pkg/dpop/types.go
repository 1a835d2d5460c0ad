package dpop

// Type and algorithm constants. The algorithm is fixed at compile time; the
// alg header is never used to select the verification algorithm.
const (
	// TypeDPoP is the required typ header value for proofs.
	TypeDPoP = "dpop+jwt"

	// AlgES256 is the only permitted algorithm: ECDSA over P-256 with SHA-256.
	AlgES256 = "ES256"
)

// Header contains the JOSE header claims for a proof JWT.
type Header struct {
	// Typ must be "dpop+jwt" (required)
	Typ string `json:"typ"`

	// Alg must be "ES256" for P-256 signatures (required)
	Alg string `json:"alg"`

	// Kid is the server-assigned device-key identifier.
	// Mutually exclusive with JWK (use one or the other).
	Kid string `json:"kid,omitempty"`

	// JWK conveys the public key for initial registration requests.
	// Mutually exclusive with Kid (use one or the other).
	JWK *JWK `json:"jwk,omitempty"`
}

// Claims contains the payload claims for a proof JWT. These bind the proof
// to a specific HTTP request.
type Claims struct {
	// JTI is a unique token identifier for replay prevention (required)
	JTI string `json:"jti"`

	// HTM is the HTTP method of the request (e.g., "POST", "GET") (required)
	HTM string `json:"htm"`

	// HTU is the full HTTP URL of the request, query string included (required)
	HTU string `json:"htu"`

	// IAT is the issued-at timestamp in Unix seconds (required)
	IAT int64 `json:"iat"`
}

// JWK represents a JSON Web Key containing a P-256 public key.
type JWK struct {
	// Kty must be "EC" (Elliptic Curve) for P-256 keys
	Kty string `json:"kty"`

	// Crv must be "P-256"
	Crv string `json:"crv"`

	// X is the base64url-encoded X coordinate (32 bytes)
	X string `json:"x"`

	// Y is the base64url-encoded Y coordinate (32 bytes)
	Y string `json:"y"`
}

// ProofResult carries the claims a verified proof yields to the caller.
// The jti feeds the replay check; issuedAt is retained for audit context.
type ProofResult struct {
	JTI      string
	IssuedAt int64
}
