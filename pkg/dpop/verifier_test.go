package dpop

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

const (
	testMethod = "POST"
	testURL    = "https://api.example.com/v1/orders?limit=10"
)

// signTestProof builds a proof by hand so tests can control every claim,
// including invalid iat values GenerateProof would never produce.
func signTestProof(t *testing.T, priv *ecdsa.PrivateKey, header Header, claims Claims) string {
	t.Helper()

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))

	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var sig [64]byte
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig[:])
}

func defaultTestHeader() Header {
	return Header{Typ: TypeDPoP, Alg: AlgES256, Kid: "key-1"}
}

func defaultTestClaims() Claims {
	return Claims{
		JTI: "jti-test-1",
		HTM: testMethod,
		HTU: testURL,
		IAT: time.Now().Unix(),
	}
}

func TestVerifyValidProof(t *testing.T) {
	priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	t.Log("Signing a proof bound to the test method and URL")
	proof := signTestProof(t, priv, defaultTestHeader(), defaultTestClaims())

	v := NewVerifier(DefaultVerifierConfig())
	result, err := v.Verify(proof, testMethod, testURL, &priv.PublicKey)
	if err != nil {
		t.Fatalf("expected valid proof, got %v", err)
	}
	if result.JTI != "jti-test-1" {
		t.Errorf("expected jti %q, got %q", "jti-test-1", result.JTI)
	}
	if result.IssuedAt == 0 {
		t.Error("expected non-zero issuedAt")
	}
}

func TestVerifyGeneratedProof(t *testing.T) {
	priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	t.Log("Proofs produced by GenerateProof must verify with the same key")
	proof, err := GenerateProof(priv, testMethod, testURL, "key-1")
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}

	v := NewVerifier(DefaultVerifierConfig())
	result, err := v.Verify(proof, testMethod, testURL, &priv.PublicKey)
	if err != nil {
		t.Fatalf("generated proof did not verify: %v", err)
	}
	if result.JTI == "" {
		t.Error("generated proof should carry a jti")
	}
}

func TestVerifyMethodMismatch(t *testing.T) {
	priv, _ := GenerateKeyPair()
	proof := signTestProof(t, priv, defaultTestHeader(), defaultTestClaims())

	v := NewVerifier(DefaultVerifierConfig())
	_, err := v.Verify(proof, "DELETE", testURL, &priv.PublicKey)
	assertProofCode(t, err, ErrCodeMethodMismatch)
}

func TestVerifyMethodCaseInsensitive(t *testing.T) {
	priv, _ := GenerateKeyPair()
	claims := defaultTestClaims()
	claims.HTM = "post"
	proof := signTestProof(t, priv, defaultTestHeader(), claims)

	t.Log("htm comparison is case-insensitive")
	v := NewVerifier(DefaultVerifierConfig())
	if _, err := v.Verify(proof, "POST", testURL, &priv.PublicKey); err != nil {
		t.Errorf("lowercase htm should match uppercase method: %v", err)
	}
}

func TestVerifyURLMismatch(t *testing.T) {
	priv, _ := GenerateKeyPair()
	proof := signTestProof(t, priv, defaultTestHeader(), defaultTestClaims())
	v := NewVerifier(DefaultVerifierConfig())

	t.Log("A different path must be rejected")
	_, err := v.Verify(proof, testMethod, "https://api.example.com/v1/other", &priv.PublicKey)
	assertProofCode(t, err, ErrCodeURLMismatch)

	t.Log("The same path with a different query string must be rejected too")
	_, err = v.Verify(proof, testMethod, "https://api.example.com/v1/orders?limit=11", &priv.PublicKey)
	assertProofCode(t, err, ErrCodeURLMismatch)
}

func TestVerifyWrongKey(t *testing.T) {
	signer, _ := GenerateKeyPair()
	other, _ := GenerateKeyPair()
	proof := signTestProof(t, signer, defaultTestHeader(), defaultTestClaims())

	t.Log("Verifying against a key that did not sign the proof")
	v := NewVerifier(DefaultVerifierConfig())
	_, err := v.Verify(proof, testMethod, testURL, &other.PublicKey)
	assertProofCode(t, err, ErrCodeInvalidSignature)
}

func TestVerifyTamperedPayload(t *testing.T) {
	priv, _ := GenerateKeyPair()
	proof := signTestProof(t, priv, defaultTestHeader(), defaultTestClaims())

	// Re-encode the payload with a changed jti, keeping the old signature.
	claims := defaultTestClaims()
	claims.JTI = "jti-forged"
	claimsJSON, _ := json.Marshal(claims)
	split := splitProof(proof)
	tampered := split[0] + "." + base64.RawURLEncoding.EncodeToString(claimsJSON) + "." + split[2]

	v := NewVerifier(DefaultVerifierConfig())
	_, err := v.Verify(tampered, testMethod, testURL, &priv.PublicKey)
	assertProofCode(t, err, ErrCodeInvalidSignature)
}

func TestVerifyIATWindow(t *testing.T) {
	priv, _ := GenerateKeyPair()
	now := time.Unix(1_700_000_000, 0)

	cases := []struct {
		name     string
		iat      int64
		wantCode string // empty means accept
	}{
		{"fresh", now.Unix(), ""},
		{"exactly 300s old", now.Unix() - 300, ""},
		{"301s old", now.Unix() - 301, ErrCodeStaleProof},
		{"exactly 300s ahead", now.Unix() + 300, ""},
		{"301s ahead", now.Unix() + 301, ErrCodeFutureProof},
		{"zero iat", 0, ErrCodeStaleProof},
		{"negative iat", -5, ErrCodeStaleProof},
	}

	cfg := DefaultVerifierConfig()
	cfg.now = func() time.Time { return now }
	v := NewVerifier(cfg)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := defaultTestClaims()
			claims.IAT = tc.iat
			proof := signTestProof(t, priv, defaultTestHeader(), claims)

			_, err := v.Verify(proof, testMethod, testURL, &priv.PublicKey)
			if tc.wantCode == "" {
				if err != nil {
					t.Errorf("expected acceptance, got %v", err)
				}
				return
			}
			assertProofCode(t, err, tc.wantCode)
		})
	}
}

func TestVerifyMissingJTI(t *testing.T) {
	priv, _ := GenerateKeyPair()
	claims := defaultTestClaims()
	claims.JTI = ""
	proof := signTestProof(t, priv, defaultTestHeader(), claims)

	v := NewVerifier(DefaultVerifierConfig())
	_, err := v.Verify(proof, testMethod, testURL, &priv.PublicKey)
	assertProofCode(t, err, ErrCodeMissingJTI)
}

func TestVerifyHeaderChecks(t *testing.T) {
	priv, _ := GenerateKeyPair()
	v := NewVerifier(DefaultVerifierConfig())

	cases := []struct {
		name     string
		header   Header
		wantCode string
	}{
		{"wrong typ", Header{Typ: "jwt", Alg: AlgES256}, ErrCodeUnsupportedProof},
		{"missing typ", Header{Alg: AlgES256}, ErrCodeUnsupportedProof},
		{"wrong alg", Header{Typ: TypeDPoP, Alg: "RS256"}, ErrCodeUnsupportedProof},
		{"none alg", Header{Typ: TypeDPoP, Alg: "none"}, ErrCodeUnsupportedProof},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proof := signTestProof(t, priv, tc.header, defaultTestClaims())
			_, err := v.Verify(proof, testMethod, testURL, &priv.PublicKey)
			assertProofCode(t, err, tc.wantCode)
		})
	}
}

func TestVerifyMalformedProofs(t *testing.T) {
	priv, _ := GenerateKeyPair()
	v := NewVerifier(DefaultVerifierConfig())

	cases := []struct {
		name  string
		proof string
	}{
		{"empty", ""},
		{"one part", "abc"},
		{"two parts", "abc.def"},
		{"four parts", "a.b.c.d"},
		{"empty middle part", "a..c"},
		{"not base64", "!!!.???.###"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.proof, testMethod, testURL, &priv.PublicKey)
			assertProofCode(t, err, ErrCodeMalformedProof)
		})
	}
}

func TestVerifyIsSideEffectFree(t *testing.T) {
	priv, _ := GenerateKeyPair()
	proof := signTestProof(t, priv, defaultTestHeader(), defaultTestClaims())
	v := NewVerifier(DefaultVerifierConfig())

	t.Log("The same proof must verify repeatedly; replay handling is the caller's job")
	for i := 0; i < 3; i++ {
		if _, err := v.Verify(proof, testMethod, testURL, &priv.PublicKey); err != nil {
			t.Fatalf("verification %d failed: %v", i+1, err)
		}
	}
}

func splitProof(proof string) [3]string {
	var out [3]string
	idx := 0
	start := 0
	for i := 0; i < len(proof) && idx < 2; i++ {
		if proof[i] == '.' {
			out[idx] = proof[start:i]
			start = i + 1
			idx++
		}
	}
	out[2] = proof[start:]
	return out
}

func assertProofCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	perr, ok := err.(*ProofError)
	if !ok {
		t.Fatalf("expected *ProofError, got %T: %v", err, err)
	}
	if perr.Code != code {
		t.Errorf("expected code %s, got %s", code, perr.Code)
	}
}
