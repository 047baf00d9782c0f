// ABOUTME: Tests for signed-token verification against remote key sets
// ABOUTME: Covers the algorithm allow-list, claim validation, and key rotation re-fetch

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	golangjwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// testIssuer is a fake token issuer: it holds a signing key and serves the
// matching JWKS document on every path, so it doubles as an OIDC issuer and
// a per-key API-key issuer.
type testIssuer struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	key     *rsa.PrivateKey
	kid     string
	fetches int
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}

	ti := &testIssuer{t: t, key: key, kid: "test-key-1"}
	ti.srv = httptest.NewServer(http.HandlerFunc(ti.serveJWKS))
	t.Cleanup(ti.srv.Close)
	return ti
}

func (ti *testIssuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	ti.mu.Lock()
	ti.fetches++
	key, kid := ti.key, ti.kid
	ti.mu.Unlock()

	pub, err := jwk.FromRaw(key.Public())
	if err != nil {
		ti.t.Errorf("building JWK: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		ti.t.Errorf("setting kid: %v", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		ti.t.Errorf("adding key to set: %v", err)
	}

	buf, err := json.Marshal(set)
	if err != nil {
		ti.t.Errorf("marshaling key set: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}

// rotate swaps the issuer's signing key, simulating key rotation.
func (ti *testIssuer) rotate(kid string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		ti.t.Fatalf("generating rotated key: %v", err)
	}
	ti.mu.Lock()
	ti.key = key
	ti.kid = kid
	ti.mu.Unlock()
}

func (ti *testIssuer) fetchCount() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.fetches
}

// sign produces an RS256 token with the issuer's current key. An empty kid
// omits the header entirely.
func (ti *testIssuer) sign(claims golangjwt.MapClaims, kid string) string {
	ti.t.Helper()

	tok := golangjwt.NewWithClaims(golangjwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}

	ti.mu.Lock()
	key := ti.key
	ti.mu.Unlock()

	raw, err := tok.SignedString(key)
	if err != nil {
		ti.t.Fatalf("signing token: %v", err)
	}
	return raw
}

// standardClaims returns a valid claim set for the issuer, overridable by
// the caller.
func (ti *testIssuer) standardClaims() golangjwt.MapClaims {
	now := time.Now()
	return golangjwt.MapClaims{
		"iss":   ti.srv.URL,
		"sub":   "user-123",
		"email": "user@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func (ti *testIssuer) jwksURL() string {
	return OIDCKeySetURL(ti.srv.URL)
}

func newTestVerifier() *TokenVerifier {
	return NewTokenVerifier(NewKeySetCache(), nil)
}

func TestVerify_Valid(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	raw := ti.sign(ti.standardClaims(), ti.kid)

	tok, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, "")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if tok.Subject() != "user-123" {
		t.Errorf("unexpected subject: %s", tok.Subject())
	}
}

func TestVerify_CachesKeySet(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	for i := 0; i < 3; i++ {
		raw := ti.sign(ti.standardClaims(), ti.kid)
		if _, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, ""); err != nil {
			t.Fatalf("Verify %d failed: %v", i, err)
		}
	}

	if got := ti.fetchCount(); got != 1 {
		t.Errorf("expected a single JWKS fetch, got %d", got)
	}
}

func TestVerify_Expired(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	claims := ti.standardClaims()
	claims["exp"] = time.Now().Add(-2 * time.Minute).Unix() // beyond the skew window
	raw := ti.sign(claims, ti.kid)

	_, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, "")
	if !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestVerify_ExpiredWithinSkewAccepted(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	claims := ti.standardClaims()
	claims["exp"] = time.Now().Add(-10 * time.Second).Unix()
	raw := ti.sign(claims, ti.kid)

	if _, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, ""); err != nil {
		t.Errorf("expected token within skew to verify, got %v", err)
	}
}

func TestVerify_WrongIssuer(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	claims := ti.standardClaims()
	claims["iss"] = "https://evil.example.com"
	raw := ti.sign(claims, ti.kid)

	_, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, "")
	if !errors.Is(err, ErrInvalidIssuer) {
		t.Errorf("expected ErrInvalidIssuer, got %v", err)
	}
}

func TestVerify_WrongAudience(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	claims := ti.standardClaims()
	claims["aud"] = "someone-else"
	raw := ti.sign(claims, ti.kid)

	_, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, "expected-audience")
	if !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("expected ErrInvalidAudience, got %v", err)
	}
}

func TestVerify_EmptyAudienceSkipsCheck(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	claims := ti.standardClaims()
	claims["aud"] = "anything"
	raw := ti.sign(claims, ti.kid)

	if _, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, ""); err != nil {
		t.Errorf("expected audience check to be skipped, got %v", err)
	}
}

func TestVerify_SymmetricAlgorithmRejected(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	// An HS256 token never reaches key resolution, regardless of its key.
	tok := golangjwt.NewWithClaims(golangjwt.SigningMethodHS256, golangjwt.MapClaims{
		"iss": ti.srv.URL,
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := tok.SignedString([]byte("any-secret"))
	if err != nil {
		t.Fatalf("signing HS256 token: %v", err)
	}

	_, err = v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, "")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if got := ti.fetchCount(); got != 0 {
		t.Errorf("expected no JWKS fetch for a rejected algorithm, got %d", got)
	}
}

func TestVerify_UnknownKidRefetchesOnce(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	// Warm the cache.
	raw := ti.sign(ti.standardClaims(), ti.kid)
	if _, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, ""); err != nil {
		t.Fatalf("warmup Verify failed: %v", err)
	}

	unknown := ti.sign(ti.standardClaims(), "never-published")
	_, err := v.Verify(context.Background(), unknown, ti.jwksURL(), ti.srv.URL, "")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	// Exactly one re-fetch beyond the warmup fetch.
	if got := ti.fetchCount(); got != 2 {
		t.Errorf("expected 2 JWKS fetches, got %d", got)
	}
}

func TestVerify_KeyRotation(t *testing.T) {
	ti := newTestIssuer(t)
	v := newTestVerifier()

	raw := ti.sign(ti.standardClaims(), ti.kid)
	if _, err := v.Verify(context.Background(), raw, ti.jwksURL(), ti.srv.URL, ""); err != nil {
		t.Fatalf("pre-rotation Verify failed: %v", err)
	}

	ti.rotate("test-key-2")

	rotated := ti.sign(ti.standardClaims(), "test-key-2")
	if _, err := v.Verify(context.Background(), rotated, ti.jwksURL(), ti.srv.URL, ""); err != nil {
		t.Errorf("post-rotation Verify failed: %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	v := newTestVerifier()

	_, err := v.Verify(context.Background(), "not-a-token", "http://unused.example.com/jwks", "iss", "")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}
