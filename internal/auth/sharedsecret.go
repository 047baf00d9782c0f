// ABOUTME: Constant-time shared-secret validation built from HMAC signing primitives
// ABOUTME: Signs one probe token with the expected secret and verifies it against both secrets

package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// SharedSecretVerifier proves equality of two secrets without a direct
// byte comparison. It signs a fixed, non-secret claim set with the expected
// secret, then verifies that single token against both secrets. HMAC
// verification is itself a constant-time keyed comparison, so equality of
// the secrets leaks nothing about where they first differ; only lengths can
// leak, and lengths are not secret.
//
// Do not replace this with a string compare: that reintroduces the timing
// side-channel this construction exists to avoid.
type SharedSecretVerifier struct{}

// probeClaims is the fixed, non-secret payload of the probe token. Only the
// signing key matters.
var probeClaims = jwt.MapClaims{"probe": "runbook-gateway"}

// Validate returns nil when suppliedSecret equals expectedSecret and
// ErrInvalidSharedSecret when it does not. A verification failure against
// the expected secret itself is an internal fault, not an auth failure.
func (SharedSecretVerifier) Validate(expectedSecret, suppliedSecret string) error {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, probeClaims).SignedString([]byte(expectedSecret))
	if err != nil {
		return fmt.Errorf("signing shared-secret probe: %w", err)
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))

	// Sanity check: the token must verify under the key that signed it.
	if _, err := parser.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(expectedSecret), nil
	}); err != nil {
		return fmt.Errorf("shared-secret self-verification failed: %w", err)
	}

	if _, err := parser.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(suppliedSecret), nil
	}); err != nil {
		return ErrInvalidSharedSecret
	}

	return nil
}
