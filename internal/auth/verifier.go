// ABOUTME: Signed-token verification against remote key sets for a given issuer/audience
// ABOUTME: Asymmetric-only algorithm allow-list; expired tokens are distinguished from other failures

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// defaultAllowedAlgorithms lists the asymmetric signature algorithms
// accepted from untrusted input. Symmetric algorithms are reserved for the
// shared-secret validator's internal use and are never accepted here.
var defaultAllowedAlgorithms = []jwa.SignatureAlgorithm{
	jwa.RS256,
	jwa.RS384,
	jwa.RS512,
	jwa.PS256,
	jwa.ES256,
	jwa.ES384,
}

// acceptableSkew tolerates small clock drift between issuer and gateway.
const acceptableSkew = 30 * time.Second

// TokenVerifier verifies signed tokens against remote key sets. It is
// stateless apart from the shared key set cache.
type TokenVerifier struct {
	keys    *KeySetCache
	allowed map[jwa.SignatureAlgorithm]bool
}

// NewTokenVerifier creates a verifier using the given key set cache. A nil
// or empty algorithm list selects the default asymmetric allow-list.
func NewTokenVerifier(keys *KeySetCache, allowedAlgorithms []jwa.SignatureAlgorithm) *TokenVerifier {
	if len(allowedAlgorithms) == 0 {
		allowedAlgorithms = defaultAllowedAlgorithms
	}
	allowed := make(map[jwa.SignatureAlgorithm]bool, len(allowedAlgorithms))
	for _, alg := range allowedAlgorithms {
		allowed[alg] = true
	}
	return &TokenVerifier{keys: keys, allowed: allowed}
}

// Verify checks the token's signature against the key set at jwksURL and
// validates the issuer, audience, and time claims. An empty audience skips
// the audience check. Returns the verified token or one of ErrInvalidIssuer,
// ErrInvalidSignature, ErrExpired, ErrInvalidAudience.
func (v *TokenVerifier) Verify(ctx context.Context, raw, jwksURL, issuer, audience string) (jwt.Token, error) {
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, fmt.Errorf("%w: no signature", ErrInvalidSignature)
	}
	headers := sigs[0].ProtectedHeaders()

	alg := headers.Algorithm()
	if !v.allowed[alg] {
		return nil, fmt.Errorf("%w: algorithm %q not allowed", ErrInvalidSignature, alg)
	}

	key, err := v.keys.ResolveKey(ctx, jwksURL, headers.KeyID())
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(alg, key),
		jwt.WithValidate(true),
		jwt.WithIssuer(issuer),
		jwt.WithAcceptableSkew(acceptableSkew),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	tok, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, mapVerificationError(err)
	}
	return tok, nil
}

// mapVerificationError translates jwx validation failures into this
// package's error kinds. Expired is kept distinct because clients retry it
// with a re-login rather than treating it as fatal misconfiguration.
func mapVerificationError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return fmt.Errorf("%w: %v", ErrInvalidAudience, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}
