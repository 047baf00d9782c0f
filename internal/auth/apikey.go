// ABOUTME: Self-issued API-key token validation against per-key key sets
// ABOUTME: Decodes the subject as a key identifier and verifies the per-key signature

package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
)

// APIKeyVerifier validates self-issued API-key tokens. Each key id has its
// own keypair, published at a per-key JWKS path under the issuer.
type APIKeyVerifier struct {
	tokens *TokenVerifier
	issuer string
}

// NewAPIKeyVerifier creates an API-key verifier for the given issuer.
func NewAPIKeyVerifier(tokens *TokenVerifier, issuer string) *APIKeyVerifier {
	return &APIKeyVerifier{tokens: tokens, issuer: issuer}
}

// Verify decodes the token's subject as a UUID key identifier, resolves the
// per-key verification key, and verifies the signature and claims. There is
// no fallback to other credential kinds: once classified as an API key, a
// failed verification fails the request.
func (v *APIKeyVerifier) Verify(ctx context.Context, raw string) (keyID string, tok jwxjwt.Token, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", nil, fmt.Errorf("%w: missing subject", ErrInvalidSubjectClaim)
	}
	if _, err := uuid.Parse(sub); err != nil {
		return "", nil, fmt.Errorf("%w: subject %q is not a key id", ErrInvalidSubjectClaim, sub)
	}

	tok, err = v.tokens.Verify(ctx, raw, APIKeyKeySetURL(v.issuer, sub), v.issuer, APIKeyAudience)
	if err != nil {
		return "", nil, err
	}
	return sub, tok, nil
}
