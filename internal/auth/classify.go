// ABOUTME: Credential classifier deciding which validation strategy applies
// ABOUTME: Distinguishes signed tokens, API keys, and opaque shared secrets

package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CredentialKind is the validation strategy selected for a raw credential.
type CredentialKind string

const (
	KindSignedToken  CredentialKind = "signed_token"
	KindAPIKey       CredentialKind = "api_key"
	KindSharedSecret CredentialKind = "shared_secret"
)

// APIKeyAudience is the reserved audience claim marking a self-issued
// API-key token.
const APIKeyAudience = "api-keys"

// ClassifierConfig holds the static configuration classification depends on.
type ClassifierConfig struct {
	// AllowSharedSecret enables opaque shared-secret credentials. Never
	// set in production unless explicitly allowed by deployment config.
	AllowSharedSecret bool

	// Production marks a production deployment. Interactive callers may
	// only use shared secrets outside production.
	Production bool
}

// Classify inspects a raw bearer credential and returns the validation
// strategy that applies. Classification never verifies signatures: a
// structurally valid token with a wrong issuer is still KindSignedToken so
// that verification can report the precise failure instead of the
// credential silently degrading to a shared-secret attempt.
func Classify(raw string, caller CallerContext, cfg ClassifierConfig) (CredentialKind, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		if hasAPIKeyShape(claims) {
			return KindAPIKey, nil
		}
		return KindSignedToken, nil
	}

	// Not a structured token. Opaque credentials are shared secrets only
	// when the deployment allows them and the caller is either a service
	// or the deployment is non-production.
	if cfg.AllowSharedSecret && (caller.IsServiceCaller || !cfg.Production) {
		return KindSharedSecret, nil
	}

	return "", ErrUnknownCredentialKind
}

// hasAPIKeyShape reports whether unverified claims carry the reserved
// API-key audience and a UUID subject (the key identifier format).
func hasAPIKeyShape(claims jwt.MapClaims) bool {
	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, APIKeyAudience) {
		return false
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return false
	}
	_, err = uuid.Parse(sub)
	return err == nil
}
