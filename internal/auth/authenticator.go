// ABOUTME: The single authentication entry point: classify, validate, normalize
// ABOUTME: Produces a Passport and best-effort upserts non-anonymous identities to the registry

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/runbookhq/runbook-gateway/internal/store"
)

// UserRegistry is the persistent registry of non-anonymous identities.
// Upserts are best-effort: failures are logged and swallowed, never failing
// the surrounding auth call.
type UserRegistry interface {
	UpsertUser(ctx context.Context, u *store.User) error
}

// Config holds the static authentication configuration.
type Config struct {
	Production        bool
	OIDCIssuer        string
	OIDCAudience      string
	APIKeyIssuer      string
	SharedSecret      string
	AllowSharedSecret bool
}

// Authenticator classifies, validates, and normalizes inbound credentials.
// It is the single entry point invoked by HTTP middleware, WebSocket
// handshake validators, and GraphQL context builders.
type Authenticator struct {
	cfg     Config
	tokens  *TokenVerifier
	apiKeys *APIKeyVerifier
	secrets SharedSecretVerifier

	registry UserRegistry // optional
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator sharing the given key set
// cache across all validators. registry may be nil when no persistent user
// registry is configured.
func NewAuthenticator(cfg Config, keys *KeySetCache, registry UserRegistry, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKeyIssuer == "" {
		cfg.APIKeyIssuer = cfg.OIDCIssuer
	}
	tokens := NewTokenVerifier(keys, nil)
	return &Authenticator{
		cfg:      cfg,
		tokens:   tokens,
		apiKeys:  NewAPIKeyVerifier(tokens, cfg.APIKeyIssuer),
		registry: registry,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate validates a raw bearer credential and returns the caller's
// Passport. All failures surface as ErrAuthenticationFailed except
// ErrExpired, which clients act on differently (silent refresh vs
// re-login). The internal error kind is logged for observability.
func (a *Authenticator) Authenticate(ctx context.Context, rawCredential string, caller CallerContext) (*Passport, error) {
	kind, err := Classify(rawCredential, caller, ClassifierConfig{
		AllowSharedSecret: a.cfg.AllowSharedSecret && a.cfg.SharedSecret != "",
		Production:        a.cfg.Production,
	})
	if err != nil {
		return nil, a.fail("classify", err)
	}

	var passport *Passport
	switch kind {
	case KindSignedToken:
		passport, err = a.verifySignedToken(ctx, rawCredential)
	case KindAPIKey:
		passport, err = a.authenticateAPIKey(ctx, rawCredential)
	case KindSharedSecret:
		passport, err = a.authenticateSharedSecret(rawCredential, caller)
	}
	if err != nil {
		return nil, a.fail(string(kind), err)
	}

	a.upsertRegistry(ctx, passport.Identity)
	return passport, nil
}

// verifySignedToken verifies an OIDC token and normalizes its claims.
func (a *Authenticator) verifySignedToken(ctx context.Context, raw string) (*Passport, error) {
	if a.cfg.OIDCIssuer == "" {
		return nil, fmt.Errorf("%w: no OIDC issuer configured", ErrInvalidIssuer)
	}

	tok, err := a.tokens.Verify(ctx, raw, OIDCKeySetURL(a.cfg.OIDCIssuer), a.cfg.OIDCIssuer, a.cfg.OIDCAudience)
	if err != nil {
		return nil, err
	}
	return normalizeOIDC(ctx, tok)
}

// normalizeOIDC maps verified OIDC claims to the canonical Identity.
func normalizeOIDC(ctx context.Context, tok jwxjwt.Token) (*Passport, error) {
	sub := tok.Subject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing or empty sub", ErrInvalidSubjectClaim)
	}

	email, err := stringClaim(tok, "email")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmailClaim, err)
	}

	name, _ := optionalStringClaim(tok, "name")
	givenName, _ := optionalStringClaim(tok, "given_name")
	familyName, _ := optionalStringClaim(tok, "family_name")

	claims, _ := tok.AsMap(ctx)

	return &Passport{
		Identity: Identity{
			ID:          sub,
			Email:       email,
			GivenName:   givenName,
			FamilyName:  familyName,
			DisplayName: displayName(name, givenName, familyName, email),
			IsAnonymous: false,
		},
		Claims: claims,
	}, nil
}

// displayName picks the first usable display name from the profile claims.
func displayName(name, given, family, email string) string {
	if name != "" {
		return name
	}
	if full := strings.TrimSpace(given + " " + family); full != "" {
		return full
	}
	if email != "" {
		return email
	}
	return "Unnamed User"
}

// stringClaim returns a required string claim, erroring when missing or
// non-string.
func stringClaim(tok jwxjwt.Token, name string) (string, error) {
	raw, ok := tok.Get(name)
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s is not a string", name)
	}
	return s, nil
}

// optionalStringClaim returns a string claim or empty when absent.
func optionalStringClaim(tok jwxjwt.Token, name string) (string, bool) {
	raw, ok := tok.Get(name)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// authenticateAPIKey verifies an API-key token and produces its synthetic
// local identity.
func (a *Authenticator) authenticateAPIKey(ctx context.Context, raw string) (*Passport, error) {
	keyID, tok, err := a.apiKeys.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	claims, _ := tok.AsMap(ctx)

	return &Passport{
		Identity: Identity{
			ID:          "local-" + keyID,
			Email:       keyID + "@local.dev",
			DisplayName: "local-" + keyID,
			IsAnonymous: false,
		},
		Claims: claims,
	}, nil
}

// authenticateSharedSecret validates an opaque shared-secret credential.
// Service callers get the runtime-agent identity; interactive callers get
// the anonymous local-dev identity.
func (a *Authenticator) authenticateSharedSecret(raw string, caller CallerContext) (*Passport, error) {
	if err := a.secrets.Validate(a.cfg.SharedSecret, raw); err != nil {
		return nil, err
	}

	if caller.IsServiceCaller {
		return &Passport{
			Identity: Identity{
				ID:          RuntimeAgentID,
				DisplayName: "Runtime Agent",
				IsAnonymous: false,
			},
		}, nil
	}

	return &Passport{
		Identity: Identity{
			ID:          LocalDevUserID,
			DisplayName: "Local Dev User",
			IsAnonymous: true,
		},
	}, nil
}

// upsertRegistry records a non-anonymous identity in the user registry.
// Registry failures of any kind never fail the surrounding auth call.
func (a *Authenticator) upsertRegistry(ctx context.Context, id Identity) {
	if a.registry == nil || id.IsAnonymous {
		return
	}

	err := a.registry.UpsertUser(ctx, &store.User{
		ID:          id.ID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		GivenName:   id.GivenName,
		FamilyName:  id.FamilyName,
	})
	if err != nil {
		a.logger.Warn("user registry upsert failed", "user_id", id.ID, "error", err)
	}
}

// fail logs the internal error kind and returns the uniform failure,
// preserving only the Expired distinction for callers.
func (a *Authenticator) fail(stage string, err error) error {
	a.logger.Warn("auth failure", "stage", stage, "error", err)
	if errors.Is(err, ErrExpired) {
		return ErrExpired
	}
	return ErrAuthenticationFailed
}
