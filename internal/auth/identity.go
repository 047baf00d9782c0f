// ABOUTME: Identity and Passport types plus context plumbing for request handlers
// ABOUTME: Provides WithPassport/FromContext for propagating the authenticated caller

package auth

import (
	"context"
)

// Reserved identity ids for shared-secret callers.
const (
	// RuntimeAgentID identifies an automated runtime agent authenticating
	// with the shared secret.
	RuntimeAgentID = "runtime-agent"

	// LocalDevUserID identifies an interactive local-development caller
	// authenticating with the shared secret. It is anonymous and must
	// never reach the user registry.
	LocalDevUserID = "local-dev-user"
)

// Identity is the normalized, request-scoped representation of an
// authenticated caller. It is created once per request by the validators
// and never mutated.
type Identity struct {
	ID          string // stable subject, non-empty
	Email       string
	DisplayName string
	GivenName   string
	FamilyName  string

	// IsAnonymous marks synthetic local-dev identities. Anonymous
	// identities authenticate successfully but are excluded from any
	// persistent user registry upsert.
	IsAnonymous bool
}

// Passport bundles an Identity with the raw verified claims it was derived
// from. Claims is nil for shared-secret identities, which carry no token.
type Passport struct {
	Identity Identity
	Claims   map[string]any
}

// CallerContext describes the transport-level caller, independent of the
// credential it presents.
type CallerContext struct {
	// IsServiceCaller distinguishes an automated runtime agent from an
	// interactive user. Set by the transport layer, never by the client's
	// credential.
	IsServiceCaller bool
}

// passportKey is the key type for storing a Passport in context.Context.
type passportKey struct{}

// WithPassport returns a new context with the Passport attached.
func WithPassport(ctx context.Context, p *Passport) context.Context {
	return context.WithValue(ctx, passportKey{}, p)
}

// FromContext retrieves the Passport from the context, returning nil if not present.
func FromContext(ctx context.Context) *Passport {
	val := ctx.Value(passportKey{})
	if val == nil {
		return nil
	}
	p, ok := val.(*Passport)
	if !ok {
		return nil
	}
	return p
}

// MustFromContext retrieves the Passport from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Passport {
	p := FromContext(ctx)
	if p == nil {
		panic("auth: Passport not found in context")
	}
	return p
}

// IdentityFromContext is a convenience accessor for handlers that only need
// the normalized identity. Returns the zero Identity and false when the
// request is unauthenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	p := FromContext(ctx)
	if p == nil {
		return Identity{}, false
	}
	return p.Identity, true
}
