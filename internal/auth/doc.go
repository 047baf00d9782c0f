// ABOUTME: Package documentation for the auth package
// ABOUTME: Explains the credential-validation chain and identity normalization

// Package auth implements the credential-validation chain for
// runbook-gateway. Every inbound request presents one of three credential
// kinds: an OIDC-issued signed token, a self-issued API-key token, or an
// opaque shared secret. The classifier decides which validation strategy
// applies, the matching validator verifies the credential, and the result
// is normalized into a single Identity attached to the request context.
//
// Classification and verification are deliberately separate steps: a
// structurally valid token that fails verification produces a precise
// diagnostic instead of silently degrading to another credential kind.
package auth
