// ABOUTME: Error kinds for credential classification and validation
// ABOUTME: Internal kinds are logged; callers see a uniform failure except Expired

package auth

import "errors"

// ErrAuthenticationFailed is the uniform failure surfaced to callers for
// every validation error except ErrExpired. The precise kind is retained
// for logging only, so untrusted clients cannot distinguish a wrong secret
// from a malformed token.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Credential validation error kinds
var (
	ErrUnknownCredentialKind = errors.New("unknown credential kind")
	ErrInvalidIssuer         = errors.New("invalid token issuer")
	ErrInvalidSignature      = errors.New("invalid token signature")
	ErrExpired               = errors.New("token expired")
	ErrInvalidAudience       = errors.New("invalid token audience")
	ErrInvalidSubjectClaim   = errors.New("invalid subject claim")
	ErrInvalidEmailClaim     = errors.New("invalid email claim")
	ErrInvalidSharedSecret   = errors.New("invalid shared secret")
)
