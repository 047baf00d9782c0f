// ABOUTME: HTTP middleware for bearer-credential authentication on API endpoints
// ABOUTME: Extracts the credential, authenticates it, and attaches the Passport to context

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ServiceCallerHeader marks requests from automated runtime agents. It is
// set by the runtime transport, not by interactive clients.
const ServiceCallerHeader = "X-Runbook-Runtime"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// credentialFromRequest pulls the raw credential from the Authorization
// header, falling back to the token query parameter for WebSocket
// handshakes where browsers cannot set headers.
func credentialFromRequest(r *http.Request) (string, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg == "" {
		return token, ""
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	return "", errMsg
}

// callerFromRequest derives the transport-level caller context.
func callerFromRequest(r *http.Request) CallerContext {
	return CallerContext{
		IsServiceCaller: r.Header.Get(ServiceCallerHeader) != "",
	}
}

// Middleware creates an HTTP middleware that authenticates every request
// and attaches the Passport to the request context. Failures return a
// generic 401; only token expiry is surfaced distinctly so clients can
// trigger a re-login instead of treating it as fatal.
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, errMsg := credentialFromRequest(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			passport, err := a.Authenticate(r.Context(), credential, callerFromRequest(r))
			if err != nil {
				if errors.Is(err, ErrExpired) {
					http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"authentication failed"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPassport(r.Context(), passport)))
		})
	}
}

// OptionalMiddleware attempts authentication but allows unauthenticated
// requests through. Useful for endpoints that behave differently for
// authenticated vs anonymous callers, such as the sync handshake.
func OptionalMiddleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, errMsg := credentialFromRequest(r)
			if errMsg != "" {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}

			passport, err := a.Authenticate(r.Context(), credential, callerFromRequest(r))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPassport(r.Context(), passport)))
		})
	}
}
