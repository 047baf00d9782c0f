// ABOUTME: Tests for self-issued API-key token validation
// ABOUTME: Covers per-key key set resolution and subject format enforcement

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	golangjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func (ti *testIssuer) apiKeyClaims(keyID string) golangjwt.MapClaims {
	now := time.Now()
	return golangjwt.MapClaims{
		"iss": ti.srv.URL,
		"sub": keyID,
		"aud": APIKeyAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestAPIKeyVerify_Valid(t *testing.T) {
	ti := newTestIssuer(t)
	v := NewAPIKeyVerifier(newTestVerifier(), ti.srv.URL)

	keyID := uuid.New().String()
	// No kid header: the per-key set holds a single key.
	raw := ti.sign(ti.apiKeyClaims(keyID), "")

	gotKeyID, tok, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if gotKeyID != keyID {
		t.Errorf("expected key id %s, got %s", keyID, gotKeyID)
	}
	if tok.Subject() != keyID {
		t.Errorf("unexpected subject: %s", tok.Subject())
	}
}

func TestAPIKeyVerify_NonUUIDSubject(t *testing.T) {
	ti := newTestIssuer(t)
	v := NewAPIKeyVerifier(newTestVerifier(), ti.srv.URL)

	claims := ti.apiKeyClaims("not-a-uuid")
	raw := ti.sign(claims, "")

	_, _, err := v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrInvalidSubjectClaim) {
		t.Errorf("expected ErrInvalidSubjectClaim, got %v", err)
	}
}

func TestAPIKeyVerify_MissingSubject(t *testing.T) {
	ti := newTestIssuer(t)
	v := NewAPIKeyVerifier(newTestVerifier(), ti.srv.URL)

	claims := ti.apiKeyClaims("")
	delete(claims, "sub")
	raw := ti.sign(claims, "")

	_, _, err := v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrInvalidSubjectClaim) {
		t.Errorf("expected ErrInvalidSubjectClaim, got %v", err)
	}
}

func TestAPIKeyVerify_WrongAudience(t *testing.T) {
	ti := newTestIssuer(t)
	v := NewAPIKeyVerifier(newTestVerifier(), ti.srv.URL)

	claims := ti.apiKeyClaims(uuid.New().String())
	claims["aud"] = "runbook-gateway"
	raw := ti.sign(claims, "")

	_, _, err := v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrInvalidAudience) {
		t.Errorf("expected ErrInvalidAudience, got %v", err)
	}
}

func TestAPIKeyVerify_Expired(t *testing.T) {
	ti := newTestIssuer(t)
	v := NewAPIKeyVerifier(newTestVerifier(), ti.srv.URL)

	claims := ti.apiKeyClaims(uuid.New().String())
	claims["exp"] = time.Now().Add(-2 * time.Minute).Unix()
	raw := ti.sign(claims, "")

	_, _, err := v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}
