// ABOUTME: Tests for credential classification
// ABOUTME: Covers token shapes, the API-key audience marker, and shared-secret gating

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// signTestToken builds a structurally valid compact JWT. The signature is
// irrelevant: classification never verifies it.
func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("unverified"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return raw
}

func TestClassify_SignedToken(t *testing.T) {
	raw := signTestToken(t, jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	kind, err := Classify(raw, CallerContext{}, ClassifierConfig{})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != KindSignedToken {
		t.Errorf("expected KindSignedToken, got %s", kind)
	}
}

func TestClassify_APIKey(t *testing.T) {
	raw := signTestToken(t, jwt.MapClaims{
		"iss": "https://issuer.example.com",
		"sub": uuid.New().String(),
		"aud": APIKeyAudience,
	})

	kind, err := Classify(raw, CallerContext{}, ClassifierConfig{})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != KindAPIKey {
		t.Errorf("expected KindAPIKey, got %s", kind)
	}
}

func TestClassify_APIKeyAudienceWithoutUUIDSubject(t *testing.T) {
	raw := signTestToken(t, jwt.MapClaims{
		"sub": "not-a-uuid",
		"aud": APIKeyAudience,
	})

	kind, err := Classify(raw, CallerContext{}, ClassifierConfig{})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != KindSignedToken {
		t.Errorf("expected KindSignedToken, got %s", kind)
	}
}

func TestClassify_UUIDSubjectWithoutAPIKeyAudience(t *testing.T) {
	raw := signTestToken(t, jwt.MapClaims{
		"sub": uuid.New().String(),
		"aud": "runbook-gateway",
	})

	kind, err := Classify(raw, CallerContext{}, ClassifierConfig{})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != KindSignedToken {
		t.Errorf("expected KindSignedToken, got %s", kind)
	}
}

func TestClassify_WrongIssuerStillSignedToken(t *testing.T) {
	// A structurally valid token with an unknown issuer must classify as a
	// signed token so verification reports the precise failure, instead of
	// degrading into a shared-secret attempt.
	raw := signTestToken(t, jwt.MapClaims{
		"iss": "https://not-our-issuer.example.com",
		"sub": "user-123",
	})

	kind, err := Classify(raw, CallerContext{}, ClassifierConfig{AllowSharedSecret: true})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if kind != KindSignedToken {
		t.Errorf("expected KindSignedToken, got %s", kind)
	}
}

func TestClassify_SharedSecret(t *testing.T) {
	tests := []struct {
		name     string
		caller   CallerContext
		cfg      ClassifierConfig
		wantKind CredentialKind
		wantErr  bool
	}{
		{
			name:     "allowed in development",
			cfg:      ClassifierConfig{AllowSharedSecret: true, Production: false},
			wantKind: KindSharedSecret,
		},
		{
			name:     "service caller allowed in production",
			caller:   CallerContext{IsServiceCaller: true},
			cfg:      ClassifierConfig{AllowSharedSecret: true, Production: true},
			wantKind: KindSharedSecret,
		},
		{
			name:    "interactive caller rejected in production",
			cfg:     ClassifierConfig{AllowSharedSecret: true, Production: true},
			wantErr: true,
		},
		{
			name:    "rejected when not allowed",
			cfg:     ClassifierConfig{AllowSharedSecret: false, Production: false},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := Classify("opaque-secret-value", tt.caller, tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownCredentialKind) {
					t.Errorf("expected ErrUnknownCredentialKind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if kind != tt.wantKind {
				t.Errorf("expected %s, got %s", tt.wantKind, kind)
			}
		})
	}
}
