package server

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyTokenSubject(t *testing.T) {
	tv := NewTokenVerifier("secret")
	token := signTestToken(t, "secret", jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	userID, err := tv.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("want alice, got %q", userID)
	}
}

func TestVerifyTokenUserIDClaimWins(t *testing.T) {
	tv := NewTokenVerifier("secret")
	token := signTestToken(t, "secret", jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "registered-subject",
		"userId": "bob",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	userID, err := tv.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "bob" {
		t.Fatalf("want bob, got %q", userID)
	}
}

func TestVerifyTokenRejections(t *testing.T) {
	tv := NewTokenVerifier("secret")

	expired := signTestToken(t, "secret", jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongSecret := signTestToken(t, "other-secret", jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	wrongMethod := signTestToken(t, "secret", jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noIdentity := signTestToken(t, "secret", jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"wrong secret", wrongSecret},
		{"wrong method", wrongMethod},
		{"no identity claim", noIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tv.VerifyToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("want ErrInvalidToken, got %v", err)
			}
		})
	}

	// Expiry stays matchable through the wrap so the handler can answer
	// with a stable "token expired" reason.
	_, err := tv.VerifyToken(expired)
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expired token should match jwt.ErrTokenExpired, got %v", err)
	}
}
