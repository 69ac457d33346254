package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a bearer token can fail verification. The
// wrapped detail is for logs; clients only see a generic auth_error.
var ErrInvalidToken = errors.New("invalid token")

type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// TokenVerifier validates HS256 bearer tokens issued by the operator's auth
// system and extracts the user identity.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// VerifyToken returns the user id carried by the token. The userId claim
// wins; the registered subject is the fallback.
func (tv *TokenVerifier) VerifyToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return tv.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return tv.now() }),
	)
	if err != nil {
		// Keeps jwt.ErrTokenExpired matchable so the handler can answer
		// with a stable "token expired" reason.
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", fmt.Errorf("%w: no user identity claim", ErrInvalidToken)
	}
	return userID, nil
}
