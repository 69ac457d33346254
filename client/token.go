package client

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignToken mints an HS256 bearer token for userID. Production deployments
// get tokens from the operator's auth system; this is for the bot and local
// development.
func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
