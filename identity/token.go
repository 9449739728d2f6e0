package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// LocalToken signs an HS256 token for userID, accepted by an Auth configured
// with the same LocalSecret.
func LocalToken(secret []byte, userID, audience, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Add(-time.Minute).Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
