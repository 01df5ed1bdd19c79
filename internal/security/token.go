package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims bind a signed token to an access-key identity. Subject carries
// the public access key; KeyID and Name are informational claims.
type TokenClaims struct {
	KeyID     int64  `json:"kid"`
	Name      string `json:"name"`
	AccessKey string `json:"key"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// SignToken mints an HS512 token of the given type.
func SignToken(secret string, tokenType string, keyID int64, name string, accessKey string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		KeyID:     keyID,
		Name:      name,
		AccessKey: accessKey,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique per token so two mints in the same second never
			// produce identical strings (and identical registry keys).
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   accessKey,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// ParseToken validates the signature and expiry and returns the claims.
func ParseToken(tokenStr string, secret string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
