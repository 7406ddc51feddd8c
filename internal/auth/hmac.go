package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// HMACClaims are carried by tokens the API signs itself (dev, tests, device
// tokens issued before the identity provider was set up).
type HMACClaims struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
	jwt.RegisteredClaims
}

// ValidateHMACToken validates a token signed with secret
func ValidateHMACToken(tokenString, secret string) (*HMACClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HMACClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*HMACClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
