package services

import (
	postmesh_errors "postmesh/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService verifies access tokens issued by the auth service. Tokens are
// HMAC signed with the shared secret and carry the user id in "userId", or in
// "sub" for tokens minted by other issuers.
type TokenService struct {
	jwtSecret []byte
}

type AccessClaims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{jwtSecret: []byte(secret)}
}

// ParseAccessToken returns the user id carried by a valid token.
func (s *TokenService) ParseAccessToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", postmesh_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, postmesh_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", postmesh_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return "", postmesh_errors.ErrUnauthorized
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", postmesh_errors.ErrUnauthorized
	}
	return userID, nil
}
