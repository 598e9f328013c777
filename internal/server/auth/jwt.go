// Package auth verifies the bearer tokens presented to the HTTP API.
//
// Tokens are HS256 JWTs carrying the caller's user id and role. Issuing
// tokens to end users is the job of the identity service in front of
// imagingdesk; GenerateToken exists for operator tooling and tests.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/server/access"
)

// Claims carries the standard registered claims plus the caller identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

func GenerateToken(id access.Identity, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: id.UserID,
		Role:   id.Role,
	})

	return token.SignedString(secretKey)
}

// ParseToken validates tokenString and returns the identity it carries.
// Expired tokens yield common.ErrTokenExpired; every other failure
// yields common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (access.Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return access.Identity{}, common.ErrTokenExpired
		}
		return access.Identity{}, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return access.Identity{}, common.ErrInvalidToken
	}

	return access.Identity{UserID: claims.UserID, Role: claims.Role}, nil
}
