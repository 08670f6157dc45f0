// Package auth issues and verifies the privileged bearer tokens used by
// operators and publishers. Tokens are HS256 JWTs signed with a key derived
// from the server master secret; verification is stateless, so privileged
// access never depends on mutable server state.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"edgerelay/internal/common"
	"edgerelay/internal/cryptox"
)

const (
	// RoleOperator may read the operator endpoints and publish.
	RoleOperator = "operator"
	// RolePublisher may only publish messages.
	RolePublisher = "publisher"
)

// SigningKey derives the token signing key from the master secret. The
// relayctl tool uses the same derivation, so tokens minted offline verify
// against a server configured with the same secret.
func SigningKey(masterSecret string) []byte {
	return cryptox.DeriveKey(masterSecret, "privileged-token")
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func GenerateToken(role string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Role: role,
	})

	return token.SignedString(secretKey)
}

// RoleFromToken verifies the token signature and expiry and returns the role
// claim. Any failure yields common.ErrInvalidToken.
func RoleFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", common.ErrInvalidToken
	}

	if claims.Role != RoleOperator && claims.Role != RolePublisher {
		return "", common.ErrInvalidToken
	}

	return claims.Role, nil
}
