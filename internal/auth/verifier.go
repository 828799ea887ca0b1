// Package auth verifies the opaque bearer tokens presented during the
// WebSocket handshake. Tokens are HMAC-signed JWTs issued by the credential
// service; this package only validates them and extracts the user ID — it
// never issues credentials.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers missing, malformed, expired, or badly signed
// tokens. Handshake failures carrying it terminate the connection before
// any room interaction.
var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier validates a token and yields the user ID it was issued to.
type Verifier interface {
	VerifyToken(token string) (userID string, err error)
}

// Claims is the JWT payload the credential service issues.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256-signed tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given HMAC secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// VerifyToken parses and validates the token, returning the user ID claim.
// Every failure mode maps to ErrInvalidToken so callers need a single check.
func (v *JWTVerifier) VerifyToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
