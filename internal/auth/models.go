package auth

import "errors"

var (
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrMissingSubject   = errors.New("token has no user id")
)

// TokenClaims represents the claims this service reads from an access token.
// Tokens are issued by the identity provider; this service only verifies them.
type TokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Type     string `json:"type"`
}
