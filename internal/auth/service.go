package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds auth configuration
type Config struct {
	JWTSecret string
}

// Verifier validates access tokens presented by clients
type Verifier interface {
	ValidateAccessToken(token string) (*TokenClaims, error)
}

type verifier struct {
	config *Config
}

// NewVerifier creates a new token verifier
func NewVerifier(config *Config) Verifier {
	return &verifier{config: config}
}

// ValidateAccessToken validates an access token and returns its claims
func (v *verifier) ValidateAccessToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Tokens without a type are treated as access tokens
	tokenType, _ := claims["type"].(string)
	if tokenType != "" && tokenType != "access" {
		return nil, fmt.Errorf("%w: expected access, got %s", ErrInvalidTokenType, tokenType)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		userID, _ = claims.GetSubject()
	}
	if userID == "" {
		return nil, ErrMissingSubject
	}
	username, _ := claims["username"].(string)

	return &TokenClaims{
		UserID:   userID,
		Username: username,
		Type:     "access",
	}, nil
}
