package common

import (
	"context"
	"errors"
)

// Context keys
type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UsernameKey contextKey = "username"
	TokenKey    contextKey = "token"
)

// GetUserID extracts the acting user ID from context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// GetToken returns the bearer token the request was authenticated with.
// It is forwarded to the gateway so mutations run as the acting user.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}

// SetUserContext creates a new context with user information
func SetUserContext(ctx context.Context, userID, username, token string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UsernameKey, username)
	ctx = context.WithValue(ctx, TokenKey, token)
	return ctx
}
