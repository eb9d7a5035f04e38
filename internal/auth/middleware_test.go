package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommygebru/kiekky-engagement/internal/common"
)

const testSecret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestValidateAccessToken(t *testing.T) {
	v := NewVerifier(&Config{JWTSecret: testSecret})

	claims, err := v.ValidateAccessToken(sign(t, jwt.MapClaims{
		"user_id":  "u1",
		"username": "ada",
		"type":     "access",
		"exp":      time.Now().Add(time.Minute).Unix(),
	}))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ada", claims.Username)

	claims, err = v.ValidateAccessToken(sign(t, jwt.MapClaims{"sub": "u2"}))
	require.NoError(t, err)
	assert.Equal(t, "u2", claims.UserID)

	_, err = v.ValidateAccessToken(sign(t, jwt.MapClaims{"user_id": "u1", "type": "refresh"}))
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	_, err = v.ValidateAccessToken(sign(t, jwt.MapClaims{"username": "ada"}))
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = v.ValidateAccessToken(sign(t, jwt.MapClaims{
		"user_id": "u1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate(t *testing.T) {
	m := NewMiddleware(NewVerifier(&Config{JWTSecret: testSecret}))
	token := sign(t, jwt.MapClaims{"user_id": "u1"})

	var seenUser, seenToken string
	h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = common.GetUserID(r.Context())
		seenToken = common.GetToken(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seenUser)
	assert.Equal(t, token, seenToken)

	req = httptest.NewRequest("GET", "/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, header := range []string{"", "Token abc", "Bearer"} {
		req = httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}
