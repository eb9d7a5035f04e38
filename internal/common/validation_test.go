package common

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commentInput struct {
	PostID  string `json:"post_id" validate:"required,objectid"`
	Content string `json:"content" validate:"required,min=1,max=10"`
}

func TestDecodeAndValidate(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"post_id":"65a1b2c3d4e5f60718293a4b","content":"hi"}`))
	var in commentInput
	assert.Nil(t, DecodeAndValidate(r, &in))
	assert.Equal(t, "hi", in.Content)

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"post_id":"nope","content":""}`))
	errs := DecodeAndValidate(r, &commentInput{})
	require.Len(t, errs, 2)
	assert.Equal(t, "PostID must be a valid id", errs["postid"])
	assert.Equal(t, "Content is required", errs["content"])

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{`))
	assert.Equal(t, map[string]string{"body": "Invalid JSON format"}, DecodeAndValidate(r, &commentInput{}))
}

func TestValidateObjectID(t *testing.T) {
	assert.True(t, ValidateObjectID("65a1b2c3d4e5f60718293a4b"))
	assert.False(t, ValidateObjectID("65a1b2c3"))
	assert.False(t, ValidateObjectID("zza1b2c3d4e5f60718293a4b"))
}

func TestUserContext(t *testing.T) {
	_, err := GetUserID(context.Background())
	assert.Error(t, err)
	assert.Empty(t, GetToken(context.Background()))

	ctx := SetUserContext(context.Background(), "u1", "ada", "tok")
	id, err := GetUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
	assert.Equal(t, "tok", GetToken(ctx))
}
