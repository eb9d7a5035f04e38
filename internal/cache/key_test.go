package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStringIsCanonical(t *testing.T) {
	a := Key{Operation: QueryReplies, Vars: Vars{"postId": "p1", "parentCommentId": "c1", "viewer": "u1"}}
	b := RepliesKey("u1", "p1", "c1")

	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, `getRepliesComment:{"parentCommentId":"c1","postId":"p1","viewer":"u1"}`, b.String())
}

func TestParseKeyRoundTrip(t *testing.T) {
	key := FriendshipStatusKey("u1", "u2")

	parsed, err := ParseKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
	assert.Equal(t, "u1", parsed.Viewer())

	_, err = ParseKey("nocolon")
	assert.Error(t, err)
	_, err = ParseKey("op:{not json")
	assert.Error(t, err)
}

func TestKeyMatches(t *testing.T) {
	key := PostKey("u1", "p1")

	assert.True(t, key.Matches(QueryPostByID, Vars{"postId": "p1"}))
	assert.True(t, key.Matches(QueryPostByID, nil))
	assert.False(t, key.Matches(QueryPostByID, Vars{"postId": "p2"}))
	assert.False(t, key.Matches(QueryComments, Vars{"postId": "p1"}))
	assert.Empty(t, UserKey("u1").Viewer())
}
