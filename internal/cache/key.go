package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Query operations. Names match the client query keys so cached entries and
// invalidations line up with the gateway reads they stand for.
const (
	QueryPostByID         = "getPostById"
	QueryUserByID         = "getUserById"
	QueryFriendshipStatus = "getFriendshipStatus"
	QueryFriendRequests   = "getFriendRequests"
	QueryIsFollowing      = "isFollowing"
	QueryComments         = "getComments"
	QueryReplies          = "getRepliesComment"
	QueryUserLikedPosts   = "getUserLikedPosts"
	QueryInfinitePosts    = "getInfinitePosts"
	QueryInfiniteUsers    = "getInfiniteUsers"
)

// Vars are the variables a query was issued with
type Vars map[string]string

// Key identifies a cached query: an operation plus its variables. Queries whose
// result depends on who asks carry a "viewer" variable.
type Key struct {
	Operation string
	Vars      Vars
}

// NewKey builds a key from alternating variable names and values
func NewKey(op string, kv ...string) Key {
	vars := make(Vars, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		vars[kv[i]] = kv[i+1]
	}
	return Key{Operation: op, Vars: vars}
}

// String is the canonical form used as the store key. encoding/json sorts map
// keys, so equal variable sets always produce the same string.
func (k Key) String() string {
	vars := k.Vars
	if vars == nil {
		vars = Vars{}
	}
	data, _ := json.Marshal(vars)
	return k.Operation + ":" + string(data)
}

// Viewer returns the user a viewer-scoped key belongs to, empty for shared keys
func (k Key) Viewer() string {
	return k.Vars["viewer"]
}

// Matches reports whether k is an op query whose variables include every pair in match
func (k Key) Matches(op string, match Vars) bool {
	if k.Operation != op {
		return false
	}
	for name, value := range match {
		if k.Vars[name] != value {
			return false
		}
	}
	return true
}

// ParseKey reverses Key.String
func ParseKey(s string) (Key, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return Key{}, fmt.Errorf("malformed cache key %q", s)
	}
	vars := Vars{}
	if err := json.Unmarshal([]byte(s[i+1:]), &vars); err != nil {
		return Key{}, fmt.Errorf("malformed cache key %q: %w", s, err)
	}
	return Key{Operation: s[:i], Vars: vars}, nil
}

func operationPrefix(op string) string {
	return op + ":"
}

// PostKey is the viewer's copy of a single post
func PostKey(viewer, postID string) Key {
	return NewKey(QueryPostByID, "viewer", viewer, "postId", postID)
}

// UserKey is shared: profiles read the same for everyone.
func UserKey(userID string) Key {
	return NewKey(QueryUserByID, "userId", userID)
}

func FriendshipStatusKey(viewer, userID string) Key {
	return NewKey(QueryFriendshipStatus, "viewer", viewer, "userId", userID)
}

func FriendRequestsKey(viewer string) Key {
	return NewKey(QueryFriendRequests, "viewer", viewer)
}

func IsFollowingKey(viewer, userID string) Key {
	return NewKey(QueryIsFollowing, "viewer", viewer, "userId", userID)
}

func CommentsKey(viewer, postID string) Key {
	return NewKey(QueryComments, "viewer", viewer, "postId", postID)
}

func RepliesKey(viewer, postID, parentID string) Key {
	return NewKey(QueryReplies, "viewer", viewer, "postId", postID, "parentCommentId", parentID)
}

func LikedPostsKey(viewer, userID string) Key {
	return NewKey(QueryUserLikedPosts, "viewer", viewer, "userId", userID)
}

func PostsKey(viewer, cursor string, limit int) Key {
	return NewKey(QueryInfinitePosts, "viewer", viewer, "cursor", cursor, "limit", fmt.Sprint(limit))
}

func UsersKey(cursor string, limit int) Key {
	return NewKey(QueryInfiniteUsers, "cursor", cursor, "limit", fmt.Sprint(limit))
}
