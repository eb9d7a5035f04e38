package gateway

import "context"

// Gateway is the query/mutation contract of the remote data gateway. The
// acting user is taken from the context: the GraphQL client forwards the
// bearer token, the memory gateway reads the user id.
type Gateway interface {
	// Posts
	Post(ctx context.Context, id string) (*Post, error)
	Posts(ctx context.Context, cursor string, limit int) (*PostPage, error)
	LikedPosts(ctx context.Context, userID string) ([]Post, error)
	TogglePostLike(ctx context.Context, id string) (*Post, error)
	TogglePostSave(ctx context.Context, id string) (*Post, error)

	// Users and follows
	User(ctx context.Context, id string) (*User, error)
	Users(ctx context.Context, cursor string, limit int) (*UserPage, error)
	IsFollowing(ctx context.Context, userID string) (bool, error)
	FollowUser(ctx context.Context, userID string) (bool, error)
	Unfollow(ctx context.Context, userID string) (bool, error)

	// Friendships
	FriendshipStatus(ctx context.Context, userID string) (*FriendshipStatus, error)
	FriendRequests(ctx context.Context) ([]FriendshipStatus, error)
	AddFriend(ctx context.Context, userID string) (*FriendshipStatus, error)
	CancelFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error)
	AcceptFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error)
	RejectFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error)
	Unfriend(ctx context.Context, userID string) (bool, error)

	// Comments
	Comments(ctx context.Context, postID string) ([]Comment, error)
	Replies(ctx context.Context, postID, parentCommentID string) ([]Comment, error)
	AddComment(ctx context.Context, input CommentInput) (*Comment, error)
	ToggleCommentLike(ctx context.Context, id string) (*Comment, error)
	DeleteComment(ctx context.Context, id string) (*Comment, error)
}
