package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/common"
)

// GraphQLClient talks to the remote gateway over HTTP
type GraphQLClient struct {
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

// NewGraphQLClient creates a gateway client for the given endpoint
func NewGraphQLClient(endpoint string, timeout time.Duration, log *zap.Logger) *GraphQLClient {
	return &GraphQLClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string        `json:"message"`
	Path       []interface{} `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// do executes one operation and decodes its data object into out
func (c *GraphQLClient) do(ctx context.Context, op, query string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Message: "could not encode variables", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindServer, Op: op, Message: "could not build request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token := common.GetToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed",
			zap.String("op", op), zap.String("request_id", requestID), zap.Error(err))
		return &Error{Kind: KindNetwork, Op: op, Message: "gateway unreachable", Err: err}
	}
	defer res.Body.Close()

	c.log.Debug("gateway request",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", time.Since(start)))

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Message: "reading response failed", Err: err}
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		if kind, ok := kindForStatus(res.StatusCode); ok {
			return newError(kind, op, http.StatusText(res.StatusCode))
		}
		return &Error{Kind: KindServer, Op: op, Message: "malformed gateway response", Err: err}
	}

	if len(gr.Errors) > 0 {
		first := gr.Errors[0]
		kind := kindForCode(first.Extensions.Code)
		if kind == KindServer {
			if k, ok := kindForStatus(res.StatusCode); ok {
				kind = k
			}
		}
		return newError(kind, op, first.Message)
	}
	if kind, ok := kindForStatus(res.StatusCode); ok {
		return newError(kind, op, http.StatusText(res.StatusCode))
	}

	if out == nil {
		return nil
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return newError(KindServer, op, "empty data")
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return &Error{Kind: KindServer, Op: op, Message: "unexpected data shape", Err: err}
	}
	return nil
}

func kindForCode(code string) Kind {
	switch code {
	case "UNAUTHENTICATED", "FORBIDDEN":
		return KindAuthorization
	case "BAD_USER_INPUT", "GRAPHQL_VALIDATION_FAILED":
		return KindValidation
	case "NOT_FOUND":
		return KindNotFound
	case "CONFLICT":
		return KindConflict
	default:
		return KindServer
	}
}

func kindForStatus(status int) (Kind, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthorization, true
	case status == http.StatusNotFound:
		return KindNotFound, true
	case status == http.StatusBadRequest:
		return KindValidation, true
	case status >= 500:
		return KindServer, true
	default:
		return KindServer, false
	}
}

type edges[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
	PageInfo PageInfo `json:"pageInfo"`
}

func (e edges[T]) nodes() []T {
	out := make([]T, 0, len(e.Edges))
	for _, edge := range e.Edges {
		out = append(out, edge.Node)
	}
	return out
}

func pageVars(cursor string, limit int) map[string]interface{} {
	vars := map[string]interface{}{"limit": limit}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	return vars
}

// Post fetches a post by id
func (c *GraphQLClient) Post(ctx context.Context, id string) (*Post, error) {
	var data struct {
		Post *Post `json:"post"`
	}
	if err := c.do(ctx, "post", queryPost, map[string]interface{}{"postId": id}, &data); err != nil {
		return nil, err
	}
	if data.Post == nil {
		return nil, newError(KindNotFound, "post", "post not found")
	}
	return data.Post, nil
}

// Posts fetches one page of the feed
func (c *GraphQLClient) Posts(ctx context.Context, cursor string, limit int) (*PostPage, error) {
	var data struct {
		Posts edges[Post] `json:"posts"`
	}
	if err := c.do(ctx, "posts", queryPosts, pageVars(cursor, limit), &data); err != nil {
		return nil, err
	}
	return &PostPage{Posts: data.Posts.nodes(), PageInfo: data.Posts.PageInfo}, nil
}

// LikedPosts fetches the posts a user liked
func (c *GraphQLClient) LikedPosts(ctx context.Context, userID string) ([]Post, error) {
	var data struct {
		LikedPosts []Post `json:"likedPosts"`
	}
	if err := c.do(ctx, "likedPosts", queryLikedPosts, map[string]interface{}{"userId": userID}, &data); err != nil {
		return nil, err
	}
	return data.LikedPosts, nil
}

// TogglePostLike flips the acting user's like on a post
func (c *GraphQLClient) TogglePostLike(ctx context.Context, id string) (*Post, error) {
	var data struct {
		Post Post `json:"toggleLikePost"`
	}
	if err := c.do(ctx, "toggleLikePost", mutationToggleLikePost, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	return &data.Post, nil
}

// TogglePostSave flips the acting user's save on a post
func (c *GraphQLClient) TogglePostSave(ctx context.Context, id string) (*Post, error) {
	var data struct {
		Post Post `json:"toggleSavePost"`
	}
	if err := c.do(ctx, "toggleSavePost", mutationToggleSavePost, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	return &data.Post, nil
}

// User fetches a user profile
func (c *GraphQLClient) User(ctx context.Context, id string) (*User, error) {
	var data struct {
		User *User `json:"user"`
	}
	if err := c.do(ctx, "user", queryUser, map[string]interface{}{"userId": id}, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, newError(KindNotFound, "user", "user not found")
	}
	return data.User, nil
}

// Users fetches one page of the user directory
func (c *GraphQLClient) Users(ctx context.Context, cursor string, limit int) (*UserPage, error) {
	var data struct {
		Users edges[User] `json:"users"`
	}
	if err := c.do(ctx, "users", queryUsers, pageVars(cursor, limit), &data); err != nil {
		return nil, err
	}
	return &UserPage{Users: data.Users.nodes(), PageInfo: data.Users.PageInfo}, nil
}

// IsFollowing reports whether the acting user follows userID
func (c *GraphQLClient) IsFollowing(ctx context.Context, userID string) (bool, error) {
	var data struct {
		IsFollowing bool `json:"isFollowing"`
	}
	err := c.do(ctx, "isFollowing", queryIsFollowing, map[string]interface{}{"userId": userID}, &data)
	return data.IsFollowing, err
}

// FollowUser follows userID
func (c *GraphQLClient) FollowUser(ctx context.Context, userID string) (bool, error) {
	var data struct {
		OK bool `json:"followUser"`
	}
	err := c.do(ctx, "followUser", mutationFollowUser, map[string]interface{}{"userId": userID}, &data)
	return data.OK, err
}

// Unfollow unfollows userID
func (c *GraphQLClient) Unfollow(ctx context.Context, userID string) (bool, error) {
	var data struct {
		OK bool `json:"unfollow"`
	}
	err := c.do(ctx, "unfollow", mutationUnfollow, map[string]interface{}{"userId": userID}, &data)
	return data.OK, err
}

// FriendshipStatus returns the friendship record with userID, nil when there is none
func (c *GraphQLClient) FriendshipStatus(ctx context.Context, userID string) (*FriendshipStatus, error) {
	var data struct {
		Status *FriendshipStatus `json:"friendshipStatus"`
	}
	if err := c.do(ctx, "friendshipStatus", queryFriendshipStatus, map[string]interface{}{"userId": userID}, &data); err != nil {
		return nil, err
	}
	return data.Status, nil
}

// FriendRequests lists pending requests addressed to the acting user
func (c *GraphQLClient) FriendRequests(ctx context.Context) ([]FriendshipStatus, error) {
	var data struct {
		Requests []FriendshipStatus `json:"friendRequests"`
	}
	if err := c.do(ctx, "friendRequests", queryFriendRequests, nil, &data); err != nil {
		return nil, err
	}
	return data.Requests, nil
}

func (c *GraphQLClient) friendshipMutation(ctx context.Context, op, query, varName, id string) (*FriendshipStatus, error) {
	var data map[string]*FriendshipStatus
	if err := c.do(ctx, op, query, map[string]interface{}{varName: id}, &data); err != nil {
		return nil, err
	}
	status := data[op]
	if status == nil {
		return nil, newError(KindServer, op, "missing friendship in response")
	}
	return status, nil
}

// AddFriend sends a friend request to userID
func (c *GraphQLClient) AddFriend(ctx context.Context, userID string) (*FriendshipStatus, error) {
	return c.friendshipMutation(ctx, "addFriend", mutationAddFriend, "userId", userID)
}

// CancelFriendRequest withdraws a pending request the acting user sent
func (c *GraphQLClient) CancelFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error) {
	return c.friendshipMutation(ctx, "cancelFriendRequest", mutationCancelFriendRequest, "requestId", requestID)
}

// AcceptFriendRequest accepts a pending request addressed to the acting user
func (c *GraphQLClient) AcceptFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error) {
	return c.friendshipMutation(ctx, "acceptFriendRequest", mutationAcceptFriendRequest, "requestId", requestID)
}

// RejectFriendRequest rejects a pending request addressed to the acting user
func (c *GraphQLClient) RejectFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error) {
	return c.friendshipMutation(ctx, "rejectFriendRequest", mutationRejectFriendRequest, "requestId", requestID)
}

// Unfriend removes an accepted friendship
func (c *GraphQLClient) Unfriend(ctx context.Context, userID string) (bool, error) {
	var data struct {
		OK bool `json:"unfriend"`
	}
	err := c.do(ctx, "unfriend", mutationUnfriend, map[string]interface{}{"userId": userID}, &data)
	return data.OK, err
}

// Comments lists top-level comments of a post
func (c *GraphQLClient) Comments(ctx context.Context, postID string) ([]Comment, error) {
	var data struct {
		Comments []Comment `json:"comments"`
	}
	if err := c.do(ctx, "comments", queryComments, map[string]interface{}{"postId": postID}, &data); err != nil {
		return nil, err
	}
	return data.Comments, nil
}

// Replies lists the direct replies to a comment
func (c *GraphQLClient) Replies(ctx context.Context, postID, parentCommentID string) ([]Comment, error) {
	var data struct {
		Comments []Comment `json:"comments"`
	}
	vars := map[string]interface{}{"postId": postID, "parentCommentId": parentCommentID}
	if err := c.do(ctx, "replies", queryReplies, vars, &data); err != nil {
		return nil, err
	}
	return data.Comments, nil
}

// AddComment creates a comment or a reply
func (c *GraphQLClient) AddComment(ctx context.Context, input CommentInput) (*Comment, error) {
	if input.Mentions == nil {
		input.Mentions = []string{}
	}
	var data struct {
		Comment Comment `json:"addComment"`
	}
	if err := c.do(ctx, "addComment", mutationAddComment, map[string]interface{}{"input": input}, &data); err != nil {
		return nil, err
	}
	return &data.Comment, nil
}

// ToggleCommentLike flips the acting user's like on a comment
func (c *GraphQLClient) ToggleCommentLike(ctx context.Context, id string) (*Comment, error) {
	var data struct {
		Comment Comment `json:"toggleLikeComment"`
	}
	if err := c.do(ctx, "toggleLikeComment", mutationToggleLikeComment, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	return &data.Comment, nil
}

// DeleteComment removes a comment
func (c *GraphQLClient) DeleteComment(ctx context.Context, id string) (*Comment, error) {
	var data struct {
		Comment Comment `json:"deleteComment"`
	}
	if err := c.do(ctx, "deleteComment", mutationDeleteComment, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	return &data.Comment, nil
}

var _ Gateway = (*GraphQLClient)(nil)

// String identifies the client in logs
func (c *GraphQLClient) String() string {
	return fmt.Sprintf("graphql(%s)", c.endpoint)
}
