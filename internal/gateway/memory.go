package gateway

import (
	"context"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tommygebru/kiekky-engagement/internal/common"
)

// Interceptor runs before a memory gateway operation is applied. Returning an
// error fails the operation; blocking delays it.
type Interceptor func(ctx context.Context) error

// MemoryGateway is an in-process gateway that enforces the same rules as the
// remote one. It backs GATEWAY_MODE=memory and the reconciler tests.
type MemoryGateway struct {
	mu sync.Mutex

	seq         int64
	users       map[string]*User
	posts       map[string]*memPost
	comments    map[string]*memComment
	friendships map[string]*memFriendship
	follows     map[string]map[string]bool // follower -> following

	interceptors map[string][]Interceptor
	calls        map[string]int
}

type memPost struct {
	Post
	seq int64
}

type memComment struct {
	Comment
	postID string
	seq    int64
}

type memFriendship struct {
	FriendshipStatus
	seq int64
}

// NewMemoryGateway creates an empty memory gateway
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		users:        make(map[string]*User),
		posts:        make(map[string]*memPost),
		comments:     make(map[string]*memComment),
		friendships:  make(map[string]*memFriendship),
		follows:      make(map[string]map[string]bool),
		interceptors: make(map[string][]Interceptor),
		calls:        make(map[string]int),
	}
}

// NewID returns a 24 hex character id in the gateway's format
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:12])
}

// Intercept queues fn to run before the next call of op. Interceptors are
// consumed in order, one per call.
func (g *MemoryGateway) Intercept(op string, fn Interceptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.interceptors[op] = append(g.interceptors[op], fn)
}

// Calls reports how many times op was invoked
func (g *MemoryGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// AddUser seeds a user and returns its id
func (g *MemoryGateway) AddUser(u User) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.ID == "" {
		u.ID = NewID()
	}
	g.users[u.ID] = &u
	return u.ID
}

// AddPost seeds a post authored by authorID and returns its id
func (g *MemoryGateway) AddPost(authorID string, p Post) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.Privacy == "" {
		p.Privacy = PrivacyPublic
	}
	if p.Likes == nil {
		p.Likes = []Ref{}
	}
	if p.Saves == nil {
		p.Saves = []Ref{}
	}
	p.Author = &User{ID: authorID}
	p.LikeCount = len(p.Likes)
	p.SaveCount = len(p.Saves)
	p.CreatedAt = g.now()
	g.seq++
	g.posts[p.ID] = &memPost{Post: p, seq: g.seq}
	return p.ID
}

// enter records the call and runs the next interceptor for op outside the lock
func (g *MemoryGateway) enter(ctx context.Context, op string) (string, error) {
	g.mu.Lock()
	g.calls[op]++
	var fn Interceptor
	if queue := g.interceptors[op]; len(queue) > 0 {
		fn = queue[0]
		g.interceptors[op] = queue[1:]
	}
	g.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", &Error{Kind: KindNetwork, Op: op, Message: "request cancelled", Err: err}
	}

	viewer, err := common.GetUserID(ctx)
	if err != nil {
		return "", newError(KindAuthorization, op, "authentication required")
	}
	return viewer, nil
}

func (g *MemoryGateway) now() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// canSee applies post privacy for viewer. Callers hold the lock.
func (g *MemoryGateway) canSee(p *memPost, viewer string) bool {
	author := p.Author.ID
	if author == viewer {
		return true
	}
	switch p.Privacy {
	case PrivacyPrivate:
		return false
	case PrivacyFollowers:
		return g.follows[viewer][author]
	case PrivacyFriends:
		f := g.pairLocked(viewer, author)
		return f != nil && f.Status == FriendAccepted
	default:
		return true
	}
}

func (g *MemoryGateway) visiblePost(op, id, viewer string) (*memPost, error) {
	p, ok := g.posts[id]
	if !ok {
		return nil, newError(KindNotFound, op, "post not found")
	}
	if !g.canSee(p, viewer) {
		return nil, newError(KindAuthorization, op, "you do not have access to this post")
	}
	return p, nil
}

func (g *MemoryGateway) clonePost(p *memPost) *Post {
	out := p.Post
	out.Likes = append([]Ref{}, p.Likes...)
	out.Saves = append([]Ref{}, p.Saves...)
	out.Tags = append([]string(nil), p.Tags...)
	out.MediaURLs = append([]string(nil), p.MediaURLs...)
	if u, ok := g.users[p.Author.ID]; ok {
		out.Author = &User{ID: u.ID, Username: u.Username, Email: u.Email, ImageURL: u.ImageURL}
	}
	return &out
}

func toggleRef(refs []Ref, id string) []Ref {
	for i, r := range refs {
		if r.ID == id {
			return append(refs[:i:i], refs[i+1:]...)
		}
	}
	return append(refs, Ref{ID: id})
}

func hasRef(refs []Ref, id string) bool {
	for _, r := range refs {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Post returns a post visible to the acting user
func (g *MemoryGateway) Post(ctx context.Context, id string) (*Post, error) {
	viewer, err := g.enter(ctx, "post")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.visiblePost("post", id, viewer)
	if err != nil {
		return nil, err
	}
	return g.clonePost(p), nil
}

// Posts pages through visible posts, newest first. The cursor is the id of
// the last post of the previous page.
func (g *MemoryGateway) Posts(ctx context.Context, cursor string, limit int) (*PostPage, error) {
	viewer, err := g.enter(ctx, "posts")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	all := make([]*memPost, 0, len(g.posts))
	for _, p := range g.posts {
		if g.canSee(p, viewer) {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })

	start := 0
	if cursor != "" {
		for i, p := range all {
			if p.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 10
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	page := &PostPage{Posts: []Post{}}
	for _, p := range all[start:end] {
		page.Posts = append(page.Posts, *g.clonePost(p))
	}
	page.PageInfo.HasNextPage = end < len(all)
	if len(page.Posts) > 0 {
		page.PageInfo.EndCursor = page.Posts[len(page.Posts)-1].ID
	}
	return page, nil
}

// LikedPosts lists visible posts liked by userID
func (g *MemoryGateway) LikedPosts(ctx context.Context, userID string) ([]Post, error) {
	viewer, err := g.enter(ctx, "likedPosts")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var liked []*memPost
	for _, p := range g.posts {
		if hasRef(p.Likes, userID) && g.canSee(p, viewer) {
			liked = append(liked, p)
		}
	}
	sort.Slice(liked, func(i, j int) bool { return liked[i].seq > liked[j].seq })

	out := make([]Post, 0, len(liked))
	for _, p := range liked {
		out = append(out, *g.clonePost(p))
	}
	return out, nil
}

// TogglePostLike flips the acting user's like
func (g *MemoryGateway) TogglePostLike(ctx context.Context, id string) (*Post, error) {
	viewer, err := g.enter(ctx, "toggleLikePost")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.visiblePost("toggleLikePost", id, viewer)
	if err != nil {
		return nil, err
	}
	p.Likes = toggleRef(p.Likes, viewer)
	p.LikeCount = len(p.Likes)
	return &Post{ID: p.ID, LikeCount: p.LikeCount, Likes: append([]Ref{}, p.Likes...)}, nil
}

// TogglePostSave flips the acting user's save
func (g *MemoryGateway) TogglePostSave(ctx context.Context, id string) (*Post, error) {
	viewer, err := g.enter(ctx, "toggleSavePost")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.visiblePost("toggleSavePost", id, viewer)
	if err != nil {
		return nil, err
	}
	p.Saves = toggleRef(p.Saves, viewer)
	p.SaveCount = len(p.Saves)
	return &Post{ID: p.ID, SaveCount: p.SaveCount, Saves: append([]Ref{}, p.Saves...)}, nil
}

// SetPrivacy changes a post's privacy, as its author would from another client
func (g *MemoryGateway) SetPrivacy(postID string, privacy Privacy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.posts[postID]; ok {
		p.Privacy = privacy
	}
}

func (g *MemoryGateway) userWithCounts(u *User) *User {
	out := *u
	out.Posts = nil
	out.FollowingCount = len(g.follows[u.ID])
	out.FollowersCount = 0
	for _, following := range g.follows {
		if following[u.ID] {
			out.FollowersCount++
		}
	}
	out.FriendsCount = 0
	for _, f := range g.friendships {
		if f.Status == FriendAccepted && (f.Requester.ID == u.ID || f.Recipient.ID == u.ID) {
			out.FriendsCount++
		}
	}
	return &out
}

// User returns a profile with live counters
func (g *MemoryGateway) User(ctx context.Context, id string) (*User, error) {
	if _, err := g.enter(ctx, "user"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.users[id]
	if !ok {
		return nil, newError(KindNotFound, "user", "user not found")
	}
	return g.userWithCounts(u), nil
}

// Users pages through users ordered by username
func (g *MemoryGateway) Users(ctx context.Context, cursor string, limit int) (*UserPage, error) {
	if _, err := g.enter(ctx, "users"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	all := make([]*User, 0, len(g.users))
	for _, u := range g.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Username == all[j].Username {
			return all[i].ID < all[j].ID
		}
		return all[i].Username < all[j].Username
	})

	start := 0
	if cursor != "" {
		for i, u := range all {
			if u.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 10
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	page := &UserPage{Users: []User{}}
	for _, u := range all[start:end] {
		page.Users = append(page.Users, *g.userWithCounts(u))
	}
	page.PageInfo.HasNextPage = end < len(all)
	if len(page.Users) > 0 {
		page.PageInfo.EndCursor = page.Users[len(page.Users)-1].ID
	}
	return page, nil
}

// IsFollowing reports whether the acting user follows userID
func (g *MemoryGateway) IsFollowing(ctx context.Context, userID string) (bool, error) {
	viewer, err := g.enter(ctx, "isFollowing")
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.follows[viewer][userID], nil
}

// FollowUser creates a follow edge
func (g *MemoryGateway) FollowUser(ctx context.Context, userID string) (bool, error) {
	viewer, err := g.enter(ctx, "followUser")
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if viewer == userID {
		return false, newError(KindValidation, "followUser", "you cannot follow yourself")
	}
	if _, ok := g.users[userID]; !ok {
		return false, newError(KindNotFound, "followUser", "user not found")
	}
	if g.follows[viewer][userID] {
		return false, newError(KindConflict, "followUser", "already following this user")
	}
	if g.follows[viewer] == nil {
		g.follows[viewer] = make(map[string]bool)
	}
	g.follows[viewer][userID] = true
	return true, nil
}

// Unfollow removes a follow edge
func (g *MemoryGateway) Unfollow(ctx context.Context, userID string) (bool, error) {
	viewer, err := g.enter(ctx, "unfollow")
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.follows[viewer][userID] {
		return false, newError(KindValidation, "unfollow", "not following this user")
	}
	delete(g.follows[viewer], userID)
	return true, nil
}

// pairLocked finds the friendship record for an unordered pair
func (g *MemoryGateway) pairLocked(a, b string) *memFriendship {
	for _, f := range g.friendships {
		if (f.Requester.ID == a && f.Recipient.ID == b) || (f.Requester.ID == b && f.Recipient.ID == a) {
			return f
		}
	}
	return nil
}

// FriendshipStatus returns the record between the acting user and userID
func (g *MemoryGateway) FriendshipStatus(ctx context.Context, userID string) (*FriendshipStatus, error) {
	viewer, err := g.enter(ctx, "friendshipStatus")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.pairLocked(viewer, userID)
	if f == nil {
		return nil, nil
	}
	out := f.FriendshipStatus
	return &out, nil
}

// FriendRequests lists pending requests addressed to the acting user, oldest first
func (g *MemoryGateway) FriendRequests(ctx context.Context) ([]FriendshipStatus, error) {
	viewer, err := g.enter(ctx, "friendRequests")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var pending []*memFriendship
	for _, f := range g.friendships {
		if f.Status == FriendPending && f.Recipient.ID == viewer {
			pending = append(pending, f)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	out := make([]FriendshipStatus, 0, len(pending))
	for _, f := range pending {
		out = append(out, f.FriendshipStatus)
	}
	return out, nil
}

// AddFriend sends a request. At most one non-rejected record exists per pair;
// a rejected record is reopened as a fresh pending request from the sender.
func (g *MemoryGateway) AddFriend(ctx context.Context, userID string) (*FriendshipStatus, error) {
	viewer, err := g.enter(ctx, "addFriend")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if viewer == userID {
		return nil, newError(KindValidation, "addFriend", "you cannot befriend yourself")
	}
	if _, ok := g.users[userID]; !ok {
		return nil, newError(KindNotFound, "addFriend", "user not found")
	}

	g.seq++
	if f := g.pairLocked(viewer, userID); f != nil {
		switch f.Status {
		case FriendPending:
			return nil, newError(KindConflict, "addFriend", "a friend request is already pending")
		case FriendAccepted:
			return nil, newError(KindConflict, "addFriend", "you are already friends")
		}
		f.Requester = Ref{ID: viewer}
		f.Recipient = Ref{ID: userID}
		f.Status = FriendPending
		f.CreatedAt = g.now()
		f.seq = g.seq
		out := f.FriendshipStatus
		return &out, nil
	}

	f := &memFriendship{
		FriendshipStatus: FriendshipStatus{
			ID:        NewID(),
			Requester: Ref{ID: viewer},
			Recipient: Ref{ID: userID},
			Status:    FriendPending,
			CreatedAt: g.now(),
		},
		seq: g.seq,
	}
	g.friendships[f.ID] = f
	out := f.FriendshipStatus
	return &out, nil
}

func (g *MemoryGateway) pendingRequest(op, requestID string) (*memFriendship, error) {
	f, ok := g.friendships[requestID]
	if !ok {
		return nil, newError(KindNotFound, op, "friend request not found")
	}
	if f.Status != FriendPending {
		return nil, newError(KindConflict, op, "friend request is no longer pending")
	}
	return f, nil
}

// CancelFriendRequest deletes a pending request; only its requester may cancel
func (g *MemoryGateway) CancelFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error) {
	viewer, err := g.enter(ctx, "cancelFriendRequest")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := g.pendingRequest("cancelFriendRequest", requestID)
	if err != nil {
		return nil, err
	}
	if f.Requester.ID != viewer {
		return nil, newError(KindAuthorization, "cancelFriendRequest", "only the sender can cancel a friend request")
	}
	delete(g.friendships, requestID)
	out := f.FriendshipStatus
	return &out, nil
}

// AcceptFriendRequest accepts a pending request; only its recipient may accept
func (g *MemoryGateway) AcceptFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error) {
	return g.answer(ctx, "acceptFriendRequest", requestID, FriendAccepted)
}

// RejectFriendRequest rejects a pending request; only its recipient may reject
func (g *MemoryGateway) RejectFriendRequest(ctx context.Context, requestID string) (*FriendshipStatus, error) {
	return g.answer(ctx, "rejectFriendRequest", requestID, FriendRejected)
}

func (g *MemoryGateway) answer(ctx context.Context, op, requestID string, next FriendState) (*FriendshipStatus, error) {
	viewer, err := g.enter(ctx, op)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := g.pendingRequest(op, requestID)
	if err != nil {
		return nil, err
	}
	if f.Recipient.ID != viewer {
		return nil, newError(KindAuthorization, op, "only the recipient can answer a friend request")
	}
	f.Status = next
	out := f.FriendshipStatus
	return &out, nil
}

// Unfriend removes an accepted friendship from either side
func (g *MemoryGateway) Unfriend(ctx context.Context, userID string) (bool, error) {
	viewer, err := g.enter(ctx, "unfriend")
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.pairLocked(viewer, userID)
	if f == nil || f.Status != FriendAccepted {
		return false, newError(KindConflict, "unfriend", "you are not friends")
	}
	delete(g.friendships, f.ID)
	return true, nil
}

func (g *MemoryGateway) cloneComment(c *memComment) Comment {
	out := c.Comment
	out.Likes = append([]Ref{}, c.Likes...)
	if u, ok := g.users[c.Author.ID]; ok {
		out.Author = &User{ID: u.ID, Username: u.Username, ImageURL: u.ImageURL}
	}
	return out
}

func (g *MemoryGateway) listComments(postID, parentID string) []Comment {
	var list []*memComment
	for _, c := range g.comments {
		if c.postID == postID && c.ParentID() == parentID {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	out := make([]Comment, 0, len(list))
	for _, c := range list {
		out = append(out, g.cloneComment(c))
	}
	return out
}

// Comments lists top-level comments, oldest first
func (g *MemoryGateway) Comments(ctx context.Context, postID string) ([]Comment, error) {
	viewer, err := g.enter(ctx, "comments")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.visiblePost("comments", postID, viewer); err != nil {
		return nil, err
	}
	return g.listComments(postID, ""), nil
}

// Replies lists direct replies to parentCommentID, oldest first
func (g *MemoryGateway) Replies(ctx context.Context, postID, parentCommentID string) ([]Comment, error) {
	viewer, err := g.enter(ctx, "replies")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.visiblePost("replies", postID, viewer); err != nil {
		return nil, err
	}
	return g.listComments(postID, parentCommentID), nil
}

// AddComment creates a top-level comment or a reply to a top-level comment
func (g *MemoryGateway) AddComment(ctx context.Context, input CommentInput) (*Comment, error) {
	viewer, err := g.enter(ctx, "addComment")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.visiblePost("addComment", input.PostID, viewer)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, newError(KindValidation, "addComment", "comment content is required")
	}

	var parent *Ref
	if input.ParentCommentID != "" {
		pc, ok := g.comments[input.ParentCommentID]
		if !ok || pc.postID != input.PostID {
			return nil, newError(KindNotFound, "addComment", "parent comment not found")
		}
		if pc.ParentComment != nil {
			return nil, newError(KindValidation, "addComment", "replies cannot be nested")
		}
		parent = &Ref{ID: pc.ID}
	}

	g.seq++
	c := &memComment{
		Comment: Comment{
			ID:            NewID(),
			Author:        &User{ID: viewer},
			Post:          &Ref{ID: p.ID},
			Content:       content,
			ParentComment: parent,
			Likes:         []Ref{},
			CreatedAt:     g.now(),
		},
		postID: p.ID,
		seq:    g.seq,
	}
	g.comments[c.ID] = c
	p.CommentCount++

	out := g.cloneComment(c)
	return &out, nil
}

// ToggleCommentLike flips the acting user's like on a comment
func (g *MemoryGateway) ToggleCommentLike(ctx context.Context, id string) (*Comment, error) {
	viewer, err := g.enter(ctx, "toggleLikeComment")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.comments[id]
	if !ok {
		return nil, newError(KindNotFound, "toggleLikeComment", "comment not found")
	}
	if _, err := g.visiblePost("toggleLikeComment", c.postID, viewer); err != nil {
		return nil, err
	}
	c.Likes = toggleRef(c.Likes, viewer)
	return &Comment{ID: c.ID, Likes: append([]Ref{}, c.Likes...)}, nil
}

// DeleteComment removes a comment and its replies. The comment author and the
// post author may delete.
func (g *MemoryGateway) DeleteComment(ctx context.Context, id string) (*Comment, error) {
	viewer, err := g.enter(ctx, "deleteComment")
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.comments[id]
	if !ok {
		return nil, newError(KindNotFound, "deleteComment", "comment not found")
	}
	p := g.posts[c.postID]
	if c.Author.ID != viewer && (p == nil || p.Author.ID != viewer) {
		return nil, newError(KindAuthorization, "deleteComment", "you cannot delete this comment")
	}

	removed := 1
	delete(g.comments, id)
	for rid, r := range g.comments {
		if r.ParentID() == id {
			delete(g.comments, rid)
			removed++
		}
	}
	if p != nil {
		p.CommentCount -= removed
	}
	return &Comment{ID: id}, nil
}

var _ Gateway = (*MemoryGateway)(nil)
