package gateway

// Privacy controls who may see and act on a post
type Privacy string

const (
	PrivacyPublic    Privacy = "public"
	PrivacyPrivate   Privacy = "private"
	PrivacyFollowers Privacy = "followers"
	PrivacyFriends   Privacy = "friends"
)

// FriendState is the server-side status of a friendship record
type FriendState string

const (
	FriendPending  FriendState = "pending"
	FriendAccepted FriendState = "accepted"
	FriendRejected FriendState = "rejected"
)

// ConversationType distinguishes one-to-one from group chats
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// ContentType is the kind of payload a message carries
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
)

// Ref is an id-only reference, the shape engagement sets come back in
type Ref struct {
	ID string `json:"_id"`
}

// User is a gateway user record. The client never originates one.
type User struct {
	ID             string `json:"_id"`
	Username       string `json:"username,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Bio            string `json:"bio,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
	FriendsCount   int    `json:"friendsCount"`
	Posts          []Post `json:"posts,omitempty"`
}

// Post is a gateway post record. Counters should match the engagement sets
// but may lag behind them while a toggle is in flight.
type Post struct {
	ID           string    `json:"_id"`
	Author       *User     `json:"author,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Location     string    `json:"location,omitempty"`
	MediaURLs    []string  `json:"mediaUrls,omitempty"`
	Privacy      Privacy   `json:"privacy,omitempty"`
	Likes        []Ref     `json:"likes"`
	Saves        []Ref     `json:"saves"`
	Comments     []Comment `json:"comments,omitempty"`
	LikeCount    int       `json:"likeCount"`
	SaveCount    int       `json:"saveCount"`
	CommentCount int       `json:"commentCount"`
	ViewCount    int       `json:"viewCount"`
	CreatedAt    string    `json:"createdAt,omitempty"` // epoch millis, as the gateway sends it
}

// Comment is a top-level comment or a direct reply (ParentComment set).
// Threads are two levels deep.
type Comment struct {
	ID            string `json:"_id"`
	Author        *User  `json:"author,omitempty"`
	Post          *Ref   `json:"post,omitempty"`
	Content       string `json:"content,omitempty"`
	ParentComment *Ref   `json:"parentComment,omitempty"`
	Likes         []Ref  `json:"likes"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// PostID returns the id of the post the comment belongs to, if known
func (c *Comment) PostID() string {
	if c.Post == nil {
		return ""
	}
	return c.Post.ID
}

// ParentID returns the parent comment id, empty for top-level comments
func (c *Comment) ParentID() string {
	if c.ParentComment == nil {
		return ""
	}
	return c.ParentComment.ID
}

// FriendshipStatus tracks a friend request between two users. Direction
// decides who may accept, reject or cancel.
type FriendshipStatus struct {
	ID        string      `json:"_id"`
	Requester Ref         `json:"requester"`
	Recipient Ref         `json:"recipient"`
	Status    FriendState `json:"status"`
	CreatedAt string      `json:"createdAt,omitempty"`
}

// CommentInput is the addComment mutation input
type CommentInput struct {
	PostID          string   `json:"postId"`
	Content         string   `json:"content"`
	ParentCommentID string   `json:"parentCommentId,omitempty"`
	Mentions        []string `json:"mentions"`
}

// Conversation is a chat thread summary
type Conversation struct {
	ID           string           `json:"_id"`
	Participants []User           `json:"participants"`
	Type         ConversationType `json:"type"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	UnreadCount  int              `json:"unreadCount"`
}

// Message is a chat message; Deleted marks a soft delete
type Message struct {
	ID          string      `json:"_id"`
	Sender      *User       `json:"sender,omitempty"`
	Content     string      `json:"content,omitempty"`
	ContentType ContentType `json:"contentType"`
	MediaURL    string      `json:"mediaUrl,omitempty"`
	ReadBy      []Ref       `json:"readBy,omitempty"`
	Deleted     bool        `json:"deleted"`
	CreatedAt   string      `json:"createdAt,omitempty"`
}

// PageInfo is the cursor state of a connection
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// PostPage is one page of the posts connection
type PostPage struct {
	Posts    []Post   `json:"posts"`
	PageInfo PageInfo `json:"pageInfo"`
}

// UserPage is one page of the users connection
type UserPage struct {
	Users    []User   `json:"users"`
	PageInfo PageInfo `json:"pageInfo"`
}

// RefIDs flattens references into ids
func RefIDs(refs []Ref) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

// Refs wraps ids into references
func Refs(ids []string) []Ref {
	refs := make([]Ref, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, Ref{ID: id})
	}
	return refs
}
