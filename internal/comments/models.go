package comments

import (
	"context"
	"errors"
	"regexp"

	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

var (
	ErrCommentNotLoaded = errors.New("comment has not been loaded")
	ErrNestedReply      = errors.New("replies cannot be nested")
	ErrEmptyContent     = errors.New("comment content is required")
	ErrContentTooLong   = errors.New("comment content is too long")
)

// MaxContentLength is the longest comment accepted, in characters
const MaxContentLength = 1000

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentions returns the distinct @handles in content, in order of appearance
func ExtractMentions(content string) []string {
	mentions := []string{}
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			mentions = append(mentions, m[1])
		}
	}
	return mentions
}

// Comment is a comment with the viewer's local like state applied
type Comment struct {
	ID          string        `json:"id"`
	PostID      string        `json:"post_id"`
	ParentID    string        `json:"parent_id,omitempty"`
	Author      *gateway.User `json:"author,omitempty"`
	Content     string        `json:"content"`
	CreatedAt   string        `json:"created_at,omitempty"`
	Likes       []string      `json:"likes"`
	LikeCount   int           `json:"like_count"`
	Liked       bool          `json:"liked"`
	LikePending bool          `json:"like_pending"`
}

// Likes is the viewer's local view of one comment's likes
type Likes struct {
	CommentID string   `json:"comment_id"`
	Likes     []string `json:"likes"`
	LikeCount int      `json:"like_count"`
	Liked     bool     `json:"liked"`
	Pending   bool     `json:"pending"`
}

// Pending is a comment like whose mutation is still running
type Pending struct {
	Optimistic Likes

	done    chan struct{}
	settled Likes
	err     error
}

func newPending(optimistic Likes) *Pending {
	return &Pending{Optimistic: optimistic, done: make(chan struct{})}
}

func (p *Pending) resolve(settled Likes, err error) {
	p.settled = settled
	p.err = err
	close(p.done)
}

// Done is closed once the mutation settled
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the mutation settles. On failure the result is the rolled back state.
func (p *Pending) Wait(ctx context.Context) (Likes, error) {
	select {
	case <-p.done:
		return p.settled, p.err
	case <-ctx.Done():
		return p.Optimistic, ctx.Err()
	}
}

// AddRequest is the body of a new comment or reply
type AddRequest struct {
	Content         string   `json:"content" validate:"required,max=1000"`
	ParentCommentID string   `json:"parent_comment_id,omitempty" validate:"omitempty,objectid"`
	Mentions        []string `json:"mentions,omitempty" validate:"omitempty,max=50,dive,min=1,max=50"`
}

// ReplyTarget is the reply composer state of one post view: idle, or
// composing a reply to CommentID
type ReplyTarget struct {
	PostID    string `json:"post_id"`
	CommentID string `json:"comment_id,omitempty"`
	Composing bool   `json:"composing"`
}

// ReplyRequest opens the composer on a comment
type ReplyRequest struct {
	CommentID string `json:"comment_id" validate:"required,objectid"`
}

// meta locates a comment in its thread
type meta struct {
	postID   string
	parentID string
}

// likeState is one viewer's like set for one comment. tail is closed when the
// most recently started mutation has finished.
type likeState struct {
	parentID string
	likes    []string
	inflight int
	tail     chan struct{}
	stale    bool
}

// thread holds a viewer's like state for the comments of one post. epochs
// counts invalidations per list, keyed by parent comment id ("" for top level).
type thread struct {
	epochs map[string]uint64
	likes  map[string]*likeState
}

func newThread() *thread {
	return &thread{
		epochs: make(map[string]uint64),
		likes:  make(map[string]*likeState),
	}
}

func (t *thread) busy() bool {
	for _, st := range t.likes {
		if st.inflight > 0 {
			return true
		}
	}
	return false
}
