package posts

import (
	"context"
	"errors"

	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

var (
	ErrUnknownKind = errors.New("unknown engagement kind")
)

// Kind is an engagement a user can toggle on a post
type Kind string

const (
	KindLike Kind = "like"
	KindSave Kind = "save"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindLike || k == KindSave
}

// Engagement is the viewer's local view of a post's likes and saves. Counts are
// derived from the sets, which may be ahead of the server while a toggle is pending.
type Engagement struct {
	PostID      string   `json:"post_id"`
	Likes       []string `json:"likes"`
	Saves       []string `json:"saves"`
	LikeCount   int      `json:"like_count"`
	SaveCount   int      `json:"save_count"`
	Liked       bool     `json:"liked"`
	Saved       bool     `json:"saved"`
	LikePending bool     `json:"like_pending"`
	SavePending bool     `json:"save_pending"`
}

// Pending is a toggle whose mutation is still running. Optimistic is what the
// view shows right away.
type Pending struct {
	Optimistic Engagement

	done    chan struct{}
	settled Engagement
	err     error
}

func newPending(optimistic Engagement) *Pending {
	return &Pending{Optimistic: optimistic, done: make(chan struct{})}
}

func (p *Pending) resolve(settled Engagement, err error) {
	p.settled = settled
	p.err = err
	close(p.done)
}

// Done is closed once the mutation settled
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the mutation settles and returns the viewer's engagement at
// that point. On failure the engagement is the rolled back state. Giving up on
// ctx does not cancel the mutation.
func (p *Pending) Wait(ctx context.Context) (Engagement, error) {
	select {
	case <-p.done:
		return p.settled, p.err
	case <-ctx.Done():
		return p.Optimistic, ctx.Err()
	}
}

// FeedRequest holds feed paging parameters
type FeedRequest struct {
	Cursor string `validate:"omitempty,objectid"`
	Limit  int    `validate:"min=0,max=50"`
}

// state is one viewer's engagement sets for one post. tail holds, per kind,
// a channel closed when the most recently started mutation has finished.
type state struct {
	likes    []string
	saves    []string
	inflight map[Kind]int
	tail     map[Kind]chan struct{}
}

func newState(p *gateway.Post) *state {
	return &state{
		likes:    gateway.RefIDs(p.Likes),
		saves:    gateway.RefIDs(p.Saves),
		inflight: make(map[Kind]int),
		tail:     make(map[Kind]chan struct{}),
	}
}

func (s *state) set(kind Kind) []string {
	if kind == KindSave {
		return s.saves
	}
	return s.likes
}

func (s *state) replace(kind Kind, ids []string) {
	if kind == KindSave {
		s.saves = ids
		return
	}
	s.likes = ids
}

func (s *state) busy() bool {
	return s.inflight[KindLike] > 0 || s.inflight[KindSave] > 0
}
