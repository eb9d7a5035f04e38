package comments

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/events"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
	"github.com/tommygebru/kiekky-engagement/internal/sequence"
)

// Service handles comment threads: listing, likes, replies, deletes and the
// reply composer. Likes are optimistic and roll back on failure; adds and
// deletes wait for the gateway and refresh the affected lists.
type Service interface {
	List(ctx context.Context, viewer, postID string) ([]Comment, error)
	Replies(ctx context.Context, viewer, postID, parentID string) ([]Comment, error)
	ToggleLike(ctx context.Context, viewer, commentID string) (*Pending, error)
	Add(ctx context.Context, viewer, postID string, req AddRequest) (*Comment, error)
	Delete(ctx context.Context, viewer, commentID string) error

	// Reply composer
	StartReply(viewer, postID, commentID string) (ReplyTarget, error)
	CancelReply(viewer, postID string) ReplyTarget
	ReplyTarget(viewer, postID string) ReplyTarget

	Evict(viewer string)
	// EvictIdle evicts viewers not seen since cutoff and reports how many
	// were dropped entirely
	EvictIdle(cutoff time.Time) int
	Drain(ctx context.Context) error
}

type service struct {
	gateway  gateway.Gateway
	queries  *cache.Client
	notifier events.Notifier
	seq      *sequence.Sequencer
	timeout  time.Duration
	log      *zap.Logger
	activity *common.Activity

	mu       sync.Mutex
	threads  map[string]*thread // viewer/postID
	located  map[string]meta    // viewer/commentID
	targets  map[string]string  // viewer/postID -> comment being replied to
	inflight sync.WaitGroup
}

// NewService creates the comment service
func NewService(gw gateway.Gateway, queries *cache.Client, notifier events.Notifier, timeout time.Duration, log *zap.Logger) Service {
	s := &service{
		gateway:  gw,
		queries:  queries,
		notifier: notifier,
		seq:      sequence.New(),
		timeout:  timeout,
		log:      log,
		activity: common.NewActivity(),
		threads:  make(map[string]*thread),
		located:  make(map[string]meta),
		targets:  make(map[string]string),
	}
	queries.OnInvalidate(s.markStale)
	return s
}

func scoped(viewer, id string) string {
	return viewer + "/" + id
}

// markStale flags like state of invalidated lists for reseeding on the next read
func (s *service) markStale(keys []cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		var parentID string
		switch k.Operation {
		case cache.QueryComments:
		case cache.QueryReplies:
			parentID = k.Vars["parentCommentId"]
		default:
			continue
		}
		th, ok := s.threads[scoped(k.Viewer(), k.Vars["postId"])]
		if !ok {
			continue
		}
		th.epochs[parentID]++
		for _, st := range th.likes {
			if st.parentID == parentID {
				st.stale = true
			}
		}
	}
}

func (s *service) listEpoch(viewer, postID, parentID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if th, ok := s.threads[scoped(viewer, postID)]; ok {
		return th.epochs[parentID]
	}
	return 0
}

func likesView(viewer, commentID string, st *likeState) Likes {
	return Likes{
		CommentID: commentID,
		Likes:     common.CopyIDs(st.likes),
		LikeCount: len(st.likes),
		Liked:     common.Contains(st.likes, viewer),
		Pending:   st.inflight > 0,
	}
}

func commentView(viewer, postID string, c *gateway.Comment, st *likeState) Comment {
	l := likesView(viewer, c.ID, st)
	return Comment{
		ID:          c.ID,
		PostID:      postID,
		ParentID:    c.ParentID(),
		Author:      c.Author,
		Content:     c.Content,
		CreatedAt:   c.CreatedAt,
		Likes:       l.Likes,
		LikeCount:   l.LikeCount,
		Liked:       l.Liked,
		LikePending: l.Pending,
	}
}

// seed records where each listed comment lives and reconciles its like set.
// Known state is replaced only when it was invalidated, is idle, and the list
// was read after the latest invalidation.
func (s *service) seed(viewer, postID, parentID string, epoch uint64, list []gateway.Comment) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[scoped(viewer, postID)]
	if !ok {
		th = newThread()
		s.threads[scoped(viewer, postID)] = th
	}

	out := make([]Comment, 0, len(list))
	for i := range list {
		c := &list[i]
		s.located[scoped(viewer, c.ID)] = meta{postID: postID, parentID: parentID}

		st, ok := th.likes[c.ID]
		switch {
		case !ok:
			st = &likeState{parentID: parentID, likes: gateway.RefIDs(c.Likes)}
			th.likes[c.ID] = st
		case st.stale && st.inflight == 0 && th.epochs[parentID] == epoch:
			st.likes = gateway.RefIDs(c.Likes)
			st.stale = false
		}
		out = append(out, commentView(viewer, postID, c, st))
	}
	return out
}

func (s *service) List(ctx context.Context, viewer, postID string) ([]Comment, error) {
	s.activity.Touch(viewer)
	epoch := s.listEpoch(viewer, postID, "")

	var list []gateway.Comment
	err := s.queries.Fetch(ctx, cache.CommentsKey(viewer, postID), func(ctx context.Context) (interface{}, error) {
		return s.gateway.Comments(ctx, postID)
	}, &list)
	if err != nil {
		return nil, err
	}
	return s.seed(viewer, postID, "", epoch, list), nil
}

func (s *service) Replies(ctx context.Context, viewer, postID, parentID string) ([]Comment, error) {
	s.activity.Touch(viewer)
	epoch := s.listEpoch(viewer, postID, parentID)

	var list []gateway.Comment
	err := s.queries.Fetch(ctx, cache.RepliesKey(viewer, postID, parentID), func(ctx context.Context) (interface{}, error) {
		return s.gateway.Replies(ctx, postID, parentID)
	}, &list)
	if err != nil {
		return nil, err
	}
	return s.seed(viewer, postID, parentID, epoch, list), nil
}

func (s *service) ToggleLike(ctx context.Context, viewer, commentID string) (*Pending, error) {
	s.activity.Touch(viewer)
	done := make(chan struct{})

	s.mu.Lock()
	loc, ok := s.located[scoped(viewer, commentID)]
	var st *likeState
	if ok {
		if th, found := s.threads[scoped(viewer, loc.postID)]; found {
			st = th.likes[commentID]
		}
	}
	if st == nil {
		s.mu.Unlock()
		return nil, ErrCommentNotLoaded
	}

	before := st.likes
	st.likes = common.ToggleMember(before, viewer)
	st.inflight++
	prev := st.tail
	st.tail = done
	ticket := s.seq.Begin(scoped(viewer, commentID))
	pending := newPending(likesView(viewer, commentID, st))
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		s.settle(context.WithoutCancel(ctx), viewer, commentID, loc, before, ticket, pending)
	}()

	return pending, nil
}

// settle runs one like mutation. The latest ticket adopts the server's set on
// success and restores the set from before its click on failure.
func (s *service) settle(ctx context.Context, viewer, commentID string, loc meta, before []string, ticket sequence.Ticket, p *Pending) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.gateway.ToggleCommentLike(ctx, commentID)
	if err == nil {
		s.invalidateList(ctx, loc.postID, loc.parentID)
	}

	s.mu.Lock()
	var settled Likes
	if th, ok := s.threads[scoped(viewer, loc.postID)]; ok && th.likes[commentID] != nil {
		st := th.likes[commentID]
		st.inflight--
		if ticket.Latest() {
			switch {
			case err != nil:
				st.likes = before
			case res.Likes != nil:
				st.likes = gateway.RefIDs(res.Likes)
			}
		}
		settled = likesView(viewer, commentID, st)
	} else {
		// deleted while in flight
		settled = Likes{CommentID: commentID, Likes: []string{}}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("comment like failed",
			zap.String("viewer", viewer),
			zap.String("comment_id", commentID),
			zap.Stringer("error_kind", gateway.KindOf(err)),
			zap.Bool("latest", ticket.Latest()),
			zap.Error(err),
		)
		s.notifier.Notify(viewer, events.ErrorNotification(err, "comment:"+commentID))
	} else {
		s.notifier.SendToUser(viewer, &events.Event{Type: events.EventEngagementSettled, Data: settled})
	}

	p.resolve(settled, err)
}

func (s *service) invalidateList(ctx context.Context, postID, parentID string) {
	var err error
	if parentID == "" {
		err = s.queries.InvalidateOperation(ctx, cache.QueryComments, cache.Vars{"postId": postID})
	} else {
		err = s.queries.InvalidateOperation(ctx, cache.QueryReplies, cache.Vars{"postId": postID, "parentCommentId": parentID})
	}
	if err != nil {
		s.log.Warn("failed to invalidate comments", zap.String("post_id", postID), zap.String("parent_id", parentID), zap.Error(err))
	}
}

func (s *service) invalidatePost(ctx context.Context, postID string) {
	if err := s.queries.InvalidateOperation(ctx, cache.QueryPostByID, cache.Vars{"postId": postID}); err != nil {
		s.log.Warn("failed to invalidate post", zap.String("post_id", postID), zap.Error(err))
	}
}

// Add posts a comment, or a reply when req.ParentCommentID is set. Nothing is
// inserted locally; the list it belongs to is invalidated instead.
func (s *service) Add(ctx context.Context, viewer, postID string, req AddRequest) (*Comment, error) {
	s.activity.Touch(viewer)
	content := common.SanitizeString(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}

	parentID := req.ParentCommentID
	if parentID != "" {
		s.mu.Lock()
		loc, ok := s.located[scoped(viewer, parentID)]
		s.mu.Unlock()
		if ok && loc.parentID != "" {
			return nil, ErrNestedReply
		}
	}

	mentions := req.Mentions
	if len(mentions) == 0 {
		mentions = ExtractMentions(content)
	}

	mctx := context.WithoutCancel(ctx)
	created, err := s.gateway.AddComment(mctx, gateway.CommentInput{
		PostID:          postID,
		Content:         content,
		ParentCommentID: parentID,
		Mentions:        mentions,
	})
	if err != nil {
		s.log.Warn("add comment failed",
			zap.String("viewer", viewer),
			zap.String("post_id", postID),
			zap.String("parent_id", parentID),
			zap.Stringer("error_kind", gateway.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.invalidateList(mctx, postID, parentID)
	s.invalidatePost(mctx, postID)

	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[scoped(viewer, postID)]
	if !ok {
		th = newThread()
		s.threads[scoped(viewer, postID)] = th
	}
	st := &likeState{parentID: parentID, likes: gateway.RefIDs(created.Likes)}
	th.likes[created.ID] = st
	s.located[scoped(viewer, created.ID)] = meta{postID: postID, parentID: parentID}

	if parentID != "" && s.targets[scoped(viewer, postID)] == parentID {
		delete(s.targets, scoped(viewer, postID))
	}

	v := commentView(viewer, postID, created, st)
	v.ParentID = parentID
	return &v, nil
}

// Delete removes a comment once the gateway confirms and invalidates the
// lists it appeared in. Comments that were never listed invalidate every list.
func (s *service) Delete(ctx context.Context, viewer, commentID string) error {
	s.mu.Lock()
	loc, known := s.located[scoped(viewer, commentID)]
	s.mu.Unlock()

	mctx := context.WithoutCancel(ctx)
	if _, err := s.gateway.DeleteComment(mctx, commentID); err != nil {
		s.log.Warn("delete comment failed",
			zap.String("viewer", viewer),
			zap.String("comment_id", commentID),
			zap.Stringer("error_kind", gateway.KindOf(err)),
			zap.Error(err),
		)
		return err
	}

	if !known {
		for _, op := range []string{cache.QueryComments, cache.QueryReplies, cache.QueryPostByID} {
			if err := s.queries.InvalidateOperation(mctx, op, nil); err != nil {
				s.log.Warn("failed to invalidate queries", zap.String("operation", op), zap.Error(err))
			}
		}
		return nil
	}

	s.invalidateList(mctx, loc.postID, loc.parentID)
	if loc.parentID == "" {
		// its replies went with it
		s.invalidateList(mctx, loc.postID, commentID)
	}
	s.invalidatePost(mctx, loc.postID)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.located, scoped(viewer, commentID))
	if th, ok := s.threads[scoped(viewer, loc.postID)]; ok {
		if st, ok := th.likes[commentID]; ok && st.inflight == 0 {
			delete(th.likes, commentID)
		}
	}
	if s.targets[scoped(viewer, loc.postID)] == commentID {
		delete(s.targets, scoped(viewer, loc.postID))
	}
	return nil
}

// StartReply opens the composer on commentID, closing any other reply in
// progress on the same post
func (s *service) StartReply(viewer, postID, commentID string) (ReplyTarget, error) {
	s.activity.Touch(viewer)
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.located[scoped(viewer, commentID)]
	if !ok || loc.postID != postID {
		return ReplyTarget{}, ErrCommentNotLoaded
	}
	if loc.parentID != "" {
		return ReplyTarget{}, ErrNestedReply
	}
	s.targets[scoped(viewer, postID)] = commentID
	return ReplyTarget{PostID: postID, CommentID: commentID, Composing: true}, nil
}

func (s *service) CancelReply(viewer, postID string) ReplyTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, scoped(viewer, postID))
	return ReplyTarget{PostID: postID}
}

func (s *service) ReplyTarget(viewer, postID string) ReplyTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if commentID, ok := s.targets[scoped(viewer, postID)]; ok {
		return ReplyTarget{PostID: postID, CommentID: commentID, Composing: true}
	}
	return ReplyTarget{PostID: postID}
}

func (s *service) Evict(viewer string) {
	s.evict(viewer)
}

func (s *service) EvictIdle(cutoff time.Time) int {
	evicted := 0
	for _, viewer := range s.activity.IdleSince(cutoff) {
		if s.evict(viewer) {
			s.activity.Forget(viewer, cutoff)
			evicted++
		}
	}
	return evicted
}

// evict drops the viewer's threads that have no like in flight, with the
// comment locations and reply targets that belong to them. It reports whether
// nothing of the viewer is left.
func (s *service) evict(viewer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := viewer + "/"
	left := false
	for key, th := range s.threads {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if th.busy() {
			left = true
			continue
		}
		delete(s.threads, key)
		delete(s.targets, key)
	}
	for key := range s.targets {
		if strings.HasPrefix(key, prefix) {
			if _, ok := s.threads[key]; !ok {
				delete(s.targets, key)
			}
		}
	}
	for key, loc := range s.located {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.threads[scoped(viewer, loc.postID)]; !ok {
			delete(s.located, key)
			s.seq.Forget(key)
		}
	}
	return !left
}

func (s *service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
