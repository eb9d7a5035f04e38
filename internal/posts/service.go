package posts

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/events"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
	"github.com/tommygebru/kiekky-engagement/internal/sequence"
)

// Service reconciles likes and saves. Toggles apply locally first and settle
// in the background; a failed latest toggle rolls back.
type Service interface {
	Engagement(ctx context.Context, viewer, postID string) (*Engagement, error)
	Toggle(ctx context.Context, viewer, postID string, kind Kind) (*Pending, error)
	LikedPosts(ctx context.Context, viewer, userID string) ([]gateway.Post, error)
	Feed(ctx context.Context, viewer string, req FeedRequest) (*gateway.PostPage, error)
	// Evict drops the viewer's idle engagement state
	Evict(viewer string)
	// EvictIdle evicts viewers not seen since cutoff and reports how many
	// were dropped entirely
	EvictIdle(cutoff time.Time) int
	// Drain waits for in-flight mutations to settle
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
	states   map[string]*postState
	inflight sync.WaitGroup
}

// postState wraps state with bookkeeping for reseeding from the cache
type postState struct {
	*state
	epoch uint64
	stale bool
}

// NewService creates the like/save reconciler. Mutations get timeout to settle
// once detached from the request that started them.
func NewService(gw gateway.Gateway, queries *cache.Client, notifier events.Notifier, timeout time.Duration, log *zap.Logger) Service {
	s := &service{
		gateway:  gw,
		queries:  queries,
		notifier: notifier,
		seq:      sequence.New(),
		timeout:  timeout,
		log:      log,
		activity: common.NewActivity(),
		states:   make(map[string]*postState),
	}
	queries.OnInvalidate(s.markStale)
	return s
}

func stateKey(viewer, postID string) string {
	return viewer + "/" + postID
}

func resourceKey(viewer, postID string, kind Kind) string {
	return viewer + "/" + postID + "/" + string(kind)
}

// markStale flags local state for reseeding when its post query is invalidated
func (s *service) markStale(keys []cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if k.Operation != cache.QueryPostByID {
			continue
		}
		if st, ok := s.states[stateKey(k.Viewer(), k.Vars["postId"])]; ok {
			st.stale = true
			st.epoch++
		}
	}
}

func (s *service) fetchPost(ctx context.Context, viewer, postID string) (*gateway.Post, error) {
	var post gateway.Post
	err := s.queries.Fetch(ctx, cache.PostKey(viewer, postID), func(ctx context.Context) (interface{}, error) {
		return s.gateway.Post(ctx, postID)
	}, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ensure seeds the viewer's state for postID from the cached post when it is
// missing, or stale with nothing in flight
func (s *service) ensure(ctx context.Context, viewer, postID string) error {
	s.mu.Lock()
	st, exists := s.states[stateKey(viewer, postID)]
	var epoch uint64
	load := !exists
	if exists {
		epoch = st.epoch
		load = st.stale && !st.busy()
	}
	s.mu.Unlock()

	if !load {
		return nil
	}

	post, err := s.fetchPost(ctx, viewer, postID)
	if err != nil {
		if exists {
			s.log.Warn("keeping stale engagement state", zap.String("post_id", postID), zap.Error(err))
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[stateKey(viewer, postID)]
	switch {
	case !ok && !exists:
		s.states[stateKey(viewer, postID)] = &postState{state: newState(post), epoch: 1}
	case ok && exists && current.epoch == epoch && !current.busy():
		s.states[stateKey(viewer, postID)] = &postState{state: newState(post), epoch: epoch + 1}
	}
	return nil
}

// overlay seeds state for posts the viewer has none for and rewrites the
// engagement fields of known posts with local state
func (s *service) overlay(viewer string, posts []gateway.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range posts {
		p := &posts[i]
		st, ok := s.states[stateKey(viewer, p.ID)]
		if !ok {
			s.states[stateKey(viewer, p.ID)] = &postState{state: newState(p), epoch: 1}
			continue
		}
		p.Likes = gateway.Refs(st.likes)
		p.Saves = gateway.Refs(st.saves)
		p.LikeCount = len(st.likes)
		p.SaveCount = len(st.saves)
	}
}

func view(viewer, postID string, st *postState) Engagement {
	return Engagement{
		PostID:      postID,
		Likes:       common.CopyIDs(st.likes),
		Saves:       common.CopyIDs(st.saves),
		LikeCount:   len(st.likes),
		SaveCount:   len(st.saves),
		Liked:       common.Contains(st.likes, viewer),
		Saved:       common.Contains(st.saves, viewer),
		LikePending: st.inflight[KindLike] > 0,
		SavePending: st.inflight[KindSave] > 0,
	}
}

func (s *service) Engagement(ctx context.Context, viewer, postID string) (*Engagement, error) {
	s.activity.Touch(viewer)
	for {
		if err := s.ensure(ctx, viewer, postID); err != nil {
			return nil, err
		}
		s.mu.Lock()
		if st, ok := s.states[stateKey(viewer, postID)]; ok {
			v := view(viewer, postID, st)
			s.mu.Unlock()
			return &v, nil
		}
		// evicted in between
		s.mu.Unlock()
	}
}

func (s *service) Toggle(ctx context.Context, viewer, postID string, kind Kind) (*Pending, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	s.activity.Touch(viewer)

	var (
		before  []string
		ticket  sequence.Ticket
		pending *Pending
		prev    chan struct{}
		done    = make(chan struct{})
	)
	for pending == nil {
		if err := s.ensure(ctx, viewer, postID); err != nil {
			return nil, err
		}

		s.mu.Lock()
		st, ok := s.states[stateKey(viewer, postID)]
		if ok {
			before = st.set(kind)
			st.replace(kind, common.ToggleMember(before, viewer))
			st.inflight[kind]++
			st.epoch++
			prev = st.tail[kind]
			st.tail[kind] = done
			ticket = s.seq.Begin(resourceKey(viewer, postID, kind))
			pending = newPending(view(viewer, postID, st))
		}
		s.mu.Unlock()
	}

	s.inflight.Add(1)
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		s.settle(context.WithoutCancel(ctx), viewer, postID, kind, before, ticket, pending)
	}()

	return pending, nil
}

func (s *service) mutate(ctx context.Context, postID string, kind Kind) ([]string, error) {
	if kind == KindSave {
		res, err := s.gateway.TogglePostSave(ctx, postID)
		if err != nil {
			return nil, err
		}
		return gateway.RefIDs(res.Saves), nil
	}
	res, err := s.gateway.TogglePostLike(ctx, postID)
	if err != nil {
		return nil, err
	}
	return gateway.RefIDs(res.Likes), nil
}

// settle runs the mutation. Mutations for one resource reach the gateway in
// click order. Only the latest ticket may write the outcome to local state: its
// success adopts the server's set, its failure restores the set from before
// its click.
func (s *service) settle(ctx context.Context, viewer, postID string, kind Kind, before []string, ticket sequence.Ticket, p *Pending) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	server, err := s.mutate(ctx, postID, kind)
	if err == nil {
		s.invalidate(ctx, viewer, postID, kind)
	}

	s.mu.Lock()
	st := s.states[stateKey(viewer, postID)]
	st.inflight[kind]--
	if ticket.Latest() {
		if err != nil {
			st.replace(kind, before)
		} else {
			st.replace(kind, server)
		}
		st.epoch++
	}
	settled := view(viewer, postID, st)
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("engagement toggle failed",
			zap.String("viewer", viewer),
			zap.String("post_id", postID),
			zap.String("kind", string(kind)),
			zap.Stringer("error_kind", gateway.KindOf(err)),
			zap.Bool("latest", ticket.Latest()),
			zap.Error(err),
		)
		s.notifier.Notify(viewer, events.ErrorNotification(err, "post:"+postID))
	} else {
		s.notifier.SendToUser(viewer, &events.Event{Type: events.EventEngagementSettled, Data: settled})
	}

	p.resolve(settled, err)
}

func (s *service) invalidate(ctx context.Context, viewer, postID string, kind Kind) {
	if err := s.queries.InvalidateOperation(ctx, cache.QueryPostByID, cache.Vars{"postId": postID}); err != nil {
		s.log.Warn("failed to invalidate post", zap.String("post_id", postID), zap.Error(err))
	}
	if kind != KindLike {
		return
	}
	if err := s.queries.InvalidateOperation(ctx, cache.QueryUserLikedPosts, cache.Vars{"userId": viewer}); err != nil {
		s.log.Warn("failed to invalidate liked posts", zap.String("user_id", viewer), zap.Error(err))
	}
}

func (s *service) LikedPosts(ctx context.Context, viewer, userID string) ([]gateway.Post, error) {
	s.activity.Touch(viewer)
	var posts []gateway.Post
	err := s.queries.Fetch(ctx, cache.LikedPostsKey(viewer, userID), func(ctx context.Context) (interface{}, error) {
		return s.gateway.LikedPosts(ctx, userID)
	}, &posts)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []gateway.Post{}
	}
	s.overlay(viewer, posts)
	return posts, nil
}

func (s *service) Feed(ctx context.Context, viewer string, req FeedRequest) (*gateway.PostPage, error) {
	s.activity.Touch(viewer)
	limit := req.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	var page gateway.PostPage
	err := s.queries.Fetch(ctx, cache.PostsKey(viewer, req.Cursor, limit), func(ctx context.Context) (interface{}, error) {
		return s.gateway.Posts(ctx, req.Cursor, limit)
	}, &page)
	if err != nil {
		return nil, err
	}
	if page.Posts == nil {
		page.Posts = []gateway.Post{}
	}
	s.overlay(viewer, page.Posts)
	return &page, nil
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

// evict drops the viewer's state that has nothing in flight and reports
// whether none is left
func (s *service) evict(viewer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := viewer + "/"
	left := false
	for key, st := range s.states {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if st.busy() {
			left = true
			continue
		}
		delete(s.states, key)
		postID := strings.TrimPrefix(key, prefix)
		s.seq.Forget(resourceKey(viewer, postID, KindLike))
		s.seq.Forget(resourceKey(viewer, postID, KindSave))
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
