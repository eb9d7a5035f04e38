package posts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/events"
	"github.com/tommygebru/kiekky-engagement/internal/events/eventstest"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

type fixture struct {
	gw    *gateway.MemoryGateway
	svc   Service
	notes *eventstest.Notifier
	alice string
	bob   string
	post  string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	g := gateway.NewMemoryGateway()
	queries := cache.NewClient(cache.NewMemoryStore(), time.Minute, zap.NewNop())
	notes := eventstest.NewNotifier()

	f := &fixture{
		gw:    g,
		svc:   NewService(g, queries, notes, time.Second, zap.NewNop()),
		notes: notes,
	}
	f.alice = g.AddUser(gateway.User{Username: "alice"})
	f.bob = g.AddUser(gateway.User{Username: "bob"})
	f.post = g.AddPost(f.alice, gateway.Post{Caption: "sunset"})
	return f
}

func as(userID string) context.Context {
	return common.SetUserContext(context.Background(), userID, userID, "")
}

func wait(t *testing.T, p *Pending) (Engagement, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := p.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return e, err
}

func blockUntil(release <-chan struct{}) gateway.Interceptor {
	return func(ctx context.Context) error {
		<-release
		return nil
	}
}

func TestToggleLikeIsOptimisticThenSettles(t *testing.T) {
	f := setup(t)

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	assert.True(t, p.Optimistic.Liked)
	assert.Equal(t, 1, p.Optimistic.LikeCount)
	assert.Equal(t, []string{f.bob}, p.Optimistic.Likes)

	settled, err := wait(t, p)
	require.NoError(t, err)
	assert.True(t, settled.Liked)
	assert.Equal(t, 1, settled.LikeCount)
	assert.False(t, settled.LikePending)

	f.notes.AssertNumberOfCalls(t, "SendToUser", 1)
	f.notes.AssertCalled(t, "SendToUser", f.bob, mock.MatchedBy(func(e *events.Event) bool {
		return e.Type == events.EventEngagementSettled
	}))
	f.notes.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestDoubleToggleRestoresOriginalSet(t *testing.T) {
	f := setup(t)

	first, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	second, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)

	assert.Equal(t, []string{f.bob}, first.Optimistic.Likes)
	assert.Empty(t, second.Optimistic.Likes)

	_, err = wait(t, first)
	require.NoError(t, err)
	settled, err := wait(t, second)
	require.NoError(t, err)
	assert.Empty(t, settled.Likes)
	assert.Equal(t, 0, settled.LikeCount)

	server, err := f.gw.Post(as(f.bob), f.post)
	require.NoError(t, err)
	assert.Empty(t, server.Likes)
	assert.Equal(t, 2, f.gw.Calls("toggleLikePost"))
}

func TestSaveIsIndependentOfLike(t *testing.T) {
	f := setup(t)

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindSave)
	require.NoError(t, err)
	settled, err := wait(t, p)
	require.NoError(t, err)
	assert.True(t, settled.Saved)
	assert.Equal(t, 1, settled.SaveCount)
	assert.False(t, settled.Liked)

	_, err = f.svc.Toggle(as(f.bob), f.bob, f.post, Kind("share"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestFailedToggleRollsBackAndNotifies(t *testing.T) {
	f := setup(t)
	f.gw.Intercept("toggleLikePost", func(ctx context.Context) error {
		return &gateway.Error{Kind: gateway.KindNetwork, Op: "toggleLikePost", Message: "timeout"}
	})

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	assert.True(t, p.Optimistic.Liked)

	settled, err := wait(t, p)
	require.Error(t, err)
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf(err))
	assert.False(t, settled.Liked)
	assert.Equal(t, 0, settled.LikeCount)

	current, err := f.svc.Engagement(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	assert.False(t, current.Liked)

	f.notes.AssertNumberOfCalls(t, "Notify", 1)
	f.notes.AssertCalled(t, "Notify", f.bob, mock.MatchedBy(func(n events.Notification) bool {
		return n.Level == events.LevelError && n.Kind == "network" && n.Retryable && n.Resource == "post:"+f.post
	}))
}

func TestAuthorizationFailureIsNotRetried(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Engagement(as(f.bob), f.bob, f.post)
	require.NoError(t, err)

	// privacy changes after the viewer loaded the post
	f.gw.SetPrivacy(f.post, gateway.PrivacyPrivate)

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	assert.True(t, p.Optimistic.Liked)

	settled, err := wait(t, p)
	assert.True(t, gateway.IsAuthorization(err))
	assert.False(t, settled.Liked)
	assert.Equal(t, 1, f.gw.Calls("toggleLikePost"))

	f.notes.AssertNumberOfCalls(t, "Notify", 1)
	f.notes.AssertCalled(t, "Notify", f.bob, events.Notification{
		Level:    events.LevelError,
		Kind:     "authorization",
		Message:  "you do not have access to this post",
		Resource: "post:" + f.post,
	})
}

func TestOutdatedResponseIsDiscarded(t *testing.T) {
	f := setup(t)
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	f.gw.Intercept("toggleLikePost", blockUntil(releaseFirst))
	f.gw.Intercept("toggleLikePost", blockUntil(releaseSecond))

	first, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	second, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)

	close(releaseFirst)
	settledFirst, err := wait(t, first)
	require.NoError(t, err)

	// the server answered likes=[bob] but a newer click is pending
	assert.Empty(t, settledFirst.Likes)
	assert.True(t, settledFirst.LikePending)

	close(releaseSecond)
	settledSecond, err := wait(t, second)
	require.NoError(t, err)
	assert.Empty(t, settledSecond.Likes)
	assert.False(t, settledSecond.LikePending)
}

func TestNewerClickKeepsStateWhenOlderFails(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gw.Intercept("toggleLikePost", func(ctx context.Context) error {
		<-release
		return &gateway.Error{Kind: gateway.KindServer, Op: "toggleLikePost", Message: "boom"}
	})

	first, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	second, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	third, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	assert.Equal(t, []string{f.bob}, third.Optimistic.Likes)

	close(release)
	_, err = wait(t, first)
	require.Error(t, err)
	_, err = wait(t, second)
	require.NoError(t, err)
	settled, err := wait(t, third)
	require.NoError(t, err)

	// first failed, second liked, third unliked on the server
	assert.Empty(t, settled.Likes)
	server, err := f.gw.Post(as(f.bob), f.post)
	require.NoError(t, err)
	assert.Empty(t, server.Likes)
}

func TestOtherViewersConvergeAfterInvalidation(t *testing.T) {
	f := setup(t)

	before, err := f.svc.Engagement(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	assert.Equal(t, 0, before.LikeCount)

	p, err := f.svc.Toggle(as(f.alice), f.alice, f.post, KindLike)
	require.NoError(t, err)
	_, err = wait(t, p)
	require.NoError(t, err)

	after, err := f.svc.Engagement(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	assert.Equal(t, []string{f.alice}, after.Likes)
	assert.False(t, after.Liked)
}

func TestLikedPostsRefreshAfterLike(t *testing.T) {
	f := setup(t)

	liked, err := f.svc.LikedPosts(as(f.bob), f.bob, f.bob)
	require.NoError(t, err)
	assert.Empty(t, liked)

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	_, err = wait(t, p)
	require.NoError(t, err)

	liked, err = f.svc.LikedPosts(as(f.bob), f.bob, f.bob)
	require.NoError(t, err)
	require.Len(t, liked, 1)
	assert.Equal(t, f.post, liked[0].ID)
}

func TestFeedOverlaysPendingToggle(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gw.Intercept("toggleSavePost", blockUntil(release))

	page, err := f.svc.Feed(as(f.bob), f.bob, FeedRequest{})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, 0, page.Posts[0].SaveCount)

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindSave)
	require.NoError(t, err)

	page, err = f.svc.Feed(as(f.bob), f.bob, FeedRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Posts[0].SaveCount)
	assert.Equal(t, []string{f.bob}, gateway.RefIDs(page.Posts[0].Saves))

	close(release)
	_, err = wait(t, p)
	require.NoError(t, err)
}

func TestEvictKeepsBusyState(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gw.Intercept("toggleLikePost", blockUntil(release))

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)

	f.svc.Evict(f.bob)
	close(release)
	settled, err := wait(t, p)
	require.NoError(t, err)
	assert.True(t, settled.Liked)

	f.svc.Evict(f.bob)
	current, err := f.svc.Engagement(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	assert.True(t, current.Liked)
}

func TestEvictIdleDropsQuietViewers(t *testing.T) {
	f := setup(t)
	for i := 0; i < 4; i++ {
		f.gw.AddPost(f.alice, gateway.Post{Caption: "more"})
	}
	svc := f.svc.(*service)

	// a viewer who only pages the feed over REST
	page, err := f.svc.Feed(as(f.bob), f.bob, FeedRequest{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, page.Posts)
	assert.Len(t, svc.states, len(page.Posts))

	assert.Zero(t, f.svc.EvictIdle(time.Now().Add(-time.Hour)))
	assert.Len(t, svc.states, len(page.Posts))

	assert.Equal(t, 1, f.svc.EvictIdle(time.Now().Add(time.Minute)))
	assert.Empty(t, svc.states)
	assert.Zero(t, svc.activity.Len())
}

func TestEvictIdleWaitsForInFlightToggle(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gw.Intercept("toggleLikePost", blockUntil(release))

	p, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)
	assert.Zero(t, f.svc.EvictIdle(time.Now().Add(time.Minute)))

	close(release)
	_, err = wait(t, p)
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.EvictIdle(time.Now().Add(time.Minute)))

	current, err := f.svc.Engagement(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	assert.True(t, current.Liked)
}

func TestEngagementUnknownPost(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Engagement(as(f.bob), f.bob, gateway.NewID())
	assert.Equal(t, gateway.KindNotFound, gateway.KindOf(err))
}

func TestDrain(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gw.Intercept("toggleLikePost", blockUntil(release))

	_, err := f.svc.Toggle(as(f.bob), f.bob, f.post, KindLike)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.svc.Drain(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, f.svc.Drain(context.Background()))
}
