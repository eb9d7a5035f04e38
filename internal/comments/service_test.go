package comments

import (
	"context"
	"errors"
	"strings"
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
	f.post = g.AddPost(f.alice, gateway.Post{Caption: "harbour"})
	return f
}

func as(userID string) context.Context {
	return common.SetUserContext(context.Background(), userID, userID, "")
}

// comment creates a comment directly on the gateway
func (f *fixture) comment(t *testing.T, author, parentID, content string) string {
	t.Helper()
	c, err := f.gw.AddComment(as(author), gateway.CommentInput{PostID: f.post, Content: content, ParentCommentID: parentID})
	require.NoError(t, err)
	return c.ID
}

func TestToggleLikeOptimisticThenSettled(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.alice, "", "first")
	ctx := as(f.bob)

	list, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].LikeCount)

	pending, err := f.svc.ToggleLike(ctx, f.bob, id)
	require.NoError(t, err)
	assert.True(t, pending.Optimistic.Liked)
	assert.True(t, pending.Optimistic.Pending)

	settled, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.bob}, settled.Likes)
	assert.False(t, settled.Pending)

	pending, err = f.svc.ToggleLike(ctx, f.bob, id)
	require.NoError(t, err)
	settled, err = pending.Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, settled.Likes)
	assert.False(t, settled.Liked)
}

func TestToggleLikeRequiresLoadedComment(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ToggleLike(as(f.bob), f.bob, gateway.NewID())
	assert.ErrorIs(t, err, ErrCommentNotLoaded)
}

func TestToggleLikeRollsBack(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.alice, "", "first")
	ctx := as(f.bob)

	_, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)

	f.gw.Intercept("toggleLikeComment", func(context.Context) error {
		return errors.New("connection refused")
	})

	pending, err := f.svc.ToggleLike(ctx, f.bob, id)
	require.NoError(t, err)
	assert.True(t, pending.Optimistic.Liked)

	settled, err := pending.Wait(ctx)
	require.Error(t, err)
	assert.False(t, settled.Liked)
	assert.Equal(t, 0, settled.LikeCount)

	f.notes.AssertNumberOfCalls(t, "Notify", 1)
	f.notes.AssertCalled(t, "Notify", f.bob, mock.MatchedBy(func(n events.Notification) bool {
		return n.Resource == "comment:"+id && n.Retryable
	}))
}

func TestOtherViewerSeesLike(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.alice, "", "first")

	list, err := f.svc.List(as(f.alice), f.alice, f.post)
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].LikeCount)

	_, err = f.svc.List(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	pending, err := f.svc.ToggleLike(as(f.bob), f.bob, id)
	require.NoError(t, err)
	_, err = pending.Wait(as(f.bob))
	require.NoError(t, err)

	list, err = f.svc.List(as(f.alice), f.alice, f.post)
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].LikeCount)
	assert.Equal(t, []string{f.bob}, list[0].Likes)
}

func TestAddRefreshesList(t *testing.T) {
	f := setup(t)
	ctx := as(f.bob)

	list, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	assert.Empty(t, list)

	c, err := f.svc.Add(ctx, f.bob, f.post, AddRequest{Content: "  nice shot @alice  "})
	require.NoError(t, err)
	assert.Equal(t, "nice shot @alice", c.Content)
	assert.Empty(t, c.ParentID)

	list, err = f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
}

func TestAddValidation(t *testing.T) {
	f := setup(t)
	ctx := as(f.bob)

	_, err := f.svc.Add(ctx, f.bob, f.post, AddRequest{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = f.svc.Add(ctx, f.bob, f.post, AddRequest{Content: strings.Repeat("a", MaxContentLength+1)})
	assert.ErrorIs(t, err, ErrContentTooLong)

	assert.Zero(t, f.gw.Calls("addComment"))
}

func TestReplyClosesTarget(t *testing.T) {
	f := setup(t)
	parent := f.comment(t, f.alice, "", "first")
	ctx := as(f.bob)

	_, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	replies, err := f.svc.Replies(ctx, f.bob, f.post, parent)
	require.NoError(t, err)
	assert.Empty(t, replies)

	target, err := f.svc.StartReply(f.bob, f.post, parent)
	require.NoError(t, err)
	assert.True(t, target.Composing)

	reply, err := f.svc.Add(ctx, f.bob, f.post, AddRequest{Content: "agreed", ParentCommentID: parent})
	require.NoError(t, err)
	assert.Equal(t, parent, reply.ParentID)

	assert.False(t, f.svc.ReplyTarget(f.bob, f.post).Composing)

	replies, err = f.svc.Replies(ctx, f.bob, f.post, parent)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, reply.ID, replies[0].ID)

	// threads are two levels deep
	_, err = f.svc.StartReply(f.bob, f.post, reply.ID)
	assert.ErrorIs(t, err, ErrNestedReply)
	_, err = f.svc.Add(ctx, f.bob, f.post, AddRequest{Content: "deeper", ParentCommentID: reply.ID})
	assert.ErrorIs(t, err, ErrNestedReply)
	assert.Equal(t, 2, f.gw.Calls("addComment"))
}

func TestReplyTargetIsExclusive(t *testing.T) {
	f := setup(t)
	a := f.comment(t, f.alice, "", "a")
	b := f.comment(t, f.alice, "", "b")

	_, err := f.svc.List(as(f.bob), f.bob, f.post)
	require.NoError(t, err)

	_, err = f.svc.StartReply(f.bob, f.post, a)
	require.NoError(t, err)
	_, err = f.svc.StartReply(f.bob, f.post, b)
	require.NoError(t, err)

	target := f.svc.ReplyTarget(f.bob, f.post)
	assert.Equal(t, b, target.CommentID)

	target = f.svc.CancelReply(f.bob, f.post)
	assert.False(t, target.Composing)
	assert.Empty(t, f.svc.ReplyTarget(f.bob, f.post).CommentID)

	_, err = f.svc.StartReply(f.bob, f.post, gateway.NewID())
	assert.ErrorIs(t, err, ErrCommentNotLoaded)
}

func TestDeleteRefreshesList(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.bob, "", "oops")
	ctx := as(f.bob)

	list, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.StartReply(f.bob, f.post, id)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, f.bob, id))

	list, err = f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, f.svc.ReplyTarget(f.bob, f.post).Composing)
}

func TestDeleteNotAllowed(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.alice, "", "mine")
	ctx := as(f.bob)

	_, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)

	err = f.svc.Delete(ctx, f.bob, id)
	assert.True(t, gateway.IsAuthorization(err))

	list, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEvict(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.alice, "", "first")
	ctx := as(f.bob)

	_, err := f.svc.List(ctx, f.bob, f.post)
	require.NoError(t, err)
	_, err = f.svc.StartReply(f.bob, f.post, id)
	require.NoError(t, err)

	f.svc.Evict(f.bob)

	assert.False(t, f.svc.ReplyTarget(f.bob, f.post).Composing)
	_, err = f.svc.ToggleLike(ctx, f.bob, id)
	assert.ErrorIs(t, err, ErrCommentNotLoaded)
	assert.NoError(t, f.svc.Drain(context.Background()))
}

func TestEvictIdle(t *testing.T) {
	f := setup(t)
	id := f.comment(t, f.alice, "", "first")
	svc := f.svc.(*service)

	_, err := f.svc.List(as(f.bob), f.bob, f.post)
	require.NoError(t, err)
	_, err = f.svc.StartReply(f.bob, f.post, id)
	require.NoError(t, err)

	assert.Zero(t, f.svc.EvictIdle(time.Now().Add(-time.Hour)))
	assert.True(t, f.svc.ReplyTarget(f.bob, f.post).Composing)

	assert.Equal(t, 1, f.svc.EvictIdle(time.Now().Add(time.Minute)))
	assert.Empty(t, svc.threads)
	assert.Empty(t, svc.located)
	assert.Empty(t, svc.targets)
	assert.Zero(t, svc.activity.Len())
}

func TestExtractMentions(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob_2"}, ExtractMentions("hi @alice and @bob_2, also @alice"))
	assert.Equal(t, []string{}, ExtractMentions("no mentions here"))
}
