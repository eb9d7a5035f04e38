package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/common"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

type fixture struct {
	gw      *gateway.MemoryGateway
	queries *cache.Client
	svc     Service
	alice   string
	bob     string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	g := gateway.NewMemoryGateway()
	queries := cache.NewClient(cache.NewMemoryStore(), time.Minute, zap.NewNop())

	f := &fixture{
		gw:      g,
		queries: queries,
		svc:     NewService(g, queries, zap.NewNop()),
	}
	f.alice = g.AddUser(gateway.User{Username: "alice"})
	f.bob = g.AddUser(gateway.User{Username: "bob"})
	return f
}

func as(userID string) context.Context {
	return common.SetUserContext(context.Background(), userID, userID, "")
}

func TestToggleFollow(t *testing.T) {
	f := setup(t)
	ctx := as(f.alice)

	following, err := f.svc.IsFollowing(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.False(t, following)

	profile, err := f.svc.Profile(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 0, profile.FollowersCount)

	following, err = f.svc.ToggleFollow(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.True(t, following)

	following, err = f.svc.IsFollowing(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.True(t, following)

	profile, err = f.svc.Profile(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.FollowersCount)

	mine, err := f.svc.Profile(ctx, f.alice, f.alice)
	require.NoError(t, err)
	assert.True(t, mine.IsSelf)
	assert.Equal(t, 1, mine.FollowingCount)

	following, err = f.svc.ToggleFollow(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.False(t, following)

	following, err = f.svc.IsFollowing(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.False(t, following)
}

func TestToggleFollowFailureKeepsState(t *testing.T) {
	f := setup(t)
	ctx := as(f.alice)

	f.gw.Intercept("followUser", func(context.Context) error {
		return errors.New("timeout")
	})

	following, err := f.svc.ToggleFollow(ctx, f.alice, f.bob)
	require.Error(t, err)
	assert.False(t, following)

	following, err = f.svc.IsFollowing(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.False(t, following)
	assert.Equal(t, 1, f.gw.Calls("isFollowing"))
}

func TestToggleFollowRecoversFromDrift(t *testing.T) {
	f := setup(t)

	following, err := f.svc.IsFollowing(as(f.alice), f.alice, f.bob)
	require.NoError(t, err)
	require.False(t, following)

	// followed elsewhere, the cached edge is now wrong
	_, err = f.gw.FollowUser(as(f.alice), f.bob)
	require.NoError(t, err)

	_, err = f.svc.ToggleFollow(as(f.alice), f.alice, f.bob)
	assert.Equal(t, gateway.KindConflict, gateway.KindOf(err))

	following, err = f.svc.IsFollowing(as(f.alice), f.alice, f.bob)
	require.NoError(t, err)
	assert.True(t, following)
}

func TestToggleFollowSelf(t *testing.T) {
	f := setup(t)

	_, err := f.svc.ToggleFollow(as(f.alice), f.alice, f.alice)
	assert.ErrorIs(t, err, ErrCannotFollowSelf)

	following, err := f.svc.IsFollowing(as(f.alice), f.alice, f.alice)
	require.NoError(t, err)
	assert.False(t, following)
}

func TestToggleFollowInFlight(t *testing.T) {
	f := setup(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gw.Intercept("followUser", func(context.Context) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.ToggleFollow(as(f.alice), f.alice, f.bob)
		done <- err
	}()
	<-entered

	_, err := f.svc.ToggleFollow(as(f.alice), f.alice, f.bob)
	assert.ErrorIs(t, err, ErrFollowInFlight)

	close(release)
	assert.NoError(t, <-done)
}

func TestUsersPage(t *testing.T) {
	f := setup(t)
	f.gw.AddUser(gateway.User{Username: "carol"})

	page, err := f.svc.Users(as(f.alice), f.alice, ListRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Users, 2)
	assert.Equal(t, "alice", page.Users[0].Username)
	assert.True(t, page.PageInfo.HasNextPage)

	next, err := f.svc.Users(as(f.alice), f.alice, ListRequest{Cursor: page.PageInfo.EndCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, next.Users, 1)
	assert.Equal(t, "carol", next.Users[0].Username)
	assert.False(t, next.PageInfo.HasNextPage)
}

func TestProfileNotFound(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Profile(as(f.alice), f.alice, gateway.NewID())
	assert.Equal(t, gateway.KindNotFound, gateway.KindOf(err))
}
