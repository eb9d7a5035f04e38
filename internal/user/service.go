package user

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

// Service defines profile and follow operations
type Service interface {
	Profile(ctx context.Context, viewer, userID string) (*Profile, error)
	Users(ctx context.Context, viewer string, req ListRequest) (*gateway.UserPage, error)

	// Follow operations
	IsFollowing(ctx context.Context, viewer, userID string) (bool, error)
	ToggleFollow(ctx context.Context, viewer, userID string) (bool, error)
}

type service struct {
	gateway gateway.Gateway
	queries *cache.Client
	log     *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewService creates a new user service
func NewService(gw gateway.Gateway, queries *cache.Client, log *zap.Logger) Service {
	return &service{
		gateway:  gw,
		queries:  queries,
		log:      log,
		inflight: make(map[string]bool),
	}
}

// Profile returns a user's profile through the shared cache
func (s *service) Profile(ctx context.Context, viewer, userID string) (*Profile, error) {
	var u gateway.User
	err := s.queries.Fetch(ctx, cache.UserKey(userID), func(ctx context.Context) (interface{}, error) {
		return s.gateway.User(ctx, userID)
	}, &u)
	if err != nil {
		return nil, err
	}
	return &Profile{User: &u, IsSelf: viewer == userID}, nil
}

// Users pages through the user directory
func (s *service) Users(ctx context.Context, viewer string, req ListRequest) (*gateway.UserPage, error) {
	limit := req.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	var page gateway.UserPage
	err := s.queries.Fetch(ctx, cache.UsersKey(req.Cursor, limit), func(ctx context.Context) (interface{}, error) {
		return s.gateway.Users(ctx, req.Cursor, limit)
	}, &page)
	if err != nil {
		return nil, err
	}
	if page.Users == nil {
		page.Users = []gateway.User{}
	}
	return &page, nil
}

func (s *service) fetchFollowing(ctx context.Context, key cache.Key, userID string, refetch bool) (bool, error) {
	fetch := func(ctx context.Context) (interface{}, error) {
		return s.gateway.IsFollowing(ctx, userID)
	}

	var following bool
	var err error
	if refetch {
		err = s.queries.Refetch(ctx, key, fetch, &following)
	} else {
		err = s.queries.Fetch(ctx, key, fetch, &following)
	}
	return following, err
}

// IsFollowing reports the cached follow edge from viewer to userID
func (s *service) IsFollowing(ctx context.Context, viewer, userID string) (bool, error) {
	if viewer == userID {
		return false, nil
	}
	return s.fetchFollowing(ctx, cache.IsFollowingKey(viewer, userID), userID, false)
}

// ToggleFollow flips the follow edge once the gateway confirms it and returns
// the state read back from the server. Nothing changes locally on failure.
func (s *service) ToggleFollow(ctx context.Context, viewer, userID string) (bool, error) {
	if viewer == userID {
		return false, ErrCannotFollowSelf
	}

	pair := viewer + "/" + userID
	s.mu.Lock()
	if s.inflight[pair] {
		s.mu.Unlock()
		return false, ErrFollowInFlight
	}
	s.inflight[pair] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, pair)
		s.mu.Unlock()
	}()

	key := cache.IsFollowingKey(viewer, userID)
	following, err := s.fetchFollowing(ctx, key, userID, false)
	if err != nil {
		return false, err
	}

	mctx := context.WithoutCancel(ctx)
	if following {
		_, err = s.gateway.Unfollow(mctx, userID)
	} else {
		_, err = s.gateway.FollowUser(mctx, userID)
	}
	if err != nil {
		s.log.Warn("follow toggle failed",
			zap.String("viewer", viewer),
			zap.String("user_id", userID),
			zap.Bool("was_following", following),
			zap.Stringer("error_kind", gateway.KindOf(err)),
			zap.Error(err),
		)
		// the cached edge disagreed with the server
		if kind := gateway.KindOf(err); kind == gateway.KindConflict || kind == gateway.KindValidation {
			s.invalidate(mctx, viewer, userID)
		}
		return following, err
	}

	s.invalidate(mctx, viewer, userID)

	now, err := s.fetchFollowing(mctx, key, userID, true)
	if err != nil {
		return !following, fmt.Errorf("refetch follow state: %w", err)
	}
	return now, nil
}

func (s *service) invalidate(ctx context.Context, viewer, userID string) {
	keys := []cache.Key{
		cache.IsFollowingKey(viewer, userID),
		cache.UserKey(viewer),
		cache.UserKey(userID),
	}
	if err := s.queries.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("failed to invalidate follow queries", zap.String("viewer", viewer), zap.String("user_id", userID), zap.Error(err))
	}
	// followers-only posts appear or disappear
	if err := s.queries.InvalidateOperation(ctx, cache.QueryInfinitePosts, cache.Vars{"viewer": viewer}); err != nil {
		s.log.Warn("failed to invalidate feed", zap.String("viewer", viewer), zap.Error(err))
	}
}
