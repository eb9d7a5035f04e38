package friends

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

var ErrRequestInFlight = errors.New("a friendship action is already in progress")

// Service runs friend request transitions. Nothing is applied before the
// gateway confirms; afterwards the caches of both parties are invalidated and
// the returned view is read back from the server.
type Service interface {
	Status(ctx context.Context, viewer, userID string) (*View, error)
	Requests(ctx context.Context, viewer string) ([]Request, error)
	Send(ctx context.Context, viewer, userID string) (*View, error)
	Cancel(ctx context.Context, viewer, userID string) (*View, error)
	Accept(ctx context.Context, viewer, userID string) (*View, error)
	Reject(ctx context.Context, viewer, userID string) (*View, error)
	Unfriend(ctx context.Context, viewer, userID string) (*View, error)
}

type service struct {
	gateway gateway.Gateway
	queries *cache.Client
	log     *zap.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewService creates a friendship service
func NewService(gw gateway.Gateway, queries *cache.Client, log *zap.Logger) Service {
	return &service{
		gateway:  gw,
		queries:  queries,
		log:      log,
		inflight: make(map[string]bool),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

func (s *service) Status(ctx context.Context, viewer, userID string) (*View, error) {
	var status *gateway.FriendshipStatus
	err := s.queries.Fetch(ctx, cache.FriendshipStatusKey(viewer, userID), func(ctx context.Context) (interface{}, error) {
		return s.gateway.FriendshipStatus(ctx, userID)
	}, &status)
	if err != nil {
		return nil, err
	}

	v := NewView(status, viewer, userID)
	return &v, nil
}

func (s *service) Requests(ctx context.Context, viewer string) ([]Request, error) {
	var pending []gateway.FriendshipStatus
	err := s.queries.Fetch(ctx, cache.FriendRequestsKey(viewer), func(ctx context.Context) (interface{}, error) {
		return s.gateway.FriendRequests(ctx)
	}, &pending)
	if err != nil {
		return nil, err
	}

	requests := make([]Request, 0, len(pending))
	for _, p := range pending {
		requests = append(requests, Request{
			ID:          p.ID,
			RequesterID: p.Requester.ID,
			CreatedAt:   p.CreatedAt,
		})
	}
	return requests, nil
}

func (s *service) Send(ctx context.Context, viewer, userID string) (*View, error) {
	return s.transition(ctx, viewer, userID, ActionSend, func(ctx context.Context, _ *View) (*gateway.FriendshipStatus, error) {
		return s.gateway.AddFriend(ctx, userID)
	})
}

func (s *service) Cancel(ctx context.Context, viewer, userID string) (*View, error) {
	return s.transition(ctx, viewer, userID, ActionCancel, func(ctx context.Context, v *View) (*gateway.FriendshipStatus, error) {
		if _, err := s.gateway.CancelFriendRequest(ctx, v.RequestID); err != nil {
			return nil, err
		}
		// the request is gone
		return nil, nil
	})
}

func (s *service) Accept(ctx context.Context, viewer, userID string) (*View, error) {
	return s.transition(ctx, viewer, userID, ActionAccept, func(ctx context.Context, v *View) (*gateway.FriendshipStatus, error) {
		return s.gateway.AcceptFriendRequest(ctx, v.RequestID)
	})
}

func (s *service) Reject(ctx context.Context, viewer, userID string) (*View, error) {
	return s.transition(ctx, viewer, userID, ActionReject, func(ctx context.Context, v *View) (*gateway.FriendshipStatus, error) {
		return s.gateway.RejectFriendRequest(ctx, v.RequestID)
	})
}

func (s *service) Unfriend(ctx context.Context, viewer, userID string) (*View, error) {
	return s.transition(ctx, viewer, userID, ActionUnfriend, func(ctx context.Context, _ *View) (*gateway.FriendshipStatus, error) {
		_, err := s.gateway.Unfriend(ctx, userID)
		return nil, err
	})
}

// transition checks action against the viewer's current view, runs mutate and
// returns the view read back after invalidation. mutate reports the friendship
// record the gateway confirmed, nil once it no longer exists. A failed mutation
// leaves the cached state untouched unless the gateway says the view was out of
// date.
func (s *service) transition(ctx context.Context, viewer, userID string, action Action, mutate func(context.Context, *View) (*gateway.FriendshipStatus, error)) (*View, error) {
	if viewer == userID {
		return nil, ErrCannotBefriendSelf
	}

	pair := pairKey(viewer, userID)
	s.mu.Lock()
	if s.inflight[pair] {
		s.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	s.inflight[pair] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, pair)
		s.mu.Unlock()
	}()

	current, err := s.Status(ctx, viewer, userID)
	if err != nil {
		return nil, err
	}
	if !current.Allows(action) {
		return nil, ErrActionNotAllowed
	}

	// a disconnecting client does not abort the mutation
	mctx := context.WithoutCancel(ctx)
	confirmed, err := mutate(mctx, current)
	if err != nil {
		s.log.Warn("friendship action failed",
			zap.String("viewer", viewer),
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Stringer("error_kind", gateway.KindOf(err)),
			zap.Error(err),
		)
		if drifted(err) {
			s.invalidate(mctx, viewer, userID, action)
		}
		return nil, err
	}

	s.invalidate(mctx, viewer, userID, action)
	if err := s.queries.SetQueryData(mctx, cache.FriendshipStatusKey(viewer, userID), confirmed); err != nil {
		s.log.Warn("failed to store confirmed friendship", zap.String("viewer", viewer), zap.String("user_id", userID), zap.Error(err))
	}
	return s.Status(ctx, viewer, userID)
}

// drifted reports whether err means the server state no longer matches the
// cached view the action was checked against
func drifted(err error) bool {
	switch gateway.KindOf(err) {
	case gateway.KindNotFound, gateway.KindConflict, gateway.KindValidation:
		return true
	}
	return false
}

func (s *service) invalidate(ctx context.Context, viewer, userID string, action Action) {
	keys := []cache.Key{
		cache.FriendshipStatusKey(viewer, userID),
		cache.FriendshipStatusKey(userID, viewer),
		cache.UserKey(viewer),
		cache.UserKey(userID),
		cache.FriendRequestsKey(viewer),
		cache.FriendRequestsKey(userID),
	}
	if err := s.queries.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("failed to invalidate friendship queries", zap.String("viewer", viewer), zap.String("user_id", userID), zap.Error(err))
	}

	// friends-only posts appear or disappear for both parties
	if action != ActionAccept && action != ActionUnfriend {
		return
	}
	for _, id := range []string{viewer, userID} {
		if err := s.queries.InvalidateOperation(ctx, cache.QueryInfinitePosts, cache.Vars{"viewer": id}); err != nil {
			s.log.Warn("failed to invalidate feed", zap.String("viewer", id), zap.Error(err))
		}
	}
}
