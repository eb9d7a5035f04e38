package user

import (
	"errors"

	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

var (
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
	ErrFollowInFlight   = errors.New("a follow change for this user is already in progress")
)

// Profile is a user profile as the viewer sees it. Counters come from the
// gateway and are never adjusted locally.
type Profile struct {
	*gateway.User
	IsSelf bool `json:"is_self"`
}

// FollowState is the viewer's follow edge towards a user
type FollowState struct {
	UserID    string `json:"user_id"`
	Following bool   `json:"following"`
}

// ListRequest holds directory paging parameters
type ListRequest struct {
	Cursor string `validate:"omitempty,objectid"`
	Limit  int    `validate:"min=0,max=50"`
}
