package friends

import (
	"errors"

	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

var (
	ErrActionNotAllowed   = errors.New("action not allowed in the current friendship state")
	ErrCannotBefriendSelf = errors.New("cannot send a friend request to yourself")
)

// Role is the acting user's side of a friendship record
type Role int

const (
	RoleNone Role = iota
	RoleRequester
	RoleRecipient
)

func (r Role) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleRecipient:
		return "recipient"
	default:
		return "none"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Status is the friendship state as the reconciler sees it. A missing record is StatusNone.
type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Action is a transition a user may trigger from a view
type Action string

const (
	ActionSend     Action = "send"
	ActionCancel   Action = "cancel"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionUnfriend Action = "unfriend"
)

// DeriveRole tells which side of status selfID is on
func DeriveRole(status *gateway.FriendshipStatus, selfID string) Role {
	if status == nil {
		return RoleNone
	}
	switch selfID {
	case status.Requester.ID:
		return RoleRequester
	case status.Recipient.ID:
		return RoleRecipient
	default:
		return RoleNone
	}
}

// StatusOf maps a gateway record onto a Status
func StatusOf(status *gateway.FriendshipStatus) Status {
	if status == nil {
		return StatusNone
	}
	switch status.Status {
	case gateway.FriendPending:
		return StatusPending
	case gateway.FriendAccepted:
		return StatusAccepted
	case gateway.FriendRejected:
		return StatusRejected
	default:
		return StatusNone
	}
}

// Actions lists what the user on side role may do in status
func Actions(status Status, role Role) []Action {
	switch status {
	case StatusNone, StatusRejected:
		return []Action{ActionSend}
	case StatusPending:
		switch role {
		case RoleRequester:
			return []Action{ActionCancel}
		case RoleRecipient:
			return []Action{ActionAccept, ActionReject}
		}
	case StatusAccepted:
		if role != RoleNone {
			return []Action{ActionUnfriend}
		}
	}
	return []Action{}
}

// Label is the button text for a view
func Label(status Status, role Role) string {
	switch status {
	case StatusPending:
		if role == RoleRequester {
			return "Cancel Request"
		}
		return "Respond"
	case StatusAccepted:
		return "Friends"
	default:
		return "Add Friend"
	}
}

// View is the friendship between the viewer and another user, projected for rendering
type View struct {
	UserID      string   `json:"user_id"`
	Status      Status   `json:"status"`
	Role        Role     `json:"role"`
	IsRequester bool     `json:"is_requester"`
	IsRecipient bool     `json:"is_recipient"`
	RequestID   string   `json:"request_id,omitempty"`
	Actions     []Action `json:"actions"`
	Label       string   `json:"label"`
}

// NewView projects a gateway record as seen by viewer
func NewView(status *gateway.FriendshipStatus, viewer, userID string) View {
	role := DeriveRole(status, viewer)
	st := StatusOf(status)
	v := View{
		UserID:      userID,
		Status:      st,
		Role:        role,
		IsRequester: role == RoleRequester,
		IsRecipient: role == RoleRecipient,
		Actions:     Actions(st, role),
		Label:       Label(st, role),
	}
	if status != nil {
		v.RequestID = status.ID
	}
	return v
}

// Allows reports whether action is one of the view's actions
func (v View) Allows(action Action) bool {
	for _, a := range v.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Request is an incoming pending friend request
type Request struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	CreatedAt   string `json:"created_at,omitempty"`
}
