package events

import (
	"time"

	"github.com/tommygebru/kiekky-engagement/internal/cache"
	"github.com/tommygebru/kiekky-engagement/internal/gateway"
)

type EventType string

const (
	EventNotification      EventType = "notification"
	EventQueryInvalidated  EventType = "query_invalidated"
	EventEngagementSettled EventType = "engagement_settled"
)

// Level is the severity a client renders a notification with
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a toast for one user
type Notification struct {
	Level     Level  `json:"level"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	Resource  string `json:"resource,omitempty"`
	Retryable bool   `json:"retryable"`
}

// QueryRef names an invalidated query
type QueryRef struct {
	Operation string            `json:"operation"`
	Vars      map[string]string `json:"vars,omitempty"`
}

// Event is what connected clients receive
type Event struct {
	Type         EventType     `json:"type"`
	UserID       string        `json:"user_id,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Queries      []QueryRef    `json:"queries,omitempty"`
	Data         interface{}   `json:"data,omitempty"`
	At           time.Time     `json:"at"`
}

// Notifier delivers events to users. The hub implements it; reconcilers depend
// on this instead of the hub.
type Notifier interface {
	Notify(userID string, n Notification)
	SendToUser(userID string, event *Event)
}

// ErrorNotification describes a failed action on resource. Authorization
// failures carry the gateway's own message, network failures a generic one.
func ErrorNotification(err error, resource string) Notification {
	return Notification{
		Level:     LevelError,
		Kind:      gateway.KindOf(err).String(),
		Message:   gateway.UserMessage(err),
		Resource:  resource,
		Retryable: gateway.IsRetryable(err),
	}
}

func queryRefs(keys []cache.Key) []QueryRef {
	refs := make([]QueryRef, 0, len(keys))
	for _, k := range keys {
		vars := make(map[string]string, len(k.Vars))
		for name, v := range k.Vars {
			if name != "viewer" {
				vars[name] = v
			}
		}
		refs = append(refs, QueryRef{Operation: k.Operation, Vars: vars})
	}
	return refs
}
