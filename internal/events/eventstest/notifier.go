// Package eventstest provides a mock events.Notifier for reconciler tests.
package eventstest

import (
	"github.com/stretchr/testify/mock"

	"github.com/tommygebru/kiekky-engagement/internal/events"
)

// Notifier is a testify mock of events.Notifier
type Notifier struct {
	mock.Mock
}

// NewNotifier returns a mock that accepts every delivery. Tests assert on the
// recorded calls afterwards.
func NewNotifier() *Notifier {
	n := &Notifier{}
	n.On("Notify", mock.Anything, mock.Anything).Return()
	n.On("SendToUser", mock.Anything, mock.Anything).Return()
	return n
}

func (n *Notifier) Notify(userID string, note events.Notification) {
	n.Called(userID, note)
}

func (n *Notifier) SendToUser(userID string, event *events.Event) {
	n.Called(userID, event)
}
