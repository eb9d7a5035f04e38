package common

import (
	"sync"
	"time"
)

// Activity records when each viewer last used a service, so state kept for
// viewers who went quiet can be dropped
type Activity struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewActivity() *Activity {
	return &Activity{seen: make(map[string]time.Time), now: time.Now}
}

// Touch marks viewer as active now
func (a *Activity) Touch(viewer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[viewer] = a.now()
}

// IdleSince lists viewers not seen since cutoff
func (a *Activity) IdleSince(cutoff time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idle []string
	for viewer, at := range a.seen {
		if at.Before(cutoff) {
			idle = append(idle, viewer)
		}
	}
	return idle
}

// Forget drops viewer unless it was seen again at or after cutoff
func (a *Activity) Forget(viewer string, cutoff time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if at, ok := a.seen[viewer]; ok && at.Before(cutoff) {
		delete(a.seen, viewer)
	}
}

// Len reports how many viewers are tracked
func (a *Activity) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}
