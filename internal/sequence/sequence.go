// Package sequence orders concurrent requests against the same resource so
// only the most recent one may settle local state.
package sequence

import "sync"

// Sequencer issues tickets per resource key. Ids come from one counter, so a
// ticket never becomes latest again once superseded, even after Forget.
type Sequencer struct {
	mu     sync.Mutex
	next   uint64
	latest map[string]uint64
}

func New() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Ticket is one request's place in a resource's sequence
type Ticket struct {
	seq      *Sequencer
	resource string
	id       uint64
}

// Begin issues a ticket that supersedes every earlier ticket for resource
func (s *Sequencer) Begin(resource string) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.latest[resource] = s.next
	return Ticket{seq: s, resource: resource, id: s.next}
}

// Latest reports whether no newer ticket was issued for the same resource
func (t Ticket) Latest() bool {
	t.seq.mu.Lock()
	defer t.seq.mu.Unlock()
	return t.seq.latest[t.resource] == t.id
}

// ID orders tickets issued by the same sequencer
func (t Ticket) ID() uint64 {
	return t.id
}

// Forget drops resource. Outstanding tickets stop being latest.
func (s *Sequencer) Forget(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, resource)
}
