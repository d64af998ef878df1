package state

import "sync"

// Signal fans change notifications out to subscribers. Notifications coalesce:
// a subscriber that has not drained its channel sees one pending signal, never a
// queue, and a slow subscriber never blocks the notifier.
type Signal struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// Subscribe returns a change channel and a cancel func that closes it.
func (s *Signal) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[int]chan struct{})
	}
	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Notify wakes every subscriber.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
