package room

import "sync"

// Signal is a minimal observer registry for one event category.
// Emit runs subscribers synchronously in subscription order on the calling
// goroutine; the mutex only protects the registry itself, so external
// goroutines may subscribe or cancel while frames are being processed.
type Signal[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a cancel func that removes it.
// Cancel is idempotent.
func (s *Signal[T]) Subscribe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes every current subscriber with v, in subscription order.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	subs := make([]subscription[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(v)
	}
}

// Clear removes every subscriber.
func (s *Signal[T]) Clear() {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
}

// Len returns the number of current subscribers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
