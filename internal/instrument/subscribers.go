package instrument

import "sync"

// subscribers is an ordered, concurrency-safe callback list.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	ids    []uint64
	fns    []T
}

func (s *subscribers[T]) add(fn T) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.ids = append(s.ids, id)
	s.fns = append(s.fns, fn)
	return func() { s.remove(id) }
}

func (s *subscribers[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i:i], s.ids[i+1:]...)
			s.fns = append(s.fns[:i:i], s.fns[i+1:]...)
			return
		}
	}
}

// list returns a copy in registration order.
func (s *subscribers[T]) list() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.fns...)
}
