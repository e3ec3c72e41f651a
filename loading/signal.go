// Package loading tracks how many foreground requests are in flight and
// tells subscribers the count on every change.
package loading

import "sync"

// Signal is a reference-counted busy flag. The zero value is ready to use.
type Signal struct {
	mu     sync.Mutex
	count  int
	nextID uint64
	subs   map[uint64]func(int)
	order  []uint64
}

// Increment marks one more request in flight.
func (s *Signal) Increment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.notify()
}

// Decrement marks one request done. The count never drops below zero.
func (s *Signal) Decrement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
	}
	s.notify()
}

// IsLoading reports whether any request is in flight.
func (s *Signal) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count > 0
}

// Count returns the number of requests in flight.
func (s *Signal) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Subscribe calls fn with the current count, then with the new count on
// every change. fn runs
// with the signal locked and must not call back into it. The returned
// function unsubscribes and is safe to call more than once.
func (s *Signal) Subscribe(fn func(count int)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[uint64]func(int))
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.order = append(s.order, id)
	fn(s.count)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// notify delivers every transition in order; callers hold mu.
func (s *Signal) notify() {
	for _, id := range s.order {
		s.subs[id](s.count)
	}
}

// Default is the process-wide signal.
var Default = &Signal{}

// Increment increments Default.
func Increment() { Default.Increment() }

// Decrement decrements Default.
func Decrement() { Default.Decrement() }

// Subscribe subscribes to Default.
func Subscribe(fn func(count int)) func() { return Default.Subscribe(fn) }
