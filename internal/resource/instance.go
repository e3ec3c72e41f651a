package resource

import (
	"context"
	"sync"
)

// State is what a mounted view renders.
type State[T any] struct {
	Data    T
	HasData bool
	Loading bool
	// Err is set only when a fetch failed and there was no data to show.
	Err error
}

// Instance is one mounted view of a Store.
type Instance[T any] struct {
	store *Store[T]

	mu         sync.Mutex
	state      State[T]
	version    uint64
	mounted    bool
	nextID     uint64
	subs       map[uint64]func(State[T])
	unregister func()

	notifyMu  sync.Mutex
	delivered uint64
}

type notification[T any] struct {
	inst    *Instance[T]
	state   State[T]
	version uint64
}

func newInstance[T any](s *Store[T]) *Instance[T] {
	return &Instance[T]{
		store:   s,
		mounted: true,
		subs:    make(map[uint64]func(State[T])),
	}
}

// State returns the current view state.
func (i *Instance[T]) State() State[T] {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Subscribe calls fn after every state change until unsubscribed. fn must
// not mutate the resource synchronously.
func (i *Instance[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	i.mu.Lock()
	i.nextID++
	id := i.nextID
	i.subs[id] = fn
	i.mu.Unlock()

	return func() {
		i.mu.Lock()
		delete(i.subs, id)
		i.mu.Unlock()
	}
}

// Refresh fetches the resource and waits. It is silent when data is shown.
func (i *Instance[T]) Refresh(ctx context.Context) error {
	return i.store.Refresh(ctx, i.State().HasData)
}

// Unmount stops updates and drops the online callback. Calling it again
// does nothing.
func (i *Instance[T]) Unmount() {
	i.mu.Lock()
	if !i.mounted {
		i.mu.Unlock()
		return
	}
	i.mounted = false
	unregister := i.unregister
	i.subs = make(map[uint64]func(State[T]))
	i.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	i.store.detach(i)
}

// Mounted reports whether the view still receives updates.
func (i *Instance[T]) Mounted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mounted
}

func (i *Instance[T]) update(fn func(*State[T])) (notification[T], bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.mounted {
		return notification[T]{}, false
	}
	fn(&i.state)
	i.version++
	return notification[T]{inst: i, state: i.state, version: i.version}, true
}

// deliver runs subscribers outside the store lock. A notification older than
// one already delivered is dropped.
func deliver[T any](notes []notification[T]) {
	for _, n := range notes {
		n.inst.notify(n)
	}
}

func (i *Instance[T]) notify(n notification[T]) {
	i.notifyMu.Lock()
	defer i.notifyMu.Unlock()
	if n.version <= i.delivered {
		return
	}
	i.delivered = n.version

	i.mu.Lock()
	fns := make([]func(State[T]), 0, len(i.subs))
	for _, fn := range i.subs {
		fns = append(fns, fn)
	}
	i.mu.Unlock()

	for _, fn := range fns {
		fn(n.state)
	}
}
