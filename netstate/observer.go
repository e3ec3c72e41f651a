// Package netstate watches connectivity and runs catch-up callbacks when the
// device comes back online.
package netstate

import (
	"sync"

	"go.uber.org/zap"
)

// State is a connectivity snapshot.
type State struct {
	IsConnected         bool
	IsInternetReachable bool
}

// Online reports whether the device is connected and the internet reachable.
func (s State) Online() bool {
	return s.IsConnected && s.IsInternetReachable
}

// Observer keeps the last connectivity state and the online callbacks.
type Observer struct {
	mu        sync.Mutex
	state     State
	nextID    uint64
	callbacks map[uint64]func()
	logger    *zap.Logger
}

// NewObserver creates an Observer that assumes the device starts connected.
func NewObserver(logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		state:     State{IsConnected: true, IsInternetReachable: true},
		callbacks: make(map[uint64]func()),
		logger:    logger,
	}
}

// RegisterOnlineCallback adds fn to the callbacks fired on every
// offline-to-online edge. The returned function removes it.
func (o *Observer) RegisterOnlineCallback(fn func()) (unregister func()) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.callbacks[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.callbacks, id)
		o.mu.Unlock()
	}
}

// Update records a connectivity event. When the previous state was
// disconnected and the new one is fully online, every registered callback is
// invoked once. A panicking callback is logged and does not stop the others.
func (o *Observer) Update(ev State) {
	o.mu.Lock()
	wasOffline := !o.state.IsConnected
	o.state = ev
	if !wasOffline || !ev.Online() {
		o.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(o.callbacks))
	for _, fn := range o.callbacks {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	o.logger.Info("Network restored, running online callbacks", zap.Int("callbacks", len(fns)))
	for _, fn := range fns {
		o.run(fn)
	}
}

// State returns the last recorded state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsOnline reports whether the last recorded state is fully online.
func (o *Observer) IsOnline() bool {
	return o.State().Online()
}

func (o *Observer) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Online callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
