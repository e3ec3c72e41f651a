package netstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
)

var (
	online  = State{IsConnected: true, IsInternetReachable: true}
	offline = State{}
)

func TestCallbackFiresOncePerEdge(t *testing.T) {
	o := NewObserver(zaptest.NewLogger(t))
	calls := 0
	o.RegisterOnlineCallback(func() { calls++ })

	for _, ev := range []State{online, online, offline, offline, online} {
		o.Update(ev)
	}
	assert.Equal(t, 1, calls)
}

func TestConnectedButUnreachableIsNotAnEdge(t *testing.T) {
	o := NewObserver(zaptest.NewLogger(t))
	calls := 0
	o.RegisterOnlineCallback(func() { calls++ })

	o.Update(offline)
	o.Update(State{IsConnected: true, IsInternetReachable: false})
	o.Update(online)
	assert.Equal(t, 0, calls, "previous state was connected")

	o.Update(offline)
	o.Update(online)
	assert.Equal(t, 1, calls)
}

func TestUnregister(t *testing.T) {
	o := NewObserver(zaptest.NewLogger(t))
	var a, b int
	unregister := o.RegisterOnlineCallback(func() { a++ })
	o.RegisterOnlineCallback(func() { b++ })

	unregister()
	unregister()
	o.Update(offline)
	o.Update(online)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestPanickingCallbackDoesNotStopOthers(t *testing.T) {
	o := NewObserver(zaptest.NewLogger(t))
	calls := 0
	o.RegisterOnlineCallback(func() { panic("boom") })
	o.RegisterOnlineCallback(func() { calls++ })

	o.Update(offline)
	require.NotPanics(t, func() { o.Update(online) })
	assert.Equal(t, 1, calls)
}

func TestCallbackMayRegisterDuringEdge(t *testing.T) {
	o := NewObserver(zaptest.NewLogger(t))
	o.RegisterOnlineCallback(func() {
		o.RegisterOnlineCallback(func() {})
	})
	o.Update(offline)
	assert.NotPanics(t, func() { o.Update(online) })
}

func TestInitialStateIsOnline(t *testing.T) {
	o := NewObserver(nil)
	assert.True(t, o.IsOnline())
	assert.Equal(t, online, o.State())
}

func TestPollerProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	o := NewObserver(zaptest.NewLogger(t))
	calls := atomic.NewInt32(0)
	o.RegisterOnlineCallback(func() { calls.Inc() })

	p := NewPoller(o, srv.URL, time.Hour, time.Second, zaptest.NewLogger(t))
	assert.Equal(t, online, p.Probe(context.Background()), "any response means reachable")

	srv.Close()
	assert.Equal(t, offline, p.Probe(context.Background()))
	assert.False(t, o.IsOnline())

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv2.Close()
	p.url = srv2.URL
	p.Probe(context.Background())
	assert.EqualValues(t, 1, calls.Load())
}

func TestPollerRunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	o := NewObserver(zaptest.NewLogger(t))
	p := NewPoller(o, srv.URL, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
