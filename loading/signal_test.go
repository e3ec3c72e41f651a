package loading

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesCurrentValue(t *testing.T) {
	var s Signal
	s.Increment()
	s.Increment()

	var got []int
	unsub := s.Subscribe(func(n int) { got = append(got, n) })
	defer unsub()

	assert.Equal(t, []int{2}, got)
}

func TestEveryTransitionIsDelivered(t *testing.T) {
	var s Signal
	var a, b []int
	s.Subscribe(func(n int) { a = append(a, n) })
	s.Subscribe(func(n int) { b = append(b, n) })

	s.Increment()
	s.Increment()
	s.Decrement()
	s.Decrement()

	want := []int{0, 1, 2, 1, 0}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
}

func TestDecrementClampsAtZero(t *testing.T) {
	var s Signal
	s.Decrement()
	s.Decrement()
	assert.Equal(t, 0, s.Count())

	s.Increment()
	assert.True(t, s.IsLoading())
	s.Decrement()
	assert.False(t, s.IsLoading())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	var s Signal
	calls := 0
	unsub := s.Subscribe(func(int) { calls++ })
	other := 0
	s.Subscribe(func(int) { other++ })

	unsub()
	unsub()
	s.Increment()

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
}

func TestBalancedConcurrentUse(t *testing.T) {
	var s Signal
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Increment()
			s.Decrement()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, s.Count())
	assert.False(t, s.IsLoading())
}

func TestDefaultSignal(t *testing.T) {
	var last int
	unsub := Subscribe(func(n int) { last = n })
	defer unsub()

	Increment()
	assert.Equal(t, 1, last)
	Decrement()
	assert.Equal(t, 0, last)
}
