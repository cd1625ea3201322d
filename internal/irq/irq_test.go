package irq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSection_RestoresPriorState(t *testing.T) {
	c := NewController()
	x := c.NewContext()

	s := x.Disable()
	require.Equal(t, Enabled, s)
	require.True(t, x.Masked())

	// Nested section leaves the outer mask in place.
	x.Section(func() {
		assert.True(t, x.Masked())
	})
	assert.True(t, x.Masked())

	x.Restore(s)
	assert.False(t, x.Masked())
}

func TestSection_RestoresOnEarlyReturnAndPanic(t *testing.T) {
	c := NewController()
	x := c.NewContext()

	read := func(fail bool) (v int) {
		x.Section(func() {
			if fail {
				return
			}
			v = 1
		})
		return v
	}
	assert.Equal(t, 0, read(true))
	assert.False(t, x.Masked())
	assert.Equal(t, 1, read(false))

	func() {
		defer func() { _ = recover() }()
		x.Section(func() { panic("boom") })
	}()
	assert.False(t, x.Masked())

	// Interrupts must still be deliverable.
	ran := false
	c.Raise(func(*Context) { ran = true })
	assert.True(t, ran)
}

func TestRaise_HeldPendingDuringSection(t *testing.T) {
	c := NewController()
	x := c.NewContext()

	ran := make(chan struct{})
	var raised sync.WaitGroup
	raised.Add(1)

	s := x.Disable()
	go func() {
		defer raised.Done()
		c.Raise(func(ix *Context) {
			assert.True(t, ix.Masked())
			close(ran)
		})
	}()

	select {
	case <-ran:
		t.Fatalf("handler ran while interrupts were masked")
	case <-time.After(50 * time.Millisecond):
	}

	x.Restore(s)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("pending interrupt never delivered")
	}
	raised.Wait()

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Equal(t, uint64(1), st.Pending)
}

func TestRaise_PendingRunsBeforeNextSection(t *testing.T) {
	c := NewController()
	x := c.NewContext()

	var ran atomic.Bool
	done := make(chan struct{})

	s := x.Disable()
	go func() {
		defer close(done)
		c.Raise(func(*Context) { ran.Store(true) })
	}()
	require.Eventually(t, func() bool { return c.Stats().Pending == 1 }, time.Second, time.Millisecond)

	// Releasing and immediately re-masking must let the queued handler in
	// between.
	x.Restore(s)
	x.Section(func() {
		assert.True(t, ran.Load(), "section started ahead of a pending interrupt")
	})
	<-done
}

func TestRaise_PromptWhileControlLoopSpins(t *testing.T) {
	c := NewController()
	x := c.NewContext()

	stop := make(chan struct{})
	spinning := make(chan struct{})
	go func() {
		close(spinning)
		for {
			select {
			case <-stop:
				return
			default:
			}
			x.Section(func() {})
		}
	}()
	defer close(stop)
	<-spinning

	const interrupts = 200
	start := time.Now()
	var worst time.Duration
	for i := 0; i < interrupts; i++ {
		t0 := time.Now()
		c.Raise(func(*Context) {})
		if d := time.Since(t0); d > worst {
			worst = d
		}
	}
	assert.Equal(t, uint64(interrupts), c.Stats().Delivered)
	assert.Less(t, time.Since(start), 2*time.Second, "worst single delivery %s", worst)
}

func TestRaise_HandlerSectionsDoNotRemask(t *testing.T) {
	c := NewController()
	done := make(chan struct{})
	go func() {
		c.Raise(func(ix *Context) {
			ix.Section(func() {})
			assert.True(t, ix.Masked())
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handler deadlocked on its own section")
	}
}

func TestRaise_NilHandler(t *testing.T) {
	c := NewController()
	c.Raise(nil)
	assert.Equal(t, uint64(0), c.Stats().Delivered)
}
