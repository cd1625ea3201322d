// Package irq models a single-core interrupt controller for code that shares
// state between an asynchronous event handler and a periodic control loop.
//
// Interrupt delivery is serialized with every critical section: while any
// Context holds interrupts masked, Raise blocks (the interrupt is pending) and
// runs the handler as soon as the mask is released. Handlers themselves run
// masked, so they never nest.
package irq

import (
	"sync"
	"sync/atomic"
)

// Handler is an interrupt service routine. It runs with interrupts masked and
// must not block. x is the interrupt context; accessors called from the
// handler take it so their own critical sections do not re-mask.
type Handler func(x *Context)

// State is the interrupt-enable state saved by Disable.
type State uint8

const (
	// Enabled means interrupts were deliverable before Disable.
	Enabled State = iota
	// Masked means the caller already held interrupts masked.
	Masked
)

// Controller stands in for the global interrupt-enable bit.
type Controller struct {
	mu     sync.Mutex
	cond   *sync.Cond
	held   bool
	queued int // Raise calls waiting for the mask

	delivered atomic.Uint64
	pending   atomic.Uint64
}

// NewController returns a controller with interrupts enabled.
func NewController() *Controller {
	c := &Controller{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// maskForInterrupt takes the mask for a handler, queueing behind the current
// holder.
func (c *Controller) maskForInterrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		c.pending.Add(1)
		c.queued++
		for c.held {
			c.cond.Wait()
		}
		c.queued--
	}
	c.held = true
}

// maskForContext takes the mask for a critical section. Queued interrupts go
// first: a section cannot start while one is waiting.
func (c *Controller) maskForContext() {
	c.mu.Lock()
	for c.held || c.queued > 0 {
		c.cond.Wait()
	}
	c.held = true
	c.mu.Unlock()
}

func (c *Controller) unmask() {
	c.mu.Lock()
	c.held = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// NewContext returns a context for one execution context (e.g. the control
// loop). A Context must only be used from a single goroutine.
func (c *Controller) NewContext() *Context {
	return &Context{c: c}
}

// Raise delivers an interrupt. If interrupts are masked the call blocks until
// they are restored, then h runs masked before any context can mask again.
func (c *Controller) Raise(h Handler) {
	if h == nil {
		return
	}
	c.maskForInterrupt()
	defer c.unmask()
	c.delivered.Add(1)
	h(&Context{c: c, masked: true})
}

// Stats is a point-in-time view of controller counters.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Pending   uint64 `json:"pending"`
}

// Stats returns counters for delivered interrupts and those that had to wait
// for a critical section to end.
func (c *Controller) Stats() Stats {
	return Stats{
		Delivered: c.delivered.Load(),
		Pending:   c.pending.Load(),
	}
}

// Context tracks whether its execution context currently holds the mask.
type Context struct {
	c      *Controller
	masked bool
}

// Disable masks interrupts and returns the prior state.
func (x *Context) Disable() State {
	if x.masked {
		return Masked
	}
	x.c.maskForContext()
	x.masked = true
	return Enabled
}

// Restore returns to the state saved by Disable.
func (x *Context) Restore(s State) {
	if s != Enabled || !x.masked {
		return
	}
	x.masked = false
	x.c.unmask()
}

// Masked reports whether this context currently holds interrupts masked.
func (x *Context) Masked() bool { return x.masked }

// Section runs fn with interrupts masked and restores the prior state on
// every exit path, including panics.
func (x *Context) Section(fn func()) {
	s := x.Disable()
	defer x.Restore(s)
	fn()
}
