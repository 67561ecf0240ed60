package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	errGateClosed   = errors.New("script is closed")
	errGatePoisoned = errors.New("script state poisoned by an earlier panic")
)

// gate serializes access to one interpreter state.
//
// The slot is a one-element channel, so waiters queue in the runtime's FIFO
// order and can give up when their context ends. A closed or poisoned gate
// refuses every later acquisition.
type gate struct {
	slot chan struct{}

	mu       sync.Mutex
	closed   bool
	poisoned error
}

func newGate() *gate {
	return &gate{slot: make(chan struct{}, 1)}
}

func (g *gate) usable() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errGateClosed
	}
	if g.poisoned != nil {
		return fmt.Errorf("%w: %v", errGatePoisoned, g.poisoned)
	}
	return nil
}

// acquire blocks until the slot is free, ctx ends, or the gate becomes unusable.
func (g *gate) acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.usable(); err != nil {
		return err
	}
	// An ended context never acquires, even when the slot is free.
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Closed or poisoned while we were waiting.
	if err := g.usable(); err != nil {
		<-g.slot
		return err
	}
	return nil
}

func (g *gate) release() {
	<-g.slot
}

// poison marks the gate unusable. Called with the slot held.
func (g *gate) poison(reason interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.poisoned == nil {
		g.poisoned = fmt.Errorf("%v", reason)
	}
}

// close marks the gate closed, waits for the in-flight holder, runs fn
// with the slot held, then frees the slot so queued waiters observe the
// closed state. Reports false if the gate was already closed.
func (g *gate) close(fn func()) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.closed = true
	g.mu.Unlock()

	g.slot <- struct{}{}
	fn()
	<-g.slot
	return true
}
