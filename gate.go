package teller

import (
	"context"
	"sync"
)

// gate is a one-shot barrier. It starts closed and opens exactly once; after
// that every wait returns immediately.
type gate struct {
	done chan struct{}
	once sync.Once
}

func newGate() *gate {
	return &gate{done: make(chan struct{})}
}

// open releases all current and future waiters. Safe to call more than once.
func (g *gate) open() {
	g.once.Do(func() { close(g.done) })
}

// wait blocks until the gate opens or ctx is done.
func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	default:
	}

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ready returns a channel closed when the gate opens.
func (g *gate) ready() <-chan struct{} {
	return g.done
}
