// Package merge multiplexes N independent sample streams into one,
// first-ready-wins. One collector may hold dozens of per-entity live
// streams from a single host; this keeps them all drained without
// starving any and without one stream's failure ending the rest.
package merge

import (
	"context"
	"sync"
)

// Stream is one asynchronous source feeding a merge. Items arrive on
// C; Close releases whatever the stream holds open (a socket, an HTTP
// body) and must be safe to call more than once.
type Stream[T any] struct {
	C     <-chan T
	Close func()
}

// Streams merges fixed sources into a single channel. The output
// closes once every source channel has ended or ctx is cancelled. On
// cancellation every source's Close runs, so no connection leaks.
func Streams[T any](ctx context.Context, sources ...Stream[T]) <-chan T {
	g := NewGroup[T](ctx)
	for _, s := range sources {
		g.Add(s)
	}
	go func() {
		g.Wait()
		g.Finish()
	}()
	return g.Out()
}

// Group is a merge that accepts sources dynamically: the container
// collector adds a stream whenever a new container appears.
type Group[T any] struct {
	ctx  context.Context
	out  chan T
	quit chan struct{}

	mu      sync.Mutex
	wg      sync.WaitGroup
	closers []func()
	done    bool
}

// NewGroup creates an empty merge group.
func NewGroup[T any](ctx context.Context) *Group[T] {
	return &Group[T]{ctx: ctx, out: make(chan T), quit: make(chan struct{})}
}

// Out returns the merged channel. It closes only when Finish runs.
func (g *Group[T]) Out() <-chan T { return g.out }

// Add wires one source into the group. A source that ends or fails is
// simply drained to completion; the group keeps serving the others.
func (g *Group[T]) Add(s Stream[T]) {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		if s.Close != nil {
			s.Close()
		}
		return
	}
	if s.Close != nil {
		g.closers = append(g.closers, s.Close)
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-g.ctx.Done():
				return
			case <-g.quit:
				return
			case v, ok := <-s.C:
				if !ok {
					return
				}
				select {
				case g.out <- v:
				case <-g.ctx.Done():
					return
				case <-g.quit:
					return
				}
			}
		}
	}()
}

// Wait blocks until every currently-added source has ended.
func (g *Group[T]) Wait() { g.wg.Wait() }

// Finish closes every source and then the merged channel. Safe to
// call at any point, including before the sources have ended, and
// safe to call twice.
func (g *Group[T]) Finish() {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	closers := g.closers
	g.closers = nil
	g.mu.Unlock()

	close(g.quit)
	for _, c := range closers {
		c()
	}
	g.wg.Wait()
	close(g.out)
}
