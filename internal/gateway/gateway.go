// Package gateway provides the single-worker task queue that serializes
// every native call belonging to one recognizer handle.
package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for submissions arriving after the gateway shut down.
var ErrClosed = errors.New("gateway: closed to new submissions")

type task struct {
	fn   func() error
	done chan error
}

// Gateway owns one worker goroutine that executes submitted tasks strictly
// in submission order, one at a time. Callers may submit from any number of
// goroutines; each submission blocks until its task has run.
type Gateway struct {
	mu     sync.Mutex // guards intake: closed flag + channel send
	exec   sync.Mutex // second line of defense around task execution
	tasks  chan task
	closed bool
	wg     sync.WaitGroup
}

// New starts the worker. depth bounds the queue of not-yet-started tasks;
// values <= 0 fall back to a small default.
func New(depth int) *Gateway {
	if depth <= 0 {
		depth = 16
	}
	g := &Gateway{tasks: make(chan task, depth)}
	g.wg.Add(1)
	go g.run()
	return g
}

func (g *Gateway) run() {
	defer g.wg.Done()
	for t := range g.tasks {
		g.exec.Lock()
		err := t.fn()
		g.exec.Unlock()
		t.done <- err
	}
}

// Submit enqueues fn and blocks until it has executed, returning its error.
// When ctx expires first, Submit returns early with the context error; the
// task itself still runs to completion on the worker; in-flight native
// calls are not preemptible.
func (g *Gateway) Submit(ctx context.Context, fn func() error) error {
	t, err := g.enqueue(fn, false)
	if err != nil {
		return err
	}
	return g.await(ctx, t)
}

// SubmitFinal enqueues fn as the last task the gateway will ever accept and
// closes intake. Tasks queued before the close still run to completion;
// later submissions fail with ErrClosed.
func (g *Gateway) SubmitFinal(ctx context.Context, fn func() error) error {
	t, err := g.enqueue(fn, true)
	if err != nil {
		return err
	}
	return g.await(ctx, t)
}

func (g *Gateway) enqueue(fn func() error, final bool) (task, error) {
	t := task{fn: fn, done: make(chan error, 1)}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return task{}, ErrClosed
	}
	g.tasks <- t
	if final {
		g.closed = true
		close(g.tasks)
	}
	return t, nil
}

func (g *Gateway) await(ctx context.Context, t task) error {
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake without a final task. Already-queued tasks still run.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.tasks)
	}
}

// Wait blocks until the worker has drained the queue and exited. Close or
// SubmitFinal must have been called first.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
