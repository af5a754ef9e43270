// Package eventloop serializes access to an arbiter. Requests and device
// events from any goroutine are queued to a single supervised service
// that owns the engine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bnema/grabarbiter/internal/arbiter"
)

// ErrPanic wraps a panic raised by a submitted function.
var ErrPanic = errors.New("engine call panicked")

type request struct {
	fn   func(*arbiter.Engine) error
	done chan error
}

// Loop runs functions against an engine one at a time.
type Loop struct {
	name   string
	engine *arbiter.Engine
	reqs   chan request

	processed atomic.Uint64
}

// New returns a loop over engine. It does nothing until served.
func New(name string, engine *arbiter.Engine) *Loop {
	return &Loop{
		name:   name,
		engine: engine,
		reqs:   make(chan request),
	}
}

func (l *Loop) String() string { return l.name }

// Processed returns the number of functions run so far.
func (l *Loop) Processed() uint64 { return l.processed.Load() }

// Serve runs submitted functions until ctx is done.
func (l *Loop) Serve(ctx context.Context) error {
	log.Debug("loop started", "name", l.name)
	for {
		select {
		case <-ctx.Done():
			log.Debug("loop stopped", "name", l.name)
			return ctx.Err()
		case req := <-l.reqs:
			req.done <- l.run(req.fn)
		}
	}
}

func (l *Loop) run(fn func(*arbiter.Engine) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("engine call panicked", "name", l.name, "panic", r)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		l.processed.Add(1)
	}()
	return fn(l.engine)
}

// Do runs fn on the loop and waits for its result. It returns ctx's
// error if ctx is done first; fn may still run in that case.
func (l *Loop) Do(ctx context.Context, fn func(*arbiter.Engine) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case l.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
