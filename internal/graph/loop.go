package graph

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrBusy   = errors.New("graph: ui queue full")
	ErrClosed = errors.New("graph: ui loop closed")
)

// Loop is the UI execution context. Everything that touches display state
// runs on the goroutine calling Run.
type Loop struct {
	q    chan func()
	done chan struct{}

	started atomic.Bool
	ran     atomic.Uint64
	dropped atomic.Uint64
}

func NewLoop(queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	return &Loop{q: make(chan func(), queue), done: make(chan struct{})}
}

// Run executes posted functions until ctx is done. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("graph: ui loop already running")
	}
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.q:
			fn()
			l.ran.Add(1)
		}
	}
}

// Post queues fn without blocking.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.q <- fn:
		return nil
	default:
		l.dropped.Add(1)
		return ErrBusy
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.q <- wrapped:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

type LoopStats struct {
	Ran     uint64 `json:"ran"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

func (l *Loop) Stats() LoopStats {
	return LoopStats{Ran: l.ran.Load(), Dropped: l.dropped.Load(), Queued: len(l.q)}
}
