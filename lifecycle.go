package solanapay

import (
	"context"
	"sync"
	"sync/atomic"
)

// Loop is the liveness token of one run of a polling goroutine. Results
// computed by the run are published only while IsLive reports true; anything
// that completes after Cancel is dropped. A Loop is started once; restarting
// a poller means creating a new Loop.
type Loop struct {
	once   sync.Once
	live   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	finish sync.Once
}

// NewLoop creates a loop that has not been started
func NewLoop() *Loop {
	return &Loop{done: make(chan struct{})}
}

// Start marks the loop live and returns a context that is cancelled by
// Cancel or by the parent. Later calls return the same context.
func (l *Loop) Start(parent context.Context) context.Context {
	l.once.Do(func() {
		l.ctx, l.cancel = context.WithCancel(parent)
		l.live.Store(true)
	})
	return l.ctx
}

// Cancel clears the liveness flag and cancels the loop's context.
// It is safe to call more than once and before Start.
func (l *Loop) Cancel() {
	l.live.Store(false)
	l.once.Do(func() {
		// never started: a later Start returns an already cancelled context
		l.ctx, l.cancel = context.WithCancel(context.Background())
	})
	l.cancel()
}

// IsLive reports whether results of this run may still be published
func (l *Loop) IsLive() bool {
	if !l.live.Load() {
		return false
	}
	if l.ctx.Err() != nil {
		l.live.Store(false)
		return false
	}
	return true
}

// Finish is deferred by the loop goroutine; it closes Done
func (l *Loop) Finish() {
	l.finish.Do(func() {
		close(l.done)
	})
}

// Done is closed once the loop goroutine has returned
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
