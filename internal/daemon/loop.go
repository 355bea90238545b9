package daemon

import (
	"context"
	"time"
)

// Loop is the daemon's cooperative event loop. Every device-store and
// evaluator operation runs on it, one at a time; bus method handlers and
// watcher callbacks post work onto it and the single consumer goroutine
// gives them a consistent view of all daemon state without locks.
type Loop struct {
	tasks chan func()
}

// taskBacklog bounds how much work can queue before posters block. The
// loop never suspends mid-task, so the backlog only grows while a task is
// actually running.
const taskBacklog = 256

// NewLoop creates an event loop. Nothing runs until Run is called.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), taskBacklog),
	}
}

// Run executes posted tasks until ctx is cancelled. It must be called
// exactly once, and every store operation must happen inside a task.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post enqueues fn for execution on the loop and returns immediately.
func (l *Loop) Post(fn func()) {
	l.tasks <- fn
}

// Wait runs fn on the loop and blocks until it returns. Calling Wait from
// inside a loop task would deadlock; off-loop callers only.
func (l *Loop) Wait(fn func()) {
	done := make(chan struct{})
	l.tasks <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// Call runs fn on the loop and returns its error. The bus adapter uses it
// to dispatch method calls into store operations.
func (l *Loop) Call(fn func() error) error {
	var err error
	l.Wait(func() { err = fn() })
	return err
}

// AfterFunc schedules fn to run on the loop after d. The returned cancel
// stops delivery if the timer has not fired yet. Satisfies the device
// store's Scheduler interface, which keeps wait timeouts loop-affine.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		l.Post(fn)
	})
	return func() { t.Stop() }
}
