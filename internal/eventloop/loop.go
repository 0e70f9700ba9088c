// Package eventloop provides the single serialized executor that every
// callback in this process runs on (§5: "a single cooperatively scheduled
// event loop... execution is atomic with respect to any other callback").
//
// Socket reads, timer fires, and SIP-stack completions all arrive on their
// own goroutines (because the kernel read call and sipgo's internal
// transaction machinery are blocking/threaded), but none of them touch call
// or leg state directly — they Post a closure onto the Loop and the single
// Run goroutine executes it to completion before picking up the next one.
package eventloop

import "log/slog"

// Loop is a single-goroutine task queue.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

// New creates a Loop with the given task queue depth.
func New(queueDepth int) *Loop {
	return &Loop{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
}

// Run drains tasks until Stop is called. Intended to be run in its own
// goroutine for the lifetime of the process.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.done:
			return
		}
	}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a task already running on the loop.
// If the queue is full, fn is handed to a helper goroutine that enqueues
// it once space frees up (or gives up when the loop stops), so the caller
// never blocks — a caller on the loop goroutine itself would otherwise
// deadlock against a full queue. A task deferred this way may run after
// tasks posted later.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	default:
		go func() {
			select {
			case l.tasks <- fn:
			case <-l.done:
			}
		}()
	}
}

// Stop terminates Run. It does not wait for queued tasks to drain.
func (l *Loop) Stop() {
	close(l.done)
}

// PostLogged is Post wrapped with an error-recovery net so a panicking
// callback cannot take the whole loop down silently.
func (l *Loop) PostLogged(name string, fn func()) {
	l.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("event loop task panicked", "task", name, "panic", r)
			}
		}()
		fn()
	})
}
