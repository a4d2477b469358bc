// Package mainloop provides the designated execution context: a bounded,
// single-consumer task queue drained by one goroutine. Method calls, stream
// subscribe/cancel and every event delivery run on it, so state owned by the
// relays is only touched from that goroutine.
package mainloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/groutine"
)

// DefaultCapacity is the task queue size used when none is given.
const DefaultCapacity = 256

// ErrStopped is returned by Do once the loop no longer runs tasks.
var ErrStopped = errors.New("main loop stopped")

// Loop runs posted tasks one at a time, in post order.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
	gid      atomic.Uint64
	logger   *logrus.Logger
}

// New creates a stopped loop; call Start (or Run) to drain it.
func New(capacity int, logger *logrus.Logger) *Loop {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		tasks:  make(chan func(), capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start runs the loop on a named goroutine until ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	groutine.Go(ctx, "mainloop", l.Run)
}

// Run drains tasks on the calling goroutine until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	l.gid.Store(groutine.ID())
	defer l.gid.Store(0)
	defer l.Stop()

	l.logger.Debug("Main loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Main loop context done")
			return
		case <-l.done:
			l.logger.Debug("Main loop stopped")
			return
		case task := <-l.tasks:
			l.run(ctx, task)
		}
	}
}

func (l *Loop) run(ctx context.Context, task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"panic":     r,
				"goroutine": groutine.Name(ctx),
			}).Error("Main loop task panicked")
		}
	}()
	task()
}

// Post queues task. It blocks while the queue is full and returns false once the
// loop has stopped.
func (l *Loop) Post(task func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case <-l.done:
		return false
	case l.tasks <- task:
		return true
	}
}

// Do runs task on the loop and waits for it. Called from the loop goroutine it
// runs task inline.
func (l *Loop) Do(ctx context.Context, task func()) error {
	if l.OnLoop() {
		task()
		return nil
	}

	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		task()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLoop reports whether the caller is the loop goroutine.
func (l *Loop) OnLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.ID()
}

// Stop ends the loop. Queued tasks that have not started are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
