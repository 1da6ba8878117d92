package reconciler

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"feedsync/internal/domain/feed/model"
	"feedsync/internal/domain/feed/repository"
	"feedsync/pkg/logger"
)

// State of a subscription.
type State int32

const (
	Disconnected State = iota
	Subscribing
	Live
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return "disconnected"
	}
}

// Watch is one scope's subscription. Events are applied one at a time in
// delivery order on the watch's own goroutine.
type Watch struct {
	r      *Reconciler
	scope  model.Scope
	state  atomic.Int32
	events chan model.ChangeEvent
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sub       repository.Subscription
	closeOnce sync.Once
	stopped   chan struct{}
}

func newWatch(r *Reconciler, scope model.Scope, buffer int) *Watch {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watch{
		r:       r,
		scope:   scope,
		events:  make(chan model.ChangeEvent, buffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

func (w *Watch) Scope() model.Scope {
	return w.scope
}

func (w *Watch) State() State {
	return State(w.state.Load())
}

// enqueue is the transport callback. It blocks while the buffer is full so
// ordering is kept, and drops events once the watch is closed.
func (w *Watch) enqueue(ev model.ChangeEvent) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *Watch) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case ev := <-w.events:
			_ = w.r.Apply(w.ctx, ev)
		}
	}
}

// Close unsubscribes and stops processing. Events already queued but not
// yet applied are discarded.
func (w *Watch) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		wasLive := w.State() == Live
		w.state.Store(int32(Disconnected))
		close(w.done)
		sub := w.sub
		w.mu.Unlock()
		w.cancel()

		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				logger.Log.Warn("Unsubscribe failed", zap.String("scope", w.scope.Channel()), zap.Error(err))
			}
		}
		if wasLive {
			w.r.metrics.SubscriptionClosed()
		}
		w.r.forget(w)
	})
}

// Wait blocks until the processing loop has exited or ctx ends.
func (w *Watch) Wait(ctx context.Context) error {
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
