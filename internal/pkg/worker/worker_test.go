package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	t.Run("runs submitted task", func(t *testing.T) {
		p := NewWorkerPool(2, 4, time.Millisecond, nil)
		p.Start()
		defer p.Stop()

		done := make(chan struct{})
		require.NoError(t, p.Submit(Task{Name: "ok", Run: func(context.Context) error {
			close(done)
			return nil
		}}))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("task did not run")
		}
	})

	t.Run("retries then reports failure", func(t *testing.T) {
		p := NewWorkerPool(1, 4, time.Millisecond, nil)
		p.Start()
		defer p.Stop()

		var attempts int32
		failed := make(chan error, 1)
		boom := errors.New("boom")
		require.NoError(t, p.Submit(Task{
			Name:     "flaky",
			MaxRetry: 2,
			Run: func(context.Context) error {
				atomic.AddInt32(&attempts, 1)
				return boom
			},
			OnFailure: func(err error) { failed <- err },
		}))

		select {
		case err := <-failed:
			assert.ErrorIs(t, err, boom)
		case <-time.After(2 * time.Second):
			t.Fatal("failure hook not called")
		}
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("no retry when MaxRetry is zero", func(t *testing.T) {
		p := NewWorkerPool(1, 4, time.Millisecond, nil)
		p.Start()
		defer p.Stop()

		var attempts int32
		failed := make(chan error, 1)
		require.NoError(t, p.Submit(Task{
			Name:      "once",
			Run:       func(context.Context) error { atomic.AddInt32(&attempts, 1); return errors.New("nope") },
			OnFailure: func(err error) { failed <- err },
		}))

		<-failed
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("cancelled context skips run", func(t *testing.T) {
		p := NewWorkerPool(1, 4, time.Millisecond, nil)
		p.Start()
		defer p.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		failed := make(chan error, 1)
		var ran int32
		require.NoError(t, p.Submit(Task{
			Name:      "cancelled",
			Ctx:       ctx,
			Run:       func(context.Context) error { atomic.AddInt32(&ran, 1); return nil },
			OnFailure: func(err error) { failed <- err },
		}))

		assert.ErrorIs(t, <-failed, context.Canceled)
		assert.Zero(t, atomic.LoadInt32(&ran))
	})

	t.Run("queue full", func(t *testing.T) {
		p := NewWorkerPool(1, 1, time.Millisecond, nil)
		// not started: the single slot stays occupied
		require.NoError(t, p.Submit(Task{Name: "first", Run: func(context.Context) error { return nil }}))
		assert.ErrorIs(t, p.Submit(Task{Name: "second"}), ErrQueueFull)
	})

	t.Run("stop fails pending tasks", func(t *testing.T) {
		p := NewWorkerPool(1, 2, time.Millisecond, nil)
		failed := make(chan error, 1)
		require.NoError(t, p.Submit(Task{Name: "stranded", OnFailure: func(err error) { failed <- err }}))

		p.Stop()

		assert.ErrorIs(t, <-failed, ErrPoolStopped)
		assert.ErrorIs(t, p.Submit(Task{Name: "late"}), ErrPoolStopped)
	})
	t.Run("every accepted task settles when stop races submit", func(t *testing.T) {
		for round := 0; round < 50; round++ {
			p := NewWorkerPool(1, 64, time.Millisecond, nil)
			p.Start()

			var accepted, settled int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 8; j++ {
						err := p.Submit(Task{
							Name:      "racing",
							Run:       func(context.Context) error { atomic.AddInt32(&settled, 1); return nil },
							OnFailure: func(error) { atomic.AddInt32(&settled, 1) },
						})
						if err == nil {
							atomic.AddInt32(&accepted, 1)
						}
					}
				}()
			}
			p.Stop()
			wg.Wait()

			require.Equal(t, atomic.LoadInt32(&accepted), atomic.LoadInt32(&settled), "round %d", round)
		}
	})
}
