package delivery_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/delivery"
)

func TestWorkerPool(t *testing.T) {
	logger := newTestLogger()

	t.Run("Runs submitted tasks and drains on shutdown", func(t *testing.T) {
		pool := delivery.NewWorkerPool(3, 10, logger)
		var ran atomic.Int32
		for i := 0; i < 10; i++ {
			require.True(t, pool.Submit(func() { ran.Add(1) }))
		}

		require.NoError(t, pool.Shutdown(context.Background()))
		assert.Equal(t, int32(10), ran.Load())
	})

	t.Run("Rejects work after shutdown", func(t *testing.T) {
		pool := delivery.NewWorkerPool(1, 1, logger)
		require.NoError(t, pool.Shutdown(context.Background()))

		assert.False(t, pool.Submit(func() {}))
		assert.ErrorIs(t, pool.Shutdown(context.Background()), delivery.ErrPoolClosed)
	})

	t.Run("A panicking task does not kill its worker", func(t *testing.T) {
		pool := delivery.NewWorkerPool(1, 2, logger)
		done := make(chan struct{})

		require.True(t, pool.Submit(func() { panic("boom") }))
		require.True(t, pool.Submit(func() { close(done) }))

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not survive the panic")
		}
		require.NoError(t, pool.Shutdown(context.Background()))
	})

	t.Run("Shutdown honours its deadline", func(t *testing.T) {
		pool := delivery.NewWorkerPool(1, 1, logger)
		release := make(chan struct{})
		require.True(t, pool.Submit(func() { <-release }))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
		close(release)
	})
}
