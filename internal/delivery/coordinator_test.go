package delivery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/delivery"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/sqlite"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

func newPool(t *testing.T, workers, queue int) *delivery.WorkerPool {
	t.Helper()
	pool := delivery.NewWorkerPool(workers, queue, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func waitReport(t *testing.T, reports <-chan delivery.Report) delivery.Report {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not complete")
		return delivery.Report{}
	}
}

func TestCoordinator_Dispatch(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Empty recipients never reach the sender", func(t *testing.T) {
		sender := new(mockSender)
		pruner := new(mockPruner)
		coord := delivery.NewCoordinator("test", sender, pruner, newPool(t, 1, 1), logger)

		coord.Dispatch(ctx, notification.Command{Title: "T", Body: "B"}, nil)
		coord.Dispatch(ctx, notification.Command{Title: "T", Body: "B"}, []notification.RecipientToken{})

		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		pruner.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("Unregistered recipient is pruned after delivery", func(t *testing.T) {
		gw := new(mockGateway)
		store, err := sqlite.Open(":memory:", logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		for _, tok := range tokens("token_1", "token_2", "token_3") {
			require.NoError(t, store.Register(ctx, notification.Recipient{Token: tok, Platform: notification.PlatformFCM}))
		}
		reports := make(chan delivery.Report, 1)
		coord := delivery.NewCoordinator("test",
			delivery.NewSender(gw, time.Second, logger),
			store,
			newPool(t, 2, 4),
			logger,
			delivery.WithCompletionHook(func(r delivery.Report) { reports <- r }),
		)

		cmd := notification.Command{
			Title:    "New meme",
			Body:     "Check it out",
			ImageURL: "https://x/y.png",
			Data:     map[string]string{"meme_id": "42", "deep_link": "/memes/42"},
		}
		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(&notification.BatchOutcome{
			SuccessCount: 2,
			FailureCount: 1,
			Results: []notification.RecipientOutcome{
				{Successful: true},
				{FailureCode: providererr.CodeUnregistered},
				{Successful: true},
			},
		}, nil)

		coord.Dispatch(ctx, cmd, tokens("token_1", "token_2", "token_3"))
		report := waitReport(t, reports)

		assert.Equal(t, notification.SendResult{
			SuccessCount:  2,
			FailureCount:  1,
			InvalidTokens: tokens("token_2"),
		}, report.Result)
		assert.Equal(t, 1, report.Pruned)
		assert.NotEmpty(t, report.DispatchID)

		remaining, err := store.List(ctx)
		require.NoError(t, err)
		var left []notification.RecipientToken
		for _, r := range remaining {
			left = append(left, r.Token)
		}
		assert.Equal(t, tokens("token_1", "token_3"), left)
	})

	t.Run("Transport failure attempts no deletions", func(t *testing.T) {
		gw := new(mockGateway)
		pruner := new(mockPruner)
		reports := make(chan delivery.Report, 1)
		coord := delivery.NewCoordinator("test",
			delivery.NewSender(gw, time.Second, logger),
			pruner,
			newPool(t, 1, 1),
			logger,
			delivery.WithCompletionHook(func(r delivery.Report) { reports <- r }),
		)

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

		coord.Dispatch(ctx, notification.Command{Title: "T", Body: "B"}, tokens("a", "b", "c", "d"))
		report := waitReport(t, reports)

		assert.Equal(t, notification.TransportFailure(4), report.Result)
		pruner.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("One failed deletion does not stop the others", func(t *testing.T) {
		sender := new(mockSender)
		pruner := new(mockPruner)
		reports := make(chan delivery.Report, 1)
		coord := delivery.NewCoordinator("test", sender, pruner, newPool(t, 1, 1), logger,
			delivery.WithCompletionHook(func(r delivery.Report) { reports <- r }))

		sender.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(notification.SendResult{
			FailureCount:  3,
			InvalidTokens: tokens("x", "y", "z"),
		})
		pruner.On("Delete", mock.Anything, notification.RecipientToken("x")).Return(errors.New("store offline"))
		pruner.On("Delete", mock.Anything, notification.RecipientToken("y")).Panic("driver bug")
		pruner.On("Delete", mock.Anything, notification.RecipientToken("z")).Return(nil)

		coord.Dispatch(ctx, notification.Command{Title: "T", Body: "B"}, tokens("x", "y", "z"))
		report := waitReport(t, reports)

		assert.Equal(t, 1, report.Pruned)
		assert.Equal(t, 2, report.PruneFailures)
		assert.Equal(t, 3, report.Result.FailureCount)
		pruner.AssertNumberOfCalls(t, "Delete", 3)
	})

	t.Run("Caller returns before the send completes", func(t *testing.T) {
		sender := new(mockSender)
		release := make(chan struct{})
		reports := make(chan delivery.Report, 1)
		coord := delivery.NewCoordinator("test", sender, new(mockPruner), newPool(t, 1, 1), logger,
			delivery.WithCompletionHook(func(r delivery.Report) { reports <- r }))

		sender.On("Send", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(notification.SendResult{SuccessCount: 1})

		returned := make(chan struct{})
		go func() {
			coord.Dispatch(ctx, notification.Command{Title: "T", Body: "B"}, tokens("a"))
			close(returned)
		}()

		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("Dispatch blocked on delivery")
		}
		close(release)
		assert.Equal(t, 1, waitReport(t, reports).Result.SuccessCount)
	})

	t.Run("Cancelling the caller context does not cancel the send", func(t *testing.T) {
		sender := new(mockSender)
		reports := make(chan delivery.Report, 1)
		coord := delivery.NewCoordinator("test", sender, new(mockPruner), newPool(t, 1, 1), logger,
			delivery.WithCompletionHook(func(r delivery.Report) { reports <- r }))

		reqCtx, cancel := context.WithCancel(ctx)
		started := make(chan struct{})
		sender.On("Send", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-started
				assert.NoError(t, args.Get(0).(context.Context).Err())
			}).
			Return(notification.SendResult{SuccessCount: 1})

		coord.Dispatch(reqCtx, notification.Command{Title: "T", Body: "B"}, tokens("a"))
		cancel()
		close(started)

		waitReport(t, reports)
	})

	t.Run("Saturated pool drops the dispatch", func(t *testing.T) {
		sender := new(mockSender)
		started := make(chan struct{}, 1)
		release := make(chan struct{})
		reports := make(chan delivery.Report, 3)
		coord := delivery.NewCoordinator("test", sender, new(mockPruner), newPool(t, 1, 1), logger,
			delivery.WithCompletionHook(func(r delivery.Report) { reports <- r }))

		sender.On("Send", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				select {
				case started <- struct{}{}:
				default:
				}
				<-release
			}).
			Return(notification.SendResult{SuccessCount: 1})

		cmd := notification.Command{Title: "T", Body: "B"}
		coord.Dispatch(ctx, cmd, tokens("first"))
		<-started // the single worker is busy
		coord.Dispatch(ctx, cmd, tokens("queued"))
		coord.Dispatch(ctx, cmd, tokens("dropped"))
		close(release)

		waitReport(t, reports)
		waitReport(t, reports)
		require.Never(t, func() bool { return len(reports) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
		sender.AssertNumberOfCalls(t, "Send", 2)
	})
}
