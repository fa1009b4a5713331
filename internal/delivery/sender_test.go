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
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

func TestSender_Send(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	cmd := notification.Command{Title: "New meme", Body: "Check it out"}

	t.Run("Empty recipients short-circuits without calling the gateway", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)

		result := sender.Send(ctx, cmd, nil)

		assert.Equal(t, notification.SendResult{}, result)
		gw.AssertNotCalled(t, "SendMulticast", mock.Anything, mock.Anything)
	})

	t.Run("Only permanently invalid failures are reported as invalid", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)
		recipients := tokens("t1", "t2", "t3", "t4", "t5")

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(&notification.BatchOutcome{
			SuccessCount: 3,
			FailureCount: 2,
			Results: []notification.RecipientOutcome{
				{Successful: true},
				{Successful: false, FailureCode: providererr.CodeUnregistered},
				{Successful: true},
				{Successful: false, FailureCode: providererr.CodeSenderIDMismatch},
				{Successful: true},
			},
		}, nil)

		result := sender.Send(ctx, cmd, recipients)

		assert.Equal(t, 3, result.SuccessCount)
		assert.Equal(t, 2, result.FailureCount)
		assert.ElementsMatch(t, tokens("t2", "t4"), result.InvalidTokens)
		gw.AssertNumberOfCalls(t, "SendMulticast", 1)
	})

	t.Run("Transient failures count but are not invalid", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)
		recipients := tokens("t1", "t2", "t3")

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(&notification.BatchOutcome{
			SuccessCount: 0,
			FailureCount: 3,
			Results: []notification.RecipientOutcome{
				{FailureCode: providererr.CodeQuotaExceeded},
				{FailureCode: providererr.CodeInvalidRegistration},
				{FailureCode: 0},
			},
		}, nil)

		result := sender.Send(ctx, cmd, recipients)

		assert.Equal(t, 0, result.SuccessCount)
		assert.Equal(t, 3, result.FailureCount)
		assert.Equal(t, tokens("t2"), result.InvalidTokens)
	})

	t.Run("Counts are taken from the batch, not recomputed", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(&notification.BatchOutcome{
			SuccessCount: 1,
			FailureCount: 1,
			Results: []notification.RecipientOutcome{
				{Successful: true},
				{FailureCode: providererr.CodeProviderUnavailable},
			},
		}, nil)

		result := sender.Send(ctx, cmd, tokens("a", "b"))

		assert.Equal(t, 1, result.SuccessCount)
		assert.Equal(t, 1, result.FailureCount)
		assert.Empty(t, result.InvalidTokens)
	})

	t.Run("Transport failure reports every recipient failed and none invalid", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(nil, errors.New("network down"))

		result := sender.Send(ctx, cmd, tokens("t1", "t2", "t3", "t4"))

		assert.Equal(t, notification.SendResult{SuccessCount: 0, FailureCount: 4}, result)
	})

	t.Run("Classified transport failure is absorbed", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)

		gw.On("SendMulticast", mock.Anything, mock.Anything).
			Return(nil, providererr.NewClassifiedError(providererr.CodeThirdPartyAuth, errors.New("bad key")))

		result := sender.Send(ctx, cmd, tokens("t1"))

		assert.Equal(t, notification.TransportFailure(1), result)
	})

	t.Run("Gateway call is bounded by the timeout", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, 20*time.Millisecond, logger)

		gw.On("SendMulticast", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		start := time.Now()
		result := sender.Send(ctx, cmd, tokens("t1", "t2"))

		assert.Equal(t, notification.TransportFailure(2), result)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("Misaligned outcome only classifies the overlapping prefix", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(&notification.BatchOutcome{
			SuccessCount: 0,
			FailureCount: 3,
			Results: []notification.RecipientOutcome{
				{FailureCode: providererr.CodeUnregistered},
			},
		}, nil)

		result := sender.Send(ctx, cmd, tokens("t1", "t2", "t3"))

		assert.Equal(t, tokens("t1"), result.InvalidTokens)
		assert.Equal(t, 3, result.FailureCount)
	})

	t.Run("Duplicate recipients yield one invalid token", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)

		gw.On("SendMulticast", mock.Anything, mock.Anything).Return(&notification.BatchOutcome{
			FailureCount: 2,
			Results: []notification.RecipientOutcome{
				{FailureCode: providererr.CodeUnregistered},
				{FailureCode: providererr.CodeUnregistered},
			},
		}, nil)

		result := sender.Send(ctx, cmd, tokens("dup", "dup"))

		assert.Equal(t, tokens("dup"), result.InvalidTokens)
	})
}

func TestSender_BuildsMulticast(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	ok := &notification.BatchOutcome{SuccessCount: 1, Results: []notification.RecipientOutcome{{Successful: true}}}

	t.Run("Image and data attached when present", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)
		cmd := notification.Command{
			Title:    "New meme",
			Body:     "Check it out",
			ImageURL: "https://x/y.png",
			Data:     map[string]string{"meme_id": "42", "deep_link": "/memes/42"},
		}

		gw.On("SendMulticast", mock.Anything, mock.MatchedBy(func(msg notification.Multicast) bool {
			return msg.Title == "New meme" &&
				msg.Body == "Check it out" &&
				msg.ImageURL == "https://x/y.png" &&
				msg.Data["meme_id"] == "42" &&
				msg.Data["deep_link"] == "/memes/42" &&
				len(msg.Tokens) == 1 && msg.Tokens[0] == "t1"
		})).Return(ok, nil)

		sender.Send(ctx, cmd, tokens("t1"))
		gw.AssertExpectations(t)
	})

	t.Run("Image and data omitted when empty", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)
		cmd := notification.Command{Title: "T", Body: "B", Data: map[string]string{}}

		gw.On("SendMulticast", mock.Anything, mock.MatchedBy(func(msg notification.Multicast) bool {
			return msg.ImageURL == "" && msg.Data == nil
		})).Return(ok, nil)

		sender.Send(ctx, cmd, tokens("t1"))
		gw.AssertExpectations(t)
	})

	t.Run("Gateway receives a copy of the data map", func(t *testing.T) {
		gw := new(mockGateway)
		sender := delivery.NewSender(gw, time.Second, logger)
		data := map[string]string{"k": "v"}

		gw.On("SendMulticast", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(1).(notification.Multicast).Data["k"] = "mutated"
			}).
			Return(ok, nil)

		sender.Send(ctx, notification.Command{Title: "T", Body: "B", Data: data}, tokens("t1"))
		require.Equal(t, "v", data["k"])
	})
}
