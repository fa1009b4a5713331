// --- File: internal/platform/fcm/fcmgateway_test.go ---
package fcm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMGateway_SendMulticast(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)
		msg := notification.Multicast{
			Tokens:   []notification.RecipientToken{"token-1", "token-2"},
			Title:    "New meme",
			Body:     "Check it out",
			ImageURL: "https://x/y.png",
			Data:     map[string]string{"meme_id": "42"},
		}

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			FailureCount: 0,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return assert.ObjectsAreEqual([]string{"token-1", "token-2"}, m.Tokens) &&
				m.Notification.Title == "New meme" &&
				m.Notification.ImageURL == "https://x/y.png" &&
				m.Data["meme_id"] == "42"
		})).Return(mockResponse, nil)

		outcome, err := gateway.SendMulticast(ctx, msg)

		require.NoError(t, err)
		assert.Equal(t, 2, outcome.SuccessCount)
		assert.Equal(t, 0, outcome.FailureCount)
		assert.Equal(t, []notification.RecipientOutcome{{Successful: true}, {Successful: true}}, outcome.Results)
		mockClient.AssertExpectations(t)
	})

	t.Run("Per-token failures stay aligned with tokens", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return m.Data == nil
		})).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: false, Error: errors.New("opaque failure")},
				{Success: true},
			},
		}, nil)

		outcome, err := gateway.SendMulticast(ctx, notification.Multicast{
			Tokens: []notification.RecipientToken{"a", "b"},
			Title:  "T",
		})

		require.NoError(t, err)
		require.Len(t, outcome.Results, 2)
		assert.False(t, outcome.Results[0].Successful)
		assert.Equal(t, providererr.CodeUnknown, outcome.Results[0].FailureCode)
		assert.True(t, outcome.Results[1].Successful)
	})

	t.Run("Transport Failure is classified", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := gateway.SendMulticast(ctx, notification.Multicast{Tokens: []notification.RecipientToken{"t"}})

		var ce *providererr.ClassifiedError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, err.Error(), "transport failed")
		assert.Equal(t, providererr.CategoryServerError, ce.Category)
	})

	t.Run("Deadline is classified as a timeout", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).
			Return(nil, fmt.Errorf("post: %w", context.DeadlineExceeded))

		_, err := gateway.SendMulticast(ctx, notification.Multicast{Tokens: []notification.RecipientToken{"t"}})

		var ce *providererr.ClassifiedError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, providererr.CategoryTimeout, ce.Category)
		assert.True(t, providererr.IsRetryable(err))
	})

	// Note: We rely on the Integration Test to verify the specific parsing of
	// messaging.IsUnregistered errors, as mocking the internal error types
	// of the Firebase SDK is brittle.
}

func TestFailureCode_NilAndUnknown(t *testing.T) {
	assert.Equal(t, 0, fcm.FailureCode(nil))
	assert.Equal(t, providererr.CodeUnknown, fcm.FailureCode(errors.New("?")))
}
