package delivery_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string                    { return "mock-gateway" }
func (m *mockGateway) Platform() notification.Platform { return notification.PlatformFCM }

func (m *mockGateway) SendMulticast(ctx context.Context, msg notification.Multicast) (*notification.BatchOutcome, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notification.BatchOutcome), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, cmd notification.Command, recipients []notification.RecipientToken) notification.SendResult {
	args := m.Called(ctx, cmd, recipients)
	return args.Get(0).(notification.SendResult)
}

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) Delete(ctx context.Context, token notification.RecipientToken) error {
	return m.Called(ctx, token).Error(0)
}

func tokens(values ...string) []notification.RecipientToken {
	out := make([]notification.RecipientToken, len(values))
	for i, v := range values {
		out[i] = notification.RecipientToken(v)
	}
	return out
}
