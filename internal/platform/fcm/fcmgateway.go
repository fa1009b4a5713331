// --- File: internal/platform/fcm/fcmgateway.go ---
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Gateway sends multicasts through Firebase Cloud Messaging.
type Gateway struct {
	client MessagingClient
	icon   string
	logger *slog.Logger
}

// NewGateway accepts the concrete client but stores it as the interface.
func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		icon:   "/assets/icons/icon-192x192.png",
		logger: logger.With("component", "FCMGateway"),
	}
}

func (g *Gateway) Name() string { return "fcm" }

func (g *Gateway) Platform() notification.Platform { return notification.PlatformFCM }

// SendMulticast sends one FCM multicast. Per-token errors are mapped onto
// providererr codes; a failed call is returned as a ClassifiedError.
func (g *Gateway) SendMulticast(ctx context.Context, msg notification.Multicast) (*notification.BatchOutcome, error) {
	tokens := make([]string, len(msg.Tokens))
	for i, t := range msg.Tokens {
		tokens[i] = string(t)
	}

	fcmMsg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title:    msg.Title,
			Body:     msg.Body,
			ImageURL: msg.ImageURL,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  g.icon,
				Image: msg.ImageURL,
			},
		},
	}
	if len(msg.Data) > 0 {
		fcmMsg.Data = msg.Data
	}

	br, err := g.client.SendEachForMulticast(ctx, fcmMsg)
	if err != nil {
		code := FailureCode(err)
		if errors.Is(err, context.DeadlineExceeded) {
			code = providererr.CodeRequestTimeout
		}
		return nil, providererr.NewClassifiedError(code, fmt.Errorf("fcm transport failed: %w", err))
	}

	outcome := &notification.BatchOutcome{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Results:      make([]notification.RecipientOutcome, len(br.Responses)),
	}
	for idx, resp := range br.Responses {
		if resp == nil {
			outcome.Results[idx] = notification.RecipientOutcome{FailureCode: providererr.CodeUnknown}
			continue
		}
		if resp.Success {
			outcome.Results[idx] = notification.RecipientOutcome{Successful: true}
			continue
		}
		outcome.Results[idx] = notification.RecipientOutcome{FailureCode: FailureCode(resp.Error)}
	}

	g.logger.Debug("FCM multicast sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return outcome, nil
}

// FailureCode maps a Firebase messaging error onto a providererr code.
func FailureCode(err error) int {
	switch {
	case err == nil:
		return 0
	case messaging.IsUnregistered(err):
		return providererr.CodeUnregistered
	case messaging.IsSenderIDMismatch(err):
		return providererr.CodeSenderIDMismatch
	case messaging.IsInvalidArgument(err):
		return providererr.CodeInvalidRegistration
	case messaging.IsQuotaExceeded(err):
		return providererr.CodeQuotaExceeded
	case messaging.IsThirdPartyAuthError(err):
		return providererr.CodeThirdPartyAuth
	case messaging.IsUnavailable(err):
		return providererr.CodeProviderUnavailable
	case messaging.IsInternal(err):
		return providererr.CodeProviderInternal
	default:
		return providererr.CodeUnknown
	}
}
