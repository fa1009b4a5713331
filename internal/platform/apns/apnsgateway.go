// Package apns provides the gateway for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Gateway struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.memes)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Sandbox routes pushes to the development environment.
	Sandbox bool
}

// NewGateway creates a configured APNs gateway.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return newGateway(client, cfg.BundleID, logger), nil
}

func newGateway(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSGateway"),
	}
}

func (g *Gateway) Name() string { return "apns" }

func (g *Gateway) Platform() notification.Platform { return notification.PlatformAPNS }

// SendMulticast pushes to each device token in turn.
// The APNs HTTP/2 API is unary (one request per token); there is no multicast endpoint.
// If ctx ends before every token is pushed the whole call fails with a
// request timeout and no partial outcome is returned.
func (g *Gateway) SendMulticast(ctx context.Context, msg notification.Multicast) (*notification.BatchOutcome, error) {
	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body).
		Sound("default")
	if msg.ImageURL != "" {
		builder.MutableContent().Custom("image_url", msg.ImageURL)
	}
	for k, v := range msg.Data {
		builder.Custom(k, v)
	}

	outcome := &notification.BatchOutcome{
		Results: make([]notification.RecipientOutcome, len(msg.Tokens)),
	}
	for i, deviceToken := range msg.Tokens {
		if err := ctx.Err(); err != nil {
			return nil, batchTimeout(i, len(msg.Tokens), err)
		}
		res, err := g.pushOne(ctx, builder, deviceToken)
		if err != nil {
			return nil, batchTimeout(i, len(msg.Tokens), err)
		}
		outcome.Results[i] = res
		if res.Successful {
			outcome.SuccessCount++
		} else {
			outcome.FailureCount++
		}
	}
	return outcome, nil
}

// pushOne returns an error only when ctx ended during the push.
func (g *Gateway) pushOne(ctx context.Context, p *payload.Payload, deviceToken notification.RecipientToken) (notification.RecipientOutcome, error) {
	res, err := g.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: string(deviceToken),
		Topic:       g.topic,
		Payload:     p,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return notification.RecipientOutcome{}, ctxErr
		}
		g.logger.Error("APNs transport failed", "token", deviceToken.Redacted(), "err", err)
		return notification.RecipientOutcome{FailureCode: providererr.CodeProviderUnavailable}, nil
	}
	if res.Sent() {
		return notification.RecipientOutcome{Successful: true}, nil
	}

	code := ReasonFailureCode(res.Reason)
	g.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode, "code", code)
	return notification.RecipientOutcome{FailureCode: code}, nil
}

func batchTimeout(sent, total int, err error) error {
	return providererr.NewClassifiedError(providererr.CodeRequestTimeout,
		fmt.Errorf("apns batch interrupted after %d of %d tokens: %w", sent, total, err))
}

// ReasonFailureCode maps an APNs rejection reason onto a providererr code.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func ReasonFailureCode(reason string) int {
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonMissingDeviceToken:
		return providererr.CodeInvalidRegistration
	case apns2.ReasonUnregistered, "ExpiredToken":
		return providererr.CodeUnregistered
	case apns2.ReasonDeviceTokenNotForTopic:
		return providererr.CodeSenderIDMismatch
	case apns2.ReasonTopicDisallowed, apns2.ReasonBadTopic:
		return providererr.CodeTopicDisallowed
	case apns2.ReasonPayloadTooLarge:
		return providererr.CodePayloadTooLarge
	case apns2.ReasonTooManyRequests:
		return providererr.CodeDeviceRateExceeded
	case apns2.ReasonMissingProviderToken, apns2.ReasonInvalidProviderToken,
		apns2.ReasonExpiredProviderToken, apns2.ReasonForbidden:
		return providererr.CodeThirdPartyAuth
	case apns2.ReasonInternalServerError:
		return providererr.CodeProviderInternal
	case apns2.ReasonServiceUnavailable, apns2.ReasonShutdown:
		return providererr.CodeProviderUnavailable
	default:
		return providererr.CodeUnknown
	}
}
