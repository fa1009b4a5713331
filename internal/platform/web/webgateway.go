package web

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-dispatch/notificationservice/config"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

// maxPayloadSize keeps the encrypted record under the 4KB push service limit.
const maxPayloadSize = 3993

// ErrInvalidSubscription is returned when a token does not hold a usable
// browser subscription.
var ErrInvalidSubscription = errors.New("invalid web push subscription")

// Gateway delivers to browser push services using VAPID. Web push has no
// multicast endpoint so each subscription is a separate request.
type Gateway struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	icon       string
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

type Option func(*Gateway)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(g *Gateway) { g.httpClient = c }
}

func NewGateway(cfg config.VapidConfig, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        60,
		icon:       "/assets/icons/icon-192x192.png",
		logger:     logger.With("component", "WebPushGateway"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Name() string { return "web" }

func (g *Gateway) Platform() notification.Platform { return notification.PlatformWeb }

// EncodeSubscription turns a browser subscription into the opaque token
// stored for the web platform.
func EncodeSubscription(sub webpush.Subscription) (notification.RecipientToken, error) {
	if err := validateSubscription(sub); err != nil {
		return "", err
	}
	b, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("failed to encode subscription: %w", err)
	}
	return notification.RecipientToken(b), nil
}

// DecodeSubscription is the inverse of EncodeSubscription.
func DecodeSubscription(token notification.RecipientToken) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	if err := validateSubscription(sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func validateSubscription(sub webpush.Subscription) error {
	if !strings.HasPrefix(sub.Endpoint, "https://") && !strings.HasPrefix(sub.Endpoint, "http://") {
		return fmt.Errorf("%w: endpoint must be an http(s) url", ErrInvalidSubscription)
	}
	if sub.Keys.Auth == "" {
		return fmt.Errorf("%w: missing auth secret", ErrInvalidSubscription)
	}
	raw, err := decodeKey(sub.Keys.P256dh)
	if err != nil {
		return fmt.Errorf("%w: p256dh: %v", ErrInvalidSubscription, err)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return fmt.Errorf("%w: p256dh: %v", ErrInvalidSubscription, err)
	}
	return nil
}

// Browsers hand out url-safe keys, some clients re-pad them.
func decodeKey(key string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(key); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(key); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(key)
}

// SendMulticast posts to each subscription in turn. If ctx ends before every
// subscription is reached the whole call fails with a request timeout.
func (g *Gateway) SendMulticast(ctx context.Context, msg notification.Multicast) (*notification.BatchOutcome, error) {
	notif := map[string]string{
		"title": msg.Title,
		"body":  msg.Body,
		"icon":  g.icon,
	}
	if msg.ImageURL != "" {
		notif["image"] = msg.ImageURL
	}
	payloadBytes, err := json.Marshal(map[string]any{
		"notification": notif,
		"data":         msg.Data,
	})
	if err != nil {
		return nil, providererr.NewClassifiedError(providererr.CodeInvalidParameters,
			fmt.Errorf("failed to marshal payload: %w", err))
	}

	outcome := &notification.BatchOutcome{
		Results: make([]notification.RecipientOutcome, len(msg.Tokens)),
	}
	if len(payloadBytes) > maxPayloadSize {
		for i := range outcome.Results {
			outcome.Results[i] = notification.RecipientOutcome{FailureCode: providererr.CodePayloadTooLarge}
		}
		outcome.FailureCount = len(msg.Tokens)
		return outcome, nil
	}

	for i, token := range msg.Tokens {
		if err := ctx.Err(); err != nil {
			return nil, batchTimeout(i, len(msg.Tokens), err)
		}
		res, err := g.sendOne(ctx, payloadBytes, token)
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

// sendOne returns an error only when ctx ended during the request.
func (g *Gateway) sendOne(ctx context.Context, payload []byte, token notification.RecipientToken) (notification.RecipientOutcome, error) {
	sub, err := DecodeSubscription(token)
	if err != nil {
		g.logger.Warn("Undecodable web push subscription", "token", token.Redacted(), "err", err)
		return notification.RecipientOutcome{FailureCode: providererr.CodeInvalidRegistration}, nil
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      g.subscriber,
		VAPIDPublicKey:  g.publicKey,
		VAPIDPrivateKey: g.privateKey,
		TTL:             g.ttl,
		HTTPClient:      g.httpClient,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return notification.RecipientOutcome{}, ctxErr
		}
		g.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return notification.RecipientOutcome{FailureCode: providererr.CodeRequestTimeout}, nil
		}
		return notification.RecipientOutcome{FailureCode: providererr.CodeProviderUnavailable}, nil
	}
	defer resp.Body.Close()

	code := StatusFailureCode(resp.StatusCode)
	if code == 0 {
		return notification.RecipientOutcome{Successful: true}, nil
	}
	g.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
	return notification.RecipientOutcome{FailureCode: code}, nil
}

func batchTimeout(sent, total int, err error) error {
	return providererr.NewClassifiedError(providererr.CodeRequestTimeout,
		fmt.Errorf("web push batch interrupted after %d of %d subscriptions: %w", sent, total, err))
}

// StatusFailureCode maps a push service response status onto a providererr
// code. Zero means the push was accepted.
func StatusFailureCode(status int) int {
	switch {
	case status == http.StatusCreated, status == http.StatusOK, status == http.StatusAccepted:
		return 0
	case status == http.StatusNotFound, status == http.StatusGone:
		return providererr.CodeUnregistered
	case status == http.StatusBadRequest:
		return providererr.CodeInvalidParameters
	case status == http.StatusRequestEntityTooLarge:
		return providererr.CodePayloadTooLarge
	case status == http.StatusTooManyRequests:
		return providererr.CodeQuotaExceeded
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return providererr.CodeInvalidCredentials
	case status >= 500:
		return providererr.CodeProviderUnavailable
	default:
		return providererr.CodeUnknown
	}
}
