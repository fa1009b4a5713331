// Package delivery holds the dispatch core: the Sender that reduces a gateway
// response into a SendResult and the Coordinator that runs sends in the
// background and prunes dead recipients.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

// DefaultGatewayTimeout bounds a single multicast call.
const DefaultGatewayTimeout = 10 * time.Second

// invalidRecipientCodes are the provider codes proving a token is dead:
// malformed, unregistered, or owned by another sender.
var invalidRecipientCodes = map[int]struct{}{
	providererr.CodeInvalidRegistration: {},
	providererr.CodeUnregistered:        {},
	providererr.CodeSenderIDMismatch:    {},
}

// Sender is the dispatch.Sender bound to one push gateway.
type Sender struct {
	gateway dispatch.GatewayClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewSender creates a Sender. A non-positive timeout uses DefaultGatewayTimeout.
func NewSender(gateway dispatch.GatewayClient, timeout time.Duration, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	return &Sender{
		gateway: gateway,
		timeout: timeout,
		logger:  logger.With("component", "Sender", "gateway", gateway.Name()),
	}
}

// Gateway returns the gateway this sender is bound to.
func (s *Sender) Gateway() dispatch.GatewayClient {
	return s.gateway
}

// Send calls the gateway exactly once and never returns an error: a failed
// call is reported as a transport failure of every recipient.
func (s *Sender) Send(ctx context.Context, cmd notification.Command, recipients []notification.RecipientToken) notification.SendResult {
	if len(recipients) == 0 {
		return notification.SendResult{}
	}

	name := s.gateway.Name()
	msg := buildMulticast(cmd, recipients)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	outcome, err := s.gateway.SendMulticast(callCtx, msg)
	if err == nil && outcome == nil {
		err = errors.New("gateway returned no outcome")
	}
	if err != nil {
		metrics.ObserveSend(name, false, start)
		s.logTransportFailure(err, len(recipients))
		return notification.TransportFailure(len(recipients))
	}
	metrics.ObserveSend(name, true, start)

	result := s.reduce(outcome, recipients)

	metrics.RecipientOutcomes.WithLabelValues(name, "success").Add(float64(result.SuccessCount))
	metrics.RecipientOutcomes.WithLabelValues(name, "failure").Add(float64(result.FailureCount))
	metrics.RecipientOutcomes.WithLabelValues(name, "invalid").Add(float64(len(result.InvalidTokens)))
	return result
}

// reduce pairs outcome i with recipient i. Counts come from the batch itself.
func (s *Sender) reduce(outcome *notification.BatchOutcome, recipients []notification.RecipientToken) notification.SendResult {
	result := notification.SendResult{
		SuccessCount: outcome.SuccessCount,
		FailureCount: outcome.FailureCount,
	}

	n := len(outcome.Results)
	if n != len(recipients) {
		s.logger.Warn("Gateway outcome not aligned with recipients",
			"recipients", len(recipients), "results", n)
		n = min(n, len(recipients))
	}

	seen := make(map[notification.RecipientToken]struct{})
	transient := make(map[providererr.Category]int)
	for i := 0; i < n; i++ {
		res := outcome.Results[i]
		if res.Successful {
			continue
		}
		code := providererr.Classify(res.FailureCode)
		if _, dead := invalidRecipientCodes[code.Code]; !dead {
			transient[code.Category]++
			continue
		}
		token := recipients[i]
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		result.InvalidTokens = append(result.InvalidTokens, token)
	}

	if len(transient) > 0 {
		s.logger.Info("Gateway reported non-fatal recipient failures", "by_category", fmt.Sprint(transient))
	}
	return result
}

func (s *Sender) logTransportFailure(err error, recipients int) {
	category := providererr.CategoryServerError
	retryable := false

	var ce *providererr.ClassifiedError
	if errors.As(err, &ce) {
		category = ce.Category
		retryable = ce.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		category = providererr.CategoryTimeout
		retryable = true
	}

	metrics.TransportFailures.WithLabelValues(s.gateway.Name(), string(category)).Inc()
	s.logger.Error("Gateway transport failed",
		"recipients", recipients,
		"category", category,
		"retryable", retryable,
		"err", err,
	)
}

func buildMulticast(cmd notification.Command, recipients []notification.RecipientToken) notification.Multicast {
	msg := notification.Multicast{
		Tokens: append([]notification.RecipientToken(nil), recipients...),
		Title:  cmd.Title,
		Body:   cmd.Body,
	}
	if cmd.ImageURL != "" {
		msg.ImageURL = cmd.ImageURL
	}
	if len(cmd.Data) > 0 {
		msg.Data = maps.Clone(cmd.Data)
	}
	return msg
}
