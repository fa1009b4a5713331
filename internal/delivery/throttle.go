package delivery

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pkg/providererr"
)

// ThrottledGateway limits the rate of multicast calls to a gateway. A call
// that cannot get a token before its deadline fails as a provider timeout.
type ThrottledGateway struct {
	dispatch.GatewayClient
	limiter *rate.Limiter
}

// NewThrottledGateway wraps gw with a token bucket of perSecond calls and the
// given burst. A non-positive perSecond returns gw unchanged.
func NewThrottledGateway(gw dispatch.GatewayClient, perSecond float64, burst int) dispatch.GatewayClient {
	if perSecond <= 0 {
		return gw
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledGateway{
		GatewayClient: gw,
		limiter:       rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// SendMulticast waits for the limiter, then delegates.
func (g *ThrottledGateway) SendMulticast(ctx context.Context, msg notification.Multicast) (*notification.BatchOutcome, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, providererr.NewClassifiedError(providererr.CodeRequestTimeout,
			fmt.Errorf("%s rate limiter: %w", g.Name(), err))
	}
	return g.GatewayClient.SendMulticast(ctx, msg)
}
