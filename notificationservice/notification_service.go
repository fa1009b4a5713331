// --- File: notificationservice/notification_service.go ---
package notificationservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/delivery"
	"github.com/tinywideclouds/go-push-dispatch/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/internal/trigger"
	"github.com/tinywideclouds/go-push-dispatch/notificationservice/config"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[trigger.Content]
	pools           []*delivery.WorkerPool
	notifier        *trigger.ContentNotifier
	logger          *slog.Logger
}

// New assembles the service: one coordinator and worker pool per gateway,
// the content trigger shared by the pipeline and the API.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	gateways []dispatch.GatewayClient,
	store dispatch.RecipientStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
	coordinatorOpts ...delivery.Option,
) (*Wrapper, error) {
	if len(gateways) == 0 {
		return nil, errors.New("at least one push gateway is required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Delivery: gateway -> sender -> coordinator
	dispatchers := make(map[notification.Platform]dispatch.Dispatcher, len(gateways))
	pools := make([]*delivery.WorkerPool, 0, len(gateways))
	for _, gw := range gateways {
		if _, dup := dispatchers[gw.Platform()]; dup {
			return nil, fmt.Errorf("duplicate gateway for platform %q", gw.Platform())
		}
		throttled := delivery.NewThrottledGateway(gw, cfg.Dispatch.RateLimit, cfg.Dispatch.RateBurst)
		sender := delivery.NewSender(throttled, cfg.Dispatch.GatewayTimeout, logger)
		pool := delivery.NewWorkerPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, logger.With("gateway", gw.Name()))
		dispatchers[gw.Platform()] = delivery.NewCoordinator(gw.Name(), sender, store, pool, logger, coordinatorOpts...)
		pools = append(pools, pool)
		logger.Info("Push gateway enabled", "gateway", gw.Name(), "platform", gw.Platform())
	}

	// 3. Trigger
	notifier := trigger.NewContentNotifier(store, dispatchers, trigger.Config{
		EntityKey:      cfg.Trigger.EntityKey,
		DeepLinkPrefix: cfg.Trigger.DeepLinkPrefix,
	}, logger)

	// 4. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.ContentPublishedTransformer,
		pipeline.NewProcessor(notifier, logger),
		logger,
	)
	if err != nil {
		shutdownPools(context.Background(), pools, logger)
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 5. API
	recipientAPI := api.NewRecipientAPI(store, notifier, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/register/device", recipientAPI.RegisterDevice)
	handle("POST /api/v1/register/web", recipientAPI.RegisterWeb)
	handle("POST /api/v1/unregister", recipientAPI.Unregister)
	handle("POST /api/v1/notify", recipientAPI.Notify)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("GET /metrics", metrics.MetricsHandler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		pools:           pools,
		notifier:        notifier,
		logger:          logger,
	}, nil
}

// Notifier exposes the content trigger to in-process callers.
func (w *Wrapper) Notifier() *trigger.ContentNotifier {
	return w.notifier
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then drains queued dispatches.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if err := shutdownPools(ctx, w.pools, w.logger); err != nil {
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

func shutdownPools(ctx context.Context, pools []*delivery.WorkerPool, logger *slog.Logger) error {
	var finalErr error
	for _, p := range pools {
		if err := p.Shutdown(ctx); err != nil && !errors.Is(err, delivery.ErrPoolClosed) {
			logger.Error("Dispatch pool did not drain.", "err", err)
			finalErr = err
		}
	}
	return finalErr
}
