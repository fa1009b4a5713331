// --- File: cmd/notificationservice/runnotificationservice.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"

	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-dispatch/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/sqlite"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"

	"github.com/tinywideclouds/go-push-dispatch/notificationservice"
	"github.com/tinywideclouds/go-push-dispatch/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-dispatch")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Invalid embedded config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Recipient Store (Decorated) ---
	store, closeStore, err := newRecipientStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Recipient store failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedRecipientStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("RecipientStore upgraded", "type", "redis_cached_"+cfg.Store.Backend)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Gateways ---
	gateways, err := newGateways(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gateway setup failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer setup failed", "err", err)
		os.Exit(1)
	}

	service, err := notificationservice.New(cfg, consumer, gateways, store, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...", "gateways", len(gateways))
	if err := serveUntilDone(ctx, stop, service, 15*time.Second, logger); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

type lifecycle interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// serveUntilDone runs svc until ctx ends, then shuts it down. Start returns as
// soon as the HTTP server begins closing, so this waits for Shutdown to drain
// queued dispatches before the caller's deferred closes run.
func serveUntilDone(ctx context.Context, stop context.CancelFunc, svc lifecycle, grace time.Duration, logger *slog.Logger) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown incomplete", "err", err)
		}
	}()

	startErr := svc.Start(ctx)
	if errors.Is(startErr, http.ErrServerClosed) {
		startErr = nil
	}
	if startErr != nil {
		stop()
	}
	<-shutdownDone
	return startErr
}

func newRecipientStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.RecipientStore, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("RecipientStore initialized", "type", "sqlite", "path", cfg.Store.SQLitePath)
		return s, func() { _ = s.Close() }, nil
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("RecipientStore initialized", "type", "firestore")
		return fsStore.NewRecipientStore(fsClient, logger), func() { _ = fsClient.Close() }, nil
	}
}

func newGateways(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]dispatch.GatewayClient, error) {
	// A. Mobile (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	gateways := []dispatch.GatewayClient{fcm.NewGateway(fcmMessaging, logger)}

	// B. Web (VAPID), optional so mobile-only deployments still start.
	if cfg.Vapid.Enabled() {
		gateways = append(gateways, web.NewGateway(cfg.Vapid, logger))
		logger.Info("Web gateway enabled", "public_key", cfg.Vapid.PublicKey)
	} else {
		logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
	}

	// C. iOS (APNs)
	if cfg.APNS.Enabled() {
		keyContent := cfg.APNS.P8KeyContent
		if keyContent == "" {
			b, err := os.ReadFile(cfg.APNS.P8KeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read APNs key %s: %w", cfg.APNS.P8KeyPath, err)
			}
			keyContent = string(b)
		}
		gw, err := apns.NewGateway(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: keyContent,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
		logger.Info("APNs gateway enabled", "bundle_id", cfg.APNS.BundleID, "sandbox", cfg.APNS.Sandbox)
	}

	return gateways, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
