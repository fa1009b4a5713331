// --- File: notificationservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"

	defaultDispatchWorkers = 4
	defaultQueueSize       = 256
	defaultGatewayTimeout  = 10 * time.Second
	defaultCacheTTL        = 24 * time.Hour
	defaultSQLitePath      = "push_recipients.db"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Enabled reports whether both VAPID keys are present.
func (v VapidConfig) Enabled() bool {
	return v.PublicKey != "" && v.PrivateKey != ""
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyPath is read at startup when P8KeyContent is empty.
	P8KeyPath    string
	P8KeyContent string
	Sandbox      bool
}

// Enabled reports whether enough APNs credentials are present to sign tokens.
func (a APNSConfig) Enabled() bool {
	return a.KeyID != "" && a.TeamID != "" && a.BundleID != "" && (a.P8KeyContent != "" || a.P8KeyPath != "")
}

type StoreConfig struct {
	Backend    string
	SQLitePath string
}

// DispatchConfig sizes the delivery worker pools and gateway limits.
type DispatchConfig struct {
	Workers        int
	QueueSize      int
	GatewayTimeout time.Duration
	// RateLimit is the per-gateway multicast rate; zero disables throttling.
	RateLimit float64
	RateBurst int
}

type TriggerConfig struct {
	EntityKey      string
	DeepLinkPrefix string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	Store      StoreConfig
	Dispatch   DispatchConfig
	Trigger    TriggerConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_P8_KEY_PATH"); val != "" {
		cfg.APNS.P8KeyPath = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// Store Overrides
	if val := os.Getenv("STORE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORE_BACKEND", "source", "env")
		cfg.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("SQLITE_PATH"); val != "" {
		cfg.Store.SQLitePath = val
	}

	// Dispatch Overrides
	if val := os.Getenv("DISPATCH_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.Dispatch.Workers = workers
		}
	}
	if val := os.Getenv("DISPATCH_QUEUE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			cfg.Dispatch.QueueSize = size
		}
	}
	if val := os.Getenv("GATEWAY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.Dispatch.GatewayTimeout = d
		}
	}
	if val := os.Getenv("GATEWAY_RATE_LIMIT"); val != "" {
		if limit, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Dispatch.RateLimit = limit
		}
	}
	if val := os.Getenv("GATEWAY_RATE_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil {
			cfg.Dispatch.RateBurst = burst
		}
	}

	// Trigger Overrides
	if val := os.Getenv("TRIGGER_ENTITY_KEY"); val != "" {
		cfg.Trigger.EntityKey = val
	}
	if val := os.Getenv("TRIGGER_DEEP_LINK_PREFIX"); val != "" {
		cfg.Trigger.DeepLinkPrefix = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = StoreFirestore
	case StoreFirestore, StoreSQLite:
	default:
		return nil, fmt.Errorf("store backend %q is not one of %s, %s", cfg.Store.Backend, StoreFirestore, StoreSQLite)
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaultSQLitePath
	}

	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = defaultDispatchWorkers
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = defaultQueueSize
	}
	if cfg.Dispatch.GatewayTimeout <= 0 {
		cfg.Dispatch.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.Dispatch.RateLimit < 0 {
		return nil, fmt.Errorf("gateway rate limit must not be negative, got %v", cfg.Dispatch.RateLimit)
	}
	if cfg.Dispatch.RateLimit > 0 && cfg.Dispatch.RateBurst <= 0 {
		cfg.Dispatch.RateBurst = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = defaultCacheTTL
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
