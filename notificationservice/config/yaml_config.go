// --- File: notificationservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyPath string `yaml:"p8_key_path"`
	Sandbox   bool   `yaml:"sandbox"`
}

type YamlStoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

type YamlDispatchConfig struct {
	Workers        int     `yaml:"workers"`
	QueueSize      int     `yaml:"queue_size"`
	GatewayTimeout string  `yaml:"gateway_timeout"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

type YamlTriggerConfig struct {
	EntityKey      string `yaml:"entity_key"`
	DeepLinkPrefix string `yaml:"deep_link_prefix"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig     `yaml:"apns"`
	StoreConfig            YamlStoreConfig    `yaml:"store"`
	DispatchConfig         YamlDispatchConfig `yaml:"dispatch"`
	TriggerConfig          YamlTriggerConfig  `yaml:"trigger"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	gatewayTimeout, err := parseOptionalDuration(baseCfg.DispatchConfig.GatewayTimeout)
	if err != nil {
		return nil, fmt.Errorf("dispatch.gateway_timeout: %w", err)
	}
	cacheTTL, err := parseOptionalDuration(baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, fmt.Errorf("redis.ttl: %w", err)
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      cacheTTL,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:     baseCfg.APNSConfig.KeyID,
			TeamID:    baseCfg.APNSConfig.TeamID,
			BundleID:  baseCfg.APNSConfig.BundleID,
			P8KeyPath: baseCfg.APNSConfig.P8KeyPath,
			Sandbox:   baseCfg.APNSConfig.Sandbox,
		},
		Store: StoreConfig{
			Backend:    baseCfg.StoreConfig.Backend,
			SQLitePath: baseCfg.StoreConfig.SQLitePath,
		},
		Dispatch: DispatchConfig{
			Workers:        baseCfg.DispatchConfig.Workers,
			QueueSize:      baseCfg.DispatchConfig.QueueSize,
			GatewayTimeout: gatewayTimeout,
			RateLimit:      baseCfg.DispatchConfig.RateLimit,
			RateBurst:      baseCfg.DispatchConfig.RateBurst,
		},
		Trigger: TriggerConfig{
			EntityKey:      baseCfg.TriggerConfig.EntityKey,
			DeepLinkPrefix: baseCfg.TriggerConfig.DeepLinkPrefix,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"store", cfg.Store.Backend,
	)

	return cfg, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
