package main

import (
	"context"
	"fmt"

	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/americaniron/ironfreight/internal/config"
	"github.com/americaniron/ironfreight/internal/events"
	"github.com/americaniron/ironfreight/internal/labels"
	"github.com/americaniron/ironfreight/internal/telemetry"
	"github.com/americaniron/ironfreight/pkg/genai"
	"github.com/americaniron/ironfreight/pkg/genai/gemini"
	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/americaniron/ironfreight/pkg/shipper/dhl"
	"github.com/americaniron/ironfreight/pkg/shipper/ups"
	"github.com/americaniron/ironfreight/pkg/shipping"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var (
	userFlag string
	roleFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "sign requests as this subject (needs JWT_SECRET)")
	rootCmd.PersistentFlags().StringVar(&roleFlag, "role", "buyer", "role claim for --user")
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return func(context.Context) error { return nil }, nil
	}

	_, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
	return shutdown, err
}

// initRedis returns nil when no address is configured.
func initRedis(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR is not set; labels and catalog are kept in memory")
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

func initShipperRegistry(cfg *config.Config, logger *otelzap.Logger) *shipper.Registry {
	registry := shipper.NewRegistry()
	tracer := otel.Tracer(cfg.ServiceName)

	if cfg.UPSEnabled {
		registry.Register(ups.New(ups.Config{
			ClientID:      cfg.UPSClientID,
			ClientSecret:  cfg.UPSClientSecret,
			AccountNumber: cfg.UPSAccountNumber,
			BaseURL:       cfg.UPSBaseURL,
			UseMock:       cfg.UPSUseMock,
		}, logger, tracer))
	}

	if cfg.DHLEnabled {
		registry.Register(dhl.New(dhl.Config{
			APIKey:        cfg.DHLAPIKey,
			APISecret:     cfg.DHLAPISecret,
			AccountNumber: cfg.DHLAccountNumber,
			BaseURL:       cfg.DHLBaseURL,
			UseMock:       cfg.DHLUseMock,
		}, logger, tracer))
	}

	return registry
}

func initLabels(cfg *config.Config, rdb *redis.Client, logger *otelzap.Logger) *labels.Service {
	var store labels.Store = labels.NewMemoryStore()
	if rdb != nil {
		store = labels.NewRedisStore(rdb)
	}

	secret := labels.DeriveKey(cfg.JWTSecret)
	if cfg.JWTSecret == "" {
		// Links then only survive until restart.
		secret = uuid.NewString()
	}
	return labels.NewService(store, labels.NewSigner(secret, cfg.LabelURLTTL, cfg.LabelBaseURL), logger)
}

func initPublisher(cfg *config.Config, logger *otelzap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}
	}
	return events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaTopic, logger)
}

func initCatalog(ctx context.Context, rdb *redis.Client, metrics *telemetry.Metrics, logger *otelzap.Logger) (*catalog.Store, error) {
	var kv catalog.KV = catalog.NewMemoryKV()
	if rdb != nil {
		kv = catalog.NewRedisKV(rdb)
	}

	store, err := catalog.Open(ctx, kv, catalog.Seed(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	store.OnMutate = func(kind, op string) {
		metrics.CatalogMutations.WithLabelValues(kind, op).Inc()
	}
	return store, nil
}

// initWorkflow builds the gateway client and quote workflow for the CLI.
func initWorkflow() (*shipping.Workflow, *otelzap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := telemetry.NewCLILogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var tokens shipping.TokenProvider = shipping.NoSession{}
	switch {
	case cfg.ShippingAPIToken != "":
		tokens = shipping.StaticToken(cfg.ShippingAPIToken)
	case userFlag != "" && cfg.JWTSecret != "":
		identity := shipping.NewSessionIdentity(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
		identity.SignIn(userFlag, "", roleFlag)
		tokens = identity
	case userFlag != "":
		logger.Warn("--user ignored: JWT_SECRET is not set", zap.String("user", userFlag))
	}

	metrics := telemetry.NewMetrics(nil)
	breaker := shipping.DefaultBreakerConfig()
	breaker.OnStateChange = metrics.RecordBreakerState

	client := shipping.New(shipping.Config{
		BaseURL: cfg.ShippingAPIBaseURL,
		Timeout: cfg.ShippingAPITimeout,
		Tokens:  tokens,
		Breaker: breaker,
	}, logger)

	return shipping.NewWorkflow(client, logger), logger, nil
}

func initAssistant() (*genai.Assistant, *otelzap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := telemetry.NewCLILogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; answers will fall back to offline messages")
	}

	provider := gemini.New(gemini.Config{APIKey: cfg.GeminiAPIKey, BaseURL: cfg.GeminiBaseURL}, logger)
	return genai.NewAssistant(provider, genai.DefaultConfig(), logger, genai.WithCredentialChecker(provider)), logger, nil
}
