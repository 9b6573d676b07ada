package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service and CLI.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTIssuer string        `envconfig:"JWT_ISSUER" default:"ironfreight"`
	JWTTTL    time.Duration `envconfig:"JWT_TTL" default:"1h"`

	// Public API rate limit per client IP
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// UPS
	UPSClientID      string `envconfig:"UPS_CLIENT_ID"`
	UPSClientSecret  string `envconfig:"UPS_CLIENT_SECRET"`
	UPSAccountNumber string `envconfig:"UPS_ACCOUNT_NUMBER"`
	UPSBaseURL       string `envconfig:"UPS_BASE_URL" default:"https://onlinetools.ups.com"`
	UPSEnabled       bool   `envconfig:"UPS_ENABLED" default:"true"`
	UPSUseMock       bool   `envconfig:"UPS_USE_MOCK" default:"false"`

	// DHL Express
	DHLAPIKey        string `envconfig:"DHL_API_KEY"`
	DHLAPISecret     string `envconfig:"DHL_API_SECRET"`
	DHLAccountNumber string `envconfig:"DHL_ACCOUNT_NUMBER"`
	DHLBaseURL       string `envconfig:"DHL_BASE_URL" default:"https://express.api.dhl.com/mydhlapi"`
	DHLEnabled       bool   `envconfig:"DHL_ENABLED" default:"true"`
	DHLUseMock       bool   `envconfig:"DHL_USE_MOCK" default:"false"`

	// Labels
	LabelURLTTL  time.Duration `envconfig:"LABEL_URL_TTL" default:"15m"`
	LabelBaseURL string        `envconfig:"LABEL_BASE_URL"`

	// Storage. An empty RedisAddr keeps labels and the catalog in memory.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Events. No brokers disables publishing.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"ironfreight.shipments"`

	// Client side (CLI)
	ShippingAPIBaseURL string        `envconfig:"SHIPPING_API_BASE_URL"`
	ShippingAPITimeout time.Duration `envconfig:"SHIPPING_API_TIMEOUT" default:"30s"`
	ShippingAPIToken   string        `envconfig:"SHIPPING_API_TOKEN"`

	// Generative AI
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"ironfreight"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables, after loading a .env
// file from the working directory if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("ups.enabled", c.UPSEnabled),
		attribute.Bool("ups.mock", c.UPSUseMock),
		attribute.Bool("dhl.enabled", c.DHLEnabled),
		attribute.Bool("dhl.mock", c.DHLUseMock),
		attribute.Bool("redis.enabled", c.RedisAddr != ""),
		attribute.Bool("kafka.enabled", len(c.KafkaBrokers) > 0),
	}
}
