package main

import (
	"fmt"

	"github.com/americaniron/ironfreight/internal/server"
	"github.com/americaniron/ironfreight/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the carrier backend HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(ctx)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	rdb, err := initRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	registry := initShipperRegistry(cfg, logger)
	labelService := initLabels(cfg, rdb, logger)

	publisher := initPublisher(cfg, logger)
	defer publisher.Close()

	store, err := initCatalog(ctx, rdb, metrics, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting Iron Freight carrier backend",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Int("carriers", registry.Count()),
		zap.Bool("redis", rdb != nil),
		zap.Bool("kafka", len(cfg.KafkaBrokers) > 0),
	)

	srv := server.New(server.Config{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		JWTIssuer:      cfg.JWTIssuer,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		ServiceName:    cfg.ServiceName,
	}, server.Deps{
		Registry: registry,
		Labels:   labelService,
		Events:   publisher,
		Catalog:  store,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
