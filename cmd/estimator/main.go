// Command estimator implements the service duration estimation engine.
//
// The estimator records how long each maintenance/diagnostic service took on
// a machine, characterizes the machine with a numeric fingerprint, and
// predicts the duration of future runs with an incrementally retrained
// ridge regression, falling back to outlier-resistant averages when no
// model exists.
//
// The estimator serves an HTTP API on port 8090 (configurable) providing:
//   - POST   /v1/samples                    - record a completed run
//   - POST   /v1/estimate                   - estimate duration for a service
//   - GET    /v1/stats[?service=<id>]       - aggregate statistics
//   - POST   /v1/retrain[?service=<id>]     - force retraining
//   - DELETE /v1/services/{service}/samples - clear one service
//   - DELETE /v1/samples                    - clear everything
//   - GET    /healthz                       - health check
//   - GET    /metrics                       - Prometheus metrics
//
// Usage:
//
//	estimator \
//	  -storage=file \
//	  -store-path=/var/lib/estima/metrics.json \
//	  -retrain-batch=5 \
//	  -max-samples=50
//
// Environment variables:
//
//	LISTEN          - HTTP listen address (default :8090)
//	STORAGE         - Persistence backend: file, redis, memory (default file)
//	STORE_PATH      - Metrics document path for file storage
//	REDIS_ADDR      - Redis server address for redis storage
//	MAX_SAMPLES     - Sample cap per service (default 50)
//	RETRAIN_BATCH   - New samples per service that trigger a retrain (default 5)
//	RIDGE_LAMBDA    - L2 regularization strength (default 1.0)
//	DECAY_HALF_LIFE - Recency-weighting half-life (default 720h)
//	PROBE_URL       - Optional host-agent fingerprint endpoint
//	LOG_LEVEL       - Logging level: debug, info, warn, error (default info)
//	LOG_FORMAT      - Logging format: text, json (default text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/estima/cmd/estimator/config"
	"github.com/HatiCode/estima/cmd/estimator/logger"
	"github.com/HatiCode/estima/cmd/estimator/metrics"
	"github.com/HatiCode/estima/cmd/estimator/router"
	"github.com/HatiCode/estima/cmd/estimator/store"
	"github.com/HatiCode/estima/pkg/engine"
	"github.com/HatiCode/estima/pkg/httpx"
	"github.com/HatiCode/estima/pkg/probe"
	"github.com/HatiCode/estima/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting estima estimator",
		"version", version,
		"storage", cfg.Storage,
	)

	m := metrics.New()

	st := store.New(cfg, m, logger)
	if closer, ok := st.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	eng := engine.New(st, engine.Config{
		MaxSamplesPerService: cfg.MaxSamplesPerService,
		RetrainBatchSize:     cfg.RetrainBatchSize,
		RidgeLambda:          cfg.RidgeLambda,
		DecayHalfLife:        cfg.DecayHalfLife,
	}, logger)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Load(loadCtx); err != nil {
		loadCancel()
		logger.Error("failed to load metrics document", "error", err)
		os.Exit(1)
	}
	loadCancel()

	var prober probe.Prober
	if cfg.ProbeURL != "" {
		client, err := httpx.NewClient(tls.Config{}, cfg.ProbeTimeout)
		if err != nil {
			logger.Error("failed to create probe client", "error", err)
			os.Exit(1)
		}
		prober = &probe.HTTPProber{
			URL:        cfg.ProbeURL,
			Paths:      cfg.ProbePaths,
			HTTPClient: client,
		}
		logger.Info("fingerprint prober configured", "url", cfg.ProbeURL)
	}

	mux := router.SetupRoutes(eng, prober, m, logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	if cfg.TLS.Enabled {
		tlsConfig, err := tls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			logger.Error("failed to create TLS config", "error", err)
			os.Exit(1)
		}
		httpServer.SetTLSConfig(tlsConfig)
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErr <- httpServer.Start()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
