// Package store selects and constructs the persistence backend from config.
package store

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/HatiCode/estima/cmd/estimator/config"
	"github.com/HatiCode/estima/cmd/estimator/metrics"
	"github.com/HatiCode/estima/pkg/storage"
)

// New creates the configured storage backend, instrumented so every save
// reports its duration. Exits on unreachable Redis or unwritable file paths;
// the engine cannot run without its document store.
func New(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) storage.Store {
	return &timedStore{inner: newBackend(cfg, logger), metrics: m}
}

func newBackend(cfg *config.Config, logger *slog.Logger) storage.Store {
	switch cfg.Storage {
	case "redis":
		logger.Info("using redis storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		return s

	case "memory":
		logger.Info("using in-memory storage (state is lost on restart)")
		return storage.NewMemoryStore()

	default:
		logger.Info("using file storage", "path", cfg.StorePath)
		s, err := storage.NewFileStore(cfg.StorePath)
		if err != nil {
			logger.Error("failed to open store file", "path", cfg.StorePath, "error", err)
			os.Exit(1)
		}
		return s
	}
}

// timedStore decorates a backend with save-duration observation. The engine
// stays metrics-free; persistence timing is an operational concern of the
// binary, not the library.
type timedStore struct {
	inner   storage.Store
	metrics *metrics.Metrics
}

func (s *timedStore) Load(ctx context.Context) (storage.Document, bool, error) {
	return s.inner.Load(ctx)
}

func (s *timedStore) Save(ctx context.Context, doc storage.Document) error {
	start := time.Now()
	err := s.inner.Save(ctx, doc)
	s.metrics.PersistSeconds.Observe(time.Since(start).Seconds())
	return err
}

// Close forwards to the backend when it holds external connections.
func (s *timedStore) Close() error {
	if closer, ok := s.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
