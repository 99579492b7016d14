// Package router configures the estimator's HTTP API.
//
// Routes configured:
//   - POST   /v1/samples                         - record a completed run
//   - POST   /v1/estimate                        - estimate duration for a service
//   - GET    /v1/stats?service=<id>              - stats for one service
//   - GET    /v1/stats                           - stats for all services
//   - POST   /v1/retrain?service=<id>            - force retrain (one or all)
//   - DELETE /v1/services/{service}/samples      - clear one service
//   - DELETE /v1/samples                         - clear everything
//   - GET    /healthz                            - health check
//   - GET    /metrics                            - Prometheus metrics
//
// Soft engine failures map to client-visible statuses: InvalidDuration is
// 400, NoData is 404, NotEnoughData is 422. Persistence failures are 500
// but the response body notes that in-memory state was updated.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/estima/cmd/estimator/metrics"
	"github.com/HatiCode/estima/pkg/engine"
	"github.com/HatiCode/estima/pkg/fingerprint"
	"github.com/HatiCode/estima/pkg/httpx"
	"github.com/HatiCode/estima/pkg/probe"
)

var serviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]{0,251}[a-zA-Z0-9])?$`)

// SetupRoutes configures the estimator's HTTP endpoints. prober may be nil;
// estimate requests must then carry their own fingerprint.
func SetupRoutes(eng *engine.Engine, prober probe.Prober, m *metrics.Metrics, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/samples", handleAppend(eng, m, logger))
	mux.HandleFunc("POST /v1/estimate", handleEstimate(eng, prober, m, logger))
	mux.HandleFunc("GET /v1/stats", handleStats(eng, logger))
	mux.HandleFunc("POST /v1/retrain", handleRetrain(eng, m, logger))
	mux.HandleFunc("DELETE /v1/services/{service}/samples", handleClearService(eng, logger))
	mux.HandleFunc("DELETE /v1/samples", handleClearAll(eng, logger))

	return mux
}

// estimateRequest is the body of POST /v1/estimate. The fingerprint is
// optional when a prober is configured.
type estimateRequest struct {
	ServiceID   string                   `json:"serviceId"`
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
}

func handleAppend(eng *engine.Engine, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req engine.AppendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !serviceIDRegex.MatchString(req.ServiceID) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service id")
			return
		}

		retrained, err := eng.Append(r.Context(), req)
		if err != nil {
			writeEngineError(w, "append", err, m, logger)
			return
		}

		m.RecordAppend(req.ServiceID, eng.SampleCount(req.ServiceID))
		if retrained {
			if model, ok := eng.Model(req.ServiceID); ok {
				m.RecordRetrain(req.ServiceID, "batch", model.RSquared)
			}
		}

		writeJSON(w, http.StatusCreated, map[string]any{"retrained": retrained}, logger)
	}
}

func handleEstimate(eng *engine.Engine, prober probe.Prober, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req estimateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !serviceIDRegex.MatchString(req.ServiceID) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service id")
			return
		}

		var fp fingerprint.Fingerprint
		switch {
		case req.Fingerprint != nil:
			fp = *req.Fingerprint
		case prober != nil:
			current, err := prober.Current(r.Context())
			if err != nil {
				m.RecordError("probe", "read_failed")
				logger.Error("fingerprint probe failed", "prober", prober.Name(), "error", err)
				httpx.WriteErrorMessage(w, http.StatusBadGateway, "fingerprint probe failed")
				return
			}
			fp = current
		default:
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "fingerprint required (no prober configured)")
			return
		}

		start := time.Now()
		est, err := eng.Estimate(req.ServiceID, fp)
		if err != nil {
			writeEngineError(w, "estimate", err, m, logger)
			return
		}
		m.EstimateSeconds.Observe(time.Since(start).Seconds())

		writeJSON(w, http.StatusOK, est, logger)
	}
}

func handleStats(eng *engine.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		if service == "" {
			writeJSON(w, http.StatusOK, map[string]any{"services": eng.StatsAll()}, logger)
			return
		}
		if !serviceIDRegex.MatchString(service) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service id")
			return
		}

		report, err := eng.Stats(service)
		if err != nil {
			writeEngineError(w, "stats", err, nil, logger)
			return
		}
		writeJSON(w, http.StatusOK, report, logger)
	}
}

func handleRetrain(eng *engine.Engine, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")

		start := time.Now()
		if service == "" {
			trained, err := eng.RetrainAll(r.Context())
			m.TrainSeconds.Observe(time.Since(start).Seconds())
			if err != nil {
				writeEngineError(w, "retrain", err, m, logger)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"trained": trained}, logger)
			return
		}

		if !serviceIDRegex.MatchString(service) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service id")
			return
		}
		err := eng.Retrain(r.Context(), service)
		m.TrainSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			writeEngineError(w, "retrain", err, m, logger)
			return
		}
		if model, ok := eng.Model(service); ok {
			m.RecordRetrain(service, "forced", model.RSquared)
		}
		writeJSON(w, http.StatusOK, map[string]any{"trained": 1}, logger)
	}
}

func handleClearService(eng *engine.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		service := r.PathValue("service")
		if !serviceIDRegex.MatchString(service) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid service id")
			return
		}

		removed, err := eng.ClearService(r.Context(), service)
		if err != nil {
			writeEngineError(w, "clear", err, nil, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed}, logger)
	}
}

func handleClearAll(eng *engine.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := eng.ClearAll(r.Context())
		if err != nil {
			writeEngineError(w, "clear", err, nil, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed}, logger)
	}
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, component string, err error, m *metrics.Metrics, logger *slog.Logger) {
	var perr *engine.PersistenceError
	switch {
	case errors.Is(err, engine.ErrInvalidDuration):
		httpx.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, engine.ErrNoData):
		httpx.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrNotEnoughData):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err)
	case errors.As(err, &perr):
		if m != nil {
			m.RecordError(component, "persist_failed")
		}
		logger.Error("persistence failure", "component", component, "error", err)
		// State was updated in memory; only durability failed.
		httpx.WriteErrorMessage(w, http.StatusInternalServerError,
			fmt.Sprintf("state updated but not persisted: %v", perr.Err))
	default:
		if m != nil {
			m.RecordError(component, "internal")
		}
		logger.Error("request failed", "component", component, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
