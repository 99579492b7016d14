//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/estima/cmd/estimator/metrics"
	"github.com/HatiCode/estima/cmd/estimator/router"
	"github.com/HatiCode/estima/pkg/engine"
	"github.com/HatiCode/estima/pkg/fingerprint"
	"github.com/HatiCode/estima/pkg/probe"
	"github.com/HatiCode/estima/pkg/storage"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	if len(endpoint) > 8 && endpoint[:8] == "redis://" {
		endpoint = endpoint[8:]
	}
	return endpoint
}

// startEstimator wires a full estimator instance over the given Redis
// backend and returns its base URL.
func startEstimator(t *testing.T, redisAddr string, prober probe.Prober) string {
	t.Helper()

	store, err := storage.NewRedisStore(redisAddr, "", 0)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(store, engine.Config{RetrainBatchSize: 5}, logger)
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("engine load failed: %v", err)
	}

	m := metrics.NewWith(prometheus.NewRegistry())
	srv := httptest.NewServer(router.SetupRoutes(eng, prober, m, logger))
	t.Cleanup(srv.Close)
	return srv.URL
}

// startHostAgent serves a fake hardware-facts endpoint for the HTTP prober.
func startHostAgent(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"cpu": {"physical_cores": 4, "logical_cores": 8, "base_clock_ghz": 3.2, "load_percent": 15, "flags": {"avx2": true}},
			"memory": {"available_mb": 8192, "total_mb": 16384},
			"disk": {"ssd": true},
			"power": {"ac": true},
			"network": {"class": "wired"}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// TestEstimatorE2E drives the full pipeline against a real Redis backend:
// samples in, a model out, estimates served, and state surviving a restart.
func TestEstimatorE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisAddr := startRedis(t)
	agent := startHostAgent(t)

	prober := &probe.HTTPProber{
		URL: agent.URL,
		Paths: probe.FieldPaths{
			PhysicalCores:  "cpu.physical_cores",
			LogicalCores:   "cpu.logical_cores",
			BaseClockGHz:   "cpu.base_clock_ghz",
			RAMAvailableMB: "memory.available_mb",
			RAMTotalMB:     "memory.total_mb",
			SSD:            "disk.ssd",
			ACPower:        "power.ac",
			AVX2:           "cpu.flags.avx2",
			Network:        "network.class",
			CPULoadPercent: "cpu.load_percent",
		},
	}

	baseURL := startEstimator(t, redisAddr, prober)

	fp := fingerprint.Fingerprint{
		PhysicalCores:  4,
		LogicalCores:   8,
		BaseClockGHz:   3.2,
		RAMAvailableMB: 8192,
		RAMTotalMB:     16384,
		SSD:            true,
		ACPower:        true,
		AVX2:           true,
		Network:        fingerprint.NetworkWired,
		CPULoadPercent: 15,
	}

	t.Run("AppendUntilModelTrains", func(t *testing.T) {
		durations := []float64{1000, 1080, 960, 1040, 1010}
		for i, d := range durations {
			var body struct {
				Retrained bool `json:"retrained"`
			}
			status := postJSON(t, baseURL+"/v1/samples", engine.AppendRequest{
				ServiceID:   "disk-scan",
				DurationMs:  d,
				Fingerprint: fp,
			}, &body)
			if status != http.StatusCreated {
				t.Fatalf("append %d returned status %d", i+1, status)
			}
			wantRetrain := i == len(durations)-1
			if body.Retrained != wantRetrain {
				t.Errorf("append %d: retrained = %v, want %v", i+1, body.Retrained, wantRetrain)
			}
		}
	})

	t.Run("EstimateWithProbedFingerprint", func(t *testing.T) {
		// No fingerprint in the body: the prober queries the host agent.
		var est engine.Estimate
		status := postJSON(t, baseURL+"/v1/estimate", map[string]any{"serviceId": "disk-scan"}, &est)
		if status != http.StatusOK {
			t.Fatalf("estimate returned status %d", status)
		}
		if !est.FromModel {
			t.Error("expected a model-backed estimate after training")
		}
		if est.EstimatedMs < 1 {
			t.Errorf("estimate = %v ms, want >= 1", est.EstimatedMs)
		}
		if est.Stats.SampleCount != 5 {
			t.Errorf("sample count = %d, want 5", est.Stats.SampleCount)
		}
	})

	t.Run("StatsReflectSamples", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/v1/stats?service=disk-scan")
		if err != nil {
			t.Fatalf("GET stats failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("stats returned status %d", resp.StatusCode)
		}

		var report engine.Report
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			t.Fatalf("decode stats: %v", err)
		}
		if report.MinMs != 960 || report.MaxMs != 1080 {
			t.Errorf("min/max = %v/%v, want 960/1080", report.MinMs, report.MaxMs)
		}
		if !report.HasModel {
			t.Error("stats should report a trained model")
		}
	})

	t.Run("StateSurvivesRestart", func(t *testing.T) {
		// A second estimator over the same Redis picks up where the first
		// left off: same samples, same model, same estimates.
		secondURL := startEstimator(t, redisAddr, prober)

		var est engine.Estimate
		status := postJSON(t, secondURL+"/v1/estimate", map[string]any{"serviceId": "disk-scan"}, &est)
		if status != http.StatusOK {
			t.Fatalf("estimate after restart returned status %d", status)
		}
		if !est.FromModel {
			t.Error("model did not survive the restart")
		}
		if est.Stats.SampleCount != 5 {
			t.Errorf("sample count after restart = %d, want 5", est.Stats.SampleCount)
		}
	})

	t.Run("UnknownService", func(t *testing.T) {
		status := postJSON(t, baseURL+"/v1/estimate", map[string]any{"serviceId": "ghost"}, nil)
		if status != http.StatusNotFound {
			t.Errorf("estimate for unknown service returned %d, want 404", status)
		}
	})

	t.Run("ClearService", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/services/disk-scan/samples", nil)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("clear returned status %d", resp.StatusCode)
		}

		status := postJSON(t, baseURL+"/v1/estimate", map[string]any{"serviceId": "disk-scan"}, nil)
		if status != http.StatusNotFound {
			t.Errorf("estimate after clear returned %d, want 404", status)
		}
	})
}
