// Package config provides configuration parsing for the estimator.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence. The Config struct contains all runtime configuration:
//   - HTTP listen address and TLS settings
//   - Persistence backend selection (file, redis, memory)
//   - Engine tuning (sample cap, retrain batch size, ridge lambda, decay
//     half-life)
//   - Fingerprint prober settings (agent URL and gjson field paths)
//   - Logging configuration (level, format)
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HatiCode/estima/pkg/probe"
	"github.com/HatiCode/estima/pkg/tls"
)

// Config holds all estimator configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string
	TLS       tls.Config

	Storage       string
	StorePath     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MaxSamplesPerService int
	RetrainBatchSize     int
	RidgeLambda          float64
	DecayHalfLife        time.Duration

	ProbeURL     string
	ProbeTimeout time.Duration
	ProbePaths   probe.FieldPaths
}

// ParseFlags parses command-line flags and environment variables into a
// Config. Environment variables are fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8090"), "HTTP listen address")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "Persistence backend: file, redis, or memory")
	flag.StringVar(&cfg.StorePath, "store-path", getEnv("STORE_PATH", defaultStorePath()), "Metrics document path (storage=file)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address (storage=redis)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	flag.IntVar(&cfg.MaxSamplesPerService, "max-samples", getEnvInt("MAX_SAMPLES", 50), "Sample cap per service (oldest evicted first)")
	flag.IntVar(&cfg.RetrainBatchSize, "retrain-batch", getEnvInt("RETRAIN_BATCH", 5), "New samples per service that trigger a retrain")
	flag.Float64Var(&cfg.RidgeLambda, "ridge-lambda", getEnvFloat("RIDGE_LAMBDA", 1.0), "L2 regularization strength")
	flag.DurationVar(&cfg.DecayHalfLife, "decay-half-life", getEnvDuration("DECAY_HALF_LIFE", 720*time.Hour), "Recency-weighting half-life")

	flag.StringVar(&cfg.ProbeURL, "probe-url", getEnv("PROBE_URL", ""), "Host-agent fingerprint endpoint (optional)")
	flag.DurationVar(&cfg.ProbeTimeout, "probe-timeout", getEnvDuration("PROBE_TIMEOUT", 5*time.Second), "Fingerprint probe timeout")

	flag.StringVar(&cfg.ProbePaths.PhysicalCores, "probe-path-physical-cores", getEnv("PROBE_PATH_PHYSICAL_CORES", "cpu.physicalCores"), "gjson path for physical core count")
	flag.StringVar(&cfg.ProbePaths.LogicalCores, "probe-path-logical-cores", getEnv("PROBE_PATH_LOGICAL_CORES", "cpu.logicalCores"), "gjson path for logical core count")
	flag.StringVar(&cfg.ProbePaths.BaseClockGHz, "probe-path-base-clock", getEnv("PROBE_PATH_BASE_CLOCK", "cpu.baseClockGhz"), "gjson path for base clock GHz")
	flag.StringVar(&cfg.ProbePaths.RAMAvailableMB, "probe-path-ram-available", getEnv("PROBE_PATH_RAM_AVAILABLE", "memory.availableMb"), "gjson path for available RAM MB")
	flag.StringVar(&cfg.ProbePaths.RAMTotalMB, "probe-path-ram-total", getEnv("PROBE_PATH_RAM_TOTAL", "memory.totalMb"), "gjson path for total RAM MB")
	flag.StringVar(&cfg.ProbePaths.SSD, "probe-path-ssd", getEnv("PROBE_PATH_SSD", "disk.ssd"), "gjson path for SSD flag")
	flag.StringVar(&cfg.ProbePaths.ACPower, "probe-path-ac-power", getEnv("PROBE_PATH_AC_POWER", "power.ac"), "gjson path for AC power flag")
	flag.StringVar(&cfg.ProbePaths.AVX2, "probe-path-avx2", getEnv("PROBE_PATH_AVX2", "cpu.avx2"), "gjson path for AVX2 flag")
	flag.StringVar(&cfg.ProbePaths.DiscreteGPU, "probe-path-discrete-gpu", getEnv("PROBE_PATH_DISCRETE_GPU", "gpu.discrete"), "gjson path for discrete GPU flag")
	flag.StringVar(&cfg.ProbePaths.Network, "probe-path-network", getEnv("PROBE_PATH_NETWORK", "network.class"), "gjson path for network class")
	flag.StringVar(&cfg.ProbePaths.CPULoadPercent, "probe-path-cpu-load", getEnv("PROBE_PATH_CPU_LOAD", "cpu.loadPercent"), "gjson path for CPU load percent")

	flag.Parse()

	switch cfg.Storage {
	case "file", "redis", "memory":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid --storage %q (file, redis, or memory)\n", cfg.Storage)
		os.Exit(1)
	}
	if cfg.Storage == "file" && cfg.StorePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --store-path is required with --storage=file")
		os.Exit(1)
	}
	if err := cfg.TLS.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

func defaultStorePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "estima" + string(os.PathSeparator) + "metrics.json"
	}
	return "metrics.json"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
