// Package config loads engine configuration from environment variables,
// following the flat struct-of-structs + fail-fast validation idiom
// used throughout the indexer family this engine belongs to.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/near-indexer/engine/internal/engineerr"
)

// Default chain-interval calibration (spec.md §4.6): NEAR blocks are
// produced roughly every 1-2s, but the scheduler's poll cadence is clamped
// against a fixed, conservative per-chain interval.
const defaultChainIntervalMs = 6000

type Config struct {
	Manifest   ManifestConfig
	Network    NetworkConfig
	Dictionary DictionaryConfig
	Pipeline   PipelineConfig
	Worker     WorkerPoolConfig
	Server     ServerConfig
	Tracing    TracingConfig
	Log        LogConfig
}

type ServerConfig struct {
	HealthPort int
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

type ManifestConfig struct {
	Path string
}

type NetworkConfig struct {
	Endpoints    []string
	ChainID      string
	GenesisHash  string
	Unfinalized  bool
	BypassBlocks []int64
}

type DictionaryConfig struct {
	URL     string
	Enabled bool
}

type PipelineConfig struct {
	BatchSize       int
	FetchBatchSize  int
	ChainIntervalMs int
	MemoryBudgetMB  int
	ProfilerEnabled bool
	InitHeight      int64
	Concurrency     int // concurrent assemble+index workers (spec.md §6 "worker count")
	QueueCapacity   int // dispatcher bounded queue capacity
}

type WorkerPoolConfig struct {
	Enabled     bool
	WorkerAddrs []string
	Concurrency int // per-worker-process assemble+index concurrency
	ListenAddr  string
}

type LogConfig struct {
	Level string
}

// MinimumBatchSize is the scheduler's floor batch size (spec.md §4.6 step 2).
const MinimumBatchSize = 5

func Load() (*Config, error) {
	cfg := &Config{
		Manifest: ManifestConfig{
			Path: getEnv("MANIFEST_PATH", "./project.yaml"),
		},
		Network: NetworkConfig{
			Endpoints:   splitCSV(getEnv("RPC_ENDPOINTS", "")),
			ChainID:     getEnv("CHAIN_ID", ""),
			GenesisHash: getEnv("GENESIS_HASH", ""),
			Unfinalized: getEnvBool("UNFINALIZED_BLOCKS", false),
		},
		Dictionary: DictionaryConfig{
			URL:     getEnv("DICTIONARY_URL", ""),
			Enabled: getEnv("DICTIONARY_URL", "") != "",
		},
		Pipeline: PipelineConfig{
			BatchSize:       getEnvInt("BATCH_SIZE", 100),
			FetchBatchSize:  getEnvInt("FETCH_BATCH_SIZE", 5),
			ChainIntervalMs: getEnvInt("CHAIN_INTERVAL_MS", defaultChainIntervalMs),
			MemoryBudgetMB:  getEnvInt("MEMORY_BUDGET_MB", 2048),
			ProfilerEnabled: getEnvBool("PROFILER_ENABLED", false),
			InitHeight:      int64(getEnvInt("INIT_HEIGHT", 0)),
			Concurrency:     getEnvInt("CONCURRENCY", 5),
			QueueCapacity:   getEnvInt("QUEUE_CAPACITY", 1000),
		},
		Worker: WorkerPoolConfig{
			Enabled:     getEnvBool("WORKER_POOL_ENABLED", false),
			WorkerAddrs: splitCSV(getEnv("WORKER_ADDRS", "")),
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 5),
			ListenAddr:  getEnv("WORKER_LISTEN_ADDR", ":7070"),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: getEnv("TRACING_ENDPOINT", ""),
			Insecure: getEnvBool("TRACING_INSECURE", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if bypass := getEnv("BYPASS_BLOCKS", ""); bypass != "" {
		for _, raw := range strings.Split(bypass, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			h, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, engineerr.NewConfigError("BYPASS_BLOCKS", "must be a comma-separated list of integer heights")
			}
			cfg.Network.BypassBlocks = append(cfg.Network.BypassBlocks, h)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Network.Endpoints) == 0 {
		return engineerr.NewConfigError("RPC_ENDPOINTS", "at least one endpoint is required")
	}
	if c.Network.ChainID == "" && c.Network.GenesisHash == "" {
		return engineerr.NewConfigError("CHAIN_ID", "either CHAIN_ID or GENESIS_HASH is required")
	}
	if c.Pipeline.BatchSize <= 0 {
		return engineerr.NewConfigError("BATCH_SIZE", "must be positive")
	}
	if c.Pipeline.FetchBatchSize <= 0 {
		return engineerr.NewConfigError("FETCH_BATCH_SIZE", "must be positive")
	}
	if c.Worker.Enabled && len(c.Worker.WorkerAddrs) == 0 {
		return engineerr.NewConfigError("WORKER_ADDRS", "required when WORKER_POOL_ENABLED is set")
	}
	return nil
}

// ChainInterval returns the configured per-chain block interval as a
// time.Duration, falling back to the NEAR default.
func (c *Config) ChainInterval() time.Duration {
	ms := c.Pipeline.ChainIntervalMs
	if ms <= 0 {
		ms = defaultChainIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
