// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	Engine    EngineConfig
	Market    MarketConfig
	Providers map[string]ProviderConfig
}

// EngineConfig holds analysis task engine tuning.
type EngineConfig struct {
	MaxWorkers          int           // Worker pool size
	QueuePollTimeout    time.Duration // Worker dequeue timeout
	WaitingMaxWait      time.Duration // WAITING task total timeout
	WaitingPollInterval time.Duration // WAITING task cache poll cadence
	CachedPlayback      time.Duration // Total CACHED playback duration
	ReaperHorizon       time.Duration // PROCESSING tasks older than this are failed on startup sweep
}

// MarketConfig holds market-data service tuning.
type MarketConfig struct {
	CacheEnabled     bool
	MemoryMaxSize    int           // LRU capacity
	RespCacheEnabled bool          // Persistent L2 response cache
	DedupWindow      time.Duration // Grace period before an inflight entry is removed
	DedupWaitTimeout time.Duration // Max wait on a sibling inflight request
	MetricsInterval  time.Duration // Summary log cadence
	MetricsBuffer    int           // Call-record ring size
}

// ProviderConfig holds per-provider protection and routing settings.
type ProviderConfig struct {
	Enabled                bool
	Priority               int // Lower is preferred
	RequestsPerMinute      int // Advisory; enforced by the adapter's limiter
	CooldownOnError        time.Duration
	MaxConsecutiveFailures int
	MaxConcurrent          int
	CircuitFailures        int // Failures before OPEN
	CircuitSuccesses       int // Consecutive HALF_OPEN successes to CLOSE
	CircuitTimeout         time.Duration
	APIKey                 string
	APISecret              string
	CacheTTL               map[string]int // Per-data-type TTL overrides, seconds
}

// ProviderDefaults returns the protection defaults applied when a provider
// has no explicit configuration.
func ProviderDefaults() ProviderConfig {
	return ProviderConfig{
		Enabled:                true,
		Priority:               100,
		CooldownOnError:        60 * time.Second,
		MaxConsecutiveFailures: 3,
		MaxConcurrent:          10,
		CircuitFailures:        5,
		CircuitSuccesses:       3,
		CircuitTimeout:         60 * time.Second,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FINTEL_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("FINTEL_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Engine: EngineConfig{
			MaxWorkers:          getEnvAsInt("MAX_WORKERS", 3),
			QueuePollTimeout:    getEnvAsDuration("QUEUE_POLL_TIMEOUT_SECONDS", 1*time.Second),
			WaitingMaxWait:      getEnvAsDuration("WAITING_MAX_WAIT_SECONDS", 300*time.Second),
			WaitingPollInterval: getEnvAsDuration("WAITING_POLL_INTERVAL_SECONDS", 2*time.Second),
			CachedPlayback:      getEnvAsDuration("CACHED_PLAYBACK_SECONDS", 10*time.Second),
			ReaperHorizon:       getEnvAsDuration("REAPER_HORIZON_SECONDS", 30*time.Minute),
		},
		Market: MarketConfig{
			CacheEnabled:     getEnvAsBool("MEMORY_CACHE_ENABLED", true),
			MemoryMaxSize:    getEnvAsInt("MEMORY_MAX_SIZE", 1000),
			RespCacheEnabled: getEnvAsBool("RESPCACHE_ENABLED", true),
			DedupWindow:      getEnvAsDurationMS("DEDUP_WINDOW_MS", 500*time.Millisecond),
			DedupWaitTimeout: getEnvAsDuration("DEDUP_WAIT_TIMEOUT_SECONDS", 30*time.Second),
			MetricsInterval:  getEnvAsDuration("METRICS_LOG_INTERVAL", 300*time.Second),
			MetricsBuffer:    getEnvAsInt("METRICS_BUFFER_SIZE", 10000),
		},
		Providers: loadProviderConfigs(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Engine.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1, got %d", c.Engine.MaxWorkers)
	}
	if c.Market.MemoryMaxSize < 1 {
		return fmt.Errorf("MEMORY_MAX_SIZE must be at least 1, got %d", c.Market.MemoryMaxSize)
	}
	return nil
}

// Provider returns the config for a named provider, falling back to defaults
// for anything unset.
func (c *Config) Provider(name string) ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return ProviderDefaults()
}

// loadProviderConfigs builds per-provider settings from environment
// variables. Priorities encode the failover order of the router: the retail
// API leads everywhere it is eligible, the local dataset backs it up for US
// symbols, the broker covers real-time and options, and the regional sources
// own their home markets.
func loadProviderConfigs() map[string]ProviderConfig {
	providers := map[string]ProviderConfig{}

	add := func(name string, priority, rpm int, apply func(*ProviderConfig)) {
		pc := ProviderDefaults()
		pc.Priority = priority
		pc.RequestsPerMinute = rpm
		pc.Enabled = getEnvAsBool("PROVIDER_"+envKey(name)+"_ENABLED", true)
		if p := getEnvAsInt("PROVIDER_"+envKey(name)+"_PRIORITY", 0); p > 0 {
			pc.Priority = p
		}
		if apply != nil {
			apply(&pc)
		}
		providers[name] = pc
	}

	add("yahoo", 10, 60, func(pc *ProviderConfig) {
		pc.CooldownOnError = getEnvAsDuration("YAHOO_COOLDOWN_SECONDS", 120*time.Second)
	})
	add("dataset", 20, 0, func(pc *ProviderConfig) {
		// Local reads: no meaningful rate limit, allow more concurrency.
		pc.MaxConcurrent = 32
	})
	add("tiger", 30, 120, func(pc *ProviderConfig) {
		pc.APIKey = getEnv("TIGER_API_KEY", "")
		pc.APISecret = getEnv("TIGER_API_SECRET", "")
	})
	add("alphavantage", 40, 5, func(pc *ProviderConfig) {
		pc.APIKey = getEnv("ALPHAVANTAGE_API_KEY", "")
		pc.CooldownOnError = getEnvAsDuration("ALPHAVANTAGE_COOLDOWN_SECONDS", 60*time.Second)
	})
	add("tushare", 15, 200, func(pc *ProviderConfig) {
		pc.APIKey = getEnv("TUSHARE_TOKEN", "")
	})
	add("akshare", 15, 60, nil)

	return providers
}

// envKey uppercases a provider name for use in environment variable names.
func envKey(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvAsDurationMS(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
