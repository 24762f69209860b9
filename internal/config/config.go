// Package config holds the engine's tunables, with environment overrides in
// the WEFT_* namespace.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Current snapshot format tags, oldest to newest. Readers fall back through
// older tags; writers always use the last one.
var SnapshotVersions = []string{"v1", "v2"}

type Config struct {
	// CoalesceWindow is how long incoming events buffer before a flush.
	CoalesceWindow time.Duration
	// MaxLiveWorkspaces caps the number of in-memory workspace stores.
	MaxLiveWorkspaces int
	// WorkspaceIdleTTL is how long a workspace may go unaccessed before it
	// becomes eviction-eligible.
	WorkspaceIdleTTL time.Duration
	// CacheMaxEntries and CacheMaxBytes bound the durable cache.
	CacheMaxEntries int
	CacheMaxBytes   int64
	// DataDirectory is where the durable cache database lives. Empty
	// disables persistence.
	DataDirectory string
	// RetryAttempts and RetryDelay seed the default retry options for
	// bootstrap and background refresh calls.
	RetryAttempts int
	RetryDelay    time.Duration
	Debug         bool
}

func Default() Config {
	return Config{
		CoalesceWindow:    16 * time.Millisecond,
		MaxLiveWorkspaces: 8,
		WorkspaceIdleTTL:  10 * time.Minute,
		CacheMaxEntries:   256,
		CacheMaxBytes:     64 << 20,
		RetryAttempts:     3,
		RetryDelay:        500 * time.Millisecond,
	}
}

// Load builds the config from defaults, an optional .env file, and
// environment variables.
func Load() Config {
	// A missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg := Default()
	cfg.CoalesceWindow = envDuration("WEFT_COALESCE_WINDOW", cfg.CoalesceWindow)
	cfg.MaxLiveWorkspaces = envInt("WEFT_MAX_WORKSPACES", cfg.MaxLiveWorkspaces)
	cfg.WorkspaceIdleTTL = envDuration("WEFT_WORKSPACE_TTL", cfg.WorkspaceIdleTTL)
	cfg.CacheMaxEntries = envInt("WEFT_CACHE_MAX_ENTRIES", cfg.CacheMaxEntries)
	cfg.CacheMaxBytes = int64(envInt("WEFT_CACHE_MAX_BYTES", int(cfg.CacheMaxBytes)))
	cfg.RetryAttempts = envInt("WEFT_RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryDelay = envDuration("WEFT_RETRY_DELAY", cfg.RetryDelay)
	if v := os.Getenv("WEFT_DATA_DIR"); v != "" {
		cfg.DataDirectory = v
	}
	if v := os.Getenv("WEFT_DEBUG"); v != "" {
		cfg.Debug, _ = strconv.ParseBool(v)
	}
	return cfg
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
