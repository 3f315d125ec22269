package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MetricsCacheEnabled toggles the Redis cache in front of the metrics engine.
//
// Set via env:
// - ENABLE_METRICS_CACHE=true
func MetricsCacheEnabled() bool {
	return EnvBool("ENABLE_METRICS_CACHE", false)
}

// MetricsCacheTTL: METRICS_CACHE_TTL_SECONDS (default 120s).
func MetricsCacheTTL() time.Duration {
	return time.Duration(intFromEnv("METRICS_CACHE_TTL_SECONDS", 120)) * time.Second
}

// MetricsSlowThreshold: METRICS_SLOW_MS (default 500ms).
func MetricsSlowThreshold() time.Duration {
	return time.Duration(intFromEnv("METRICS_SLOW_MS", 500)) * time.Millisecond
}

// IngestLockTTL bounds how long one source's batch may hold the ingestion lock.
// INGEST_LOCK_TTL_SECONDS (default 300s).
func IngestLockTTL() time.Duration {
	return time.Duration(intFromEnv("INGEST_LOCK_TTL_SECONDS", 300)) * time.Second
}

// CollapseContentDuplicates controls whether two events without a source record id
// and with identical content in the same second are treated as one event.
//
// Set via env:
// - COLLAPSE_CONTENT_DUPLICATES=false keeps every row of a batch.
func CollapseContentDuplicates() bool {
	return EnvBool("COLLAPSE_CONTENT_DUPLICATES", true)
}

func EnvBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func EnvString(key string, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func EnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
