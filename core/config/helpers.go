package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings returns a flat view of the non-secret settings, for diagnostics.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"app_version":            c.App.Version,
		"app_debug":              c.App.Debug,
		"db_driver":              c.Database.Driver,
		"db_pg_driver":           c.Database.PGDriver,
		"conversation_store":     c.Database.Store,
		"valkey_enabled":         c.Valkey.Enabled,
		"context_cache_capacity": c.Cache.Capacity,
		"context_cache_ttl":      c.Cache.TTL.String(),
		"context_sweep_interval": c.Cache.SweepInterval.String(),
		"llm_provider":           c.LLM.Provider,
		"llm_model":              c.LLM.Model,
		"llm_request_timeout":    c.LLM.RequestTimeout.String(),
		"rag_enabled":            c.RAG.Enabled,
		"persist_worker_pool":    c.WorkerPool.Size,
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
