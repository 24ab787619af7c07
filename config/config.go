package config

import (
	"os"
	"time"
)

// Config holds everything the tracker reads from the environment.
type Config struct {
	Addr         string
	DataDir      string
	Region       string
	AnthropicKey string
	Model        string
	ScanInterval time.Duration
}

func Load() Config {
	return Config{
		Addr:         getEnv("ADDR", ":8080"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		Region:       getEnv("REGION", "Nashville"),
		AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
		Model:        getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		ScanInterval: getDuration("SCAN_INTERVAL", 24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
