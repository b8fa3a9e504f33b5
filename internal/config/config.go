package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server settings. All fields have working defaults so
// the dev server starts with no .env at all.
type Config struct {
	Port          string
	DatabaseDSN   string // empty disables the results store
	LogLevel      string
	FinalDuration time.Duration
	AllowedOrigin string
}

func Load() Config {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	return Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseDSN:   getEnv("DATABASE_DSN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		FinalDuration: time.Duration(getEnvInt("FINAL_SECONDS", 30)) * time.Second,
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
	}
}

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
