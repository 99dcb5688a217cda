package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	HTTPPort       string
	LogMode        string
	AdminJWTSecret string

	// Optional: when set, cache misses on the query endpoint can generate a
	// fresh response through Gemini and save it.
	GeminiAPIKey string

	// Defaults for the retention sweep; callers can override per request.
	PurgeMaxAgeDays int
	PurgeMinUsage   int
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := Config{
		DatabaseURL:     getEnv("DATABASE_URL", "semcache.db"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogMode:         getEnv("LOG_MODE", "development"),
		AdminJWTSecret:  getEnv("ADMIN_JWT_SECRET", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		PurgeMaxAgeDays: getEnvAsInt("PURGE_MAX_AGE_DAYS", 30),
		PurgeMinUsage:   getEnvAsInt("PURGE_MIN_USAGE", 2),
	}

	if cfg.AdminJWTSecret == "" {
		log.Fatal("ADMIN_JWT_SECRET environment variable is required")
	}

	return cfg
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
