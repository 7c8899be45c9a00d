package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendDynamo = "dynamo"
	BackendSQLite = "sqlite"

	defaultHostPort           = "8080"
	defaultAllowedOrigin      = "http://localhost:5173"
	defaultDynamoDBTable      = "ArtStudio"
	defaultSQSCleanupQueue    = "SessionCleanupQueue"
	defaultSQLitePath         = "data/artstudio.db"
	defaultLogLevel           = "info"
	defaultSessionWriteTimeMs = 5000
	defaultSessionQueueSize   = 1024
)

type Config struct {
	DevMode             bool
	HostPort            string
	AllowedOrigins      []string
	StoreBackend        string
	SQLitePath          string
	DynamoDBEndpoint    string
	DynamoDBTable       string
	RedisEndpoint       string
	SQSEndpoint         string
	SQSCleanupQueue     string
	JWTSecret           []byte
	LogLevel            string
	SessionWriteTimeout time.Duration
	SessionQueueSize    int
}

// LoadConfig reads the server configuration from the environment.
func LoadConfig() (Config, error) {
	devMode := os.Getenv("DEV_MODE") == "true"

	cfg := Config{
		DevMode:             devMode,
		HostPort:            getEnv("HOST_PORT", defaultHostPort),
		AllowedOrigins:      splitCSV(getEnv("ALLOWED_ORIGINS", defaultAllowedOrigin)),
		StoreBackend:        getEnv("STORE_BACKEND", defaultBackend(devMode)),
		SQLitePath:          getEnv("SQLITE_PATH", defaultSQLitePath),
		DynamoDBEndpoint:    os.Getenv("DYNAMODB_ENDPOINT"),
		DynamoDBTable:       getEnv("DYNAMODB_TABLE", defaultDynamoDBTable),
		RedisEndpoint:       os.Getenv("REDIS_ENDPOINT"),
		SQSEndpoint:         os.Getenv("SQS_ENDPOINT"),
		SQSCleanupQueue:     getEnv("SQS_CLEANUP_QUEUE", defaultSQSCleanupQueue),
		LogLevel:            getEnv("LOG_LEVEL", defaultLogLevel),
		SessionWriteTimeout: time.Duration(getEnvInt("SESSION_WRITE_TIMEOUT_MS", defaultSessionWriteTimeMs)) * time.Millisecond,
		SessionQueueSize:    getEnvInt("SESSION_QUEUE_SIZE", defaultSessionQueueSize),
	}

	if cfg.StoreBackend != BackendDynamo && cfg.StoreBackend != BackendSQLite {
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	jwtSecret, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode base64 JWT_SECRET: %w", err)
	}
	cfg.JWTSecret = jwtSecret

	return cfg, nil
}

func defaultBackend(devMode bool) string {
	if devMode {
		return BackendSQLite
	}
	return BackendDynamo
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
