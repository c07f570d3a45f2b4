package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	StorageConfigPath string
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	MaxUploadBytes    int64
	CORSOrigins       []string
	FetchCacheBytes   int64
	FetchCacheMaxItem int64
	FetchCacheTTL     time.Duration
}

func Load() *Config {
	return &Config{
		StorageConfigPath: getEnv("STORAGE_CONFIG_PATH", ""),
		Port:              getEnv("PORT", "8080"),
		// read and write deadlines cover the whole upload body; off unless set
		ReadTimeout:       getEnvOptionalSeconds("HTTP_READ_TIMEOUT_SECONDS", 0),
		ReadHeaderTimeout: getEnvDurationSeconds("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5),
		WriteTimeout:      getEnvOptionalSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 0),
		IdleTimeout:       getEnvDurationSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 120),
		ShutdownTimeout:   getEnvDurationSeconds("HTTP_SHUTDOWN_TIMEOUT_SECONDS", 15),
		MaxHeaderBytes:    getEnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxUploadBytes:    int64(getEnvInt("HTTP_MAX_UPLOAD_MB", 1000)) << 20,
		CORSOrigins:       getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		FetchCacheBytes:   int64(getEnvIntAllowZero("FETCH_CACHE_MB", 64)) << 20,
		FetchCacheMaxItem: int64(getEnvInt("FETCH_CACHE_MAX_ITEM_MB", 4)) << 20,
		FetchCacheTTL:     getEnvDurationSeconds("FETCH_CACHE_TTL_SECONDS", 300),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}

	return parsed
}

// getEnvIntAllowZero is getEnvInt where 0 is a meaningful value (disabled).
func getEnvIntAllowZero(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return defaultValue
	}

	return parsed
}

func getEnvDurationSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

// getEnvOptionalSeconds is getEnvDurationSeconds where 0 disables the timeout.
func getEnvOptionalSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvIntAllowZero(key, defaultSeconds)) * time.Second
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
