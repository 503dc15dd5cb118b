package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anime-shed/image-classifier-go/pkg/validation"
)

// Model weight source kinds
const (
	SourceLocal = "local"
	SourceHTTP  = "http"
	SourceAzure = "azure"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	MaxImagePixels     int64
	CORSAllowOrigin    string

	// ONNX Runtime
	ONNXRuntimeLib string

	// Model weights
	ModelSource       string
	ModelDir          string
	ModelBaseURL      string
	ModelAllowedHosts []string
	ModelCacheDir     string
	AzureAccount      string
	AzureKey          string
	AzureContainer    string
	PreloadModels     []string

	// Run history
	HistoryDB   string
	HistorySize int
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "10000"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 5*time.Minute),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 32*1024*1024), // 32MB
		MaxImagePixels:     parseIntOrDefault("MAX_IMAGE_PIXELS", 178956970),
		CORSAllowOrigin:    getEnvOrDefault("CORS_ALLOW_ORIGIN", "*"),
		ONNXRuntimeLib:     os.Getenv("ONNXRUNTIME_LIB"),
		ModelSource:        strings.ToLower(getEnvOrDefault("MODEL_SOURCE", SourceLocal)),
		ModelDir:           getEnvOrDefault("MODEL_DIR", "models"),
		ModelBaseURL:       os.Getenv("MODEL_BASE_URL"),
		ModelAllowedHosts:  parseListOrDefault("MODEL_ALLOWED_HOSTS", nil),
		ModelCacheDir:      getEnvOrDefault("MODEL_CACHE_DIR", "models/cache"),
		AzureAccount:       os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:           os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer:     os.Getenv("AZURE_STORAGE_CONTAINER"),
		PreloadModels:      parseListOrDefault("PRELOAD_MODELS", nil),
		HistoryDB:          os.Getenv("HISTORY_DB"),
		HistorySize:        int(parseIntOrDefault("HISTORY_SIZE", 100)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be > 0 (got %d)", c.MaxImagePixels)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0 (got %s)", c.RequestTimeout)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be > 0 (got %d)", c.HistorySize)
	}

	switch c.ModelSource {
	case SourceLocal:
		if strings.TrimSpace(c.ModelDir) == "" {
			return fmt.Errorf("MODEL_DIR is required for model source %q", c.ModelSource)
		}
	case SourceHTTP:
		if strings.TrimSpace(c.ModelBaseURL) == "" {
			return fmt.Errorf("MODEL_BASE_URL is required for model source %q", c.ModelSource)
		}
		validator := validation.NewURLValidator()
		if len(c.ModelAllowedHosts) > 0 {
			validator = validation.NewURLValidatorWithOptions([]string{"http", "https"}, c.ModelAllowedHosts)
		}
		if err := validator.ValidateBaseURL(c.ModelBaseURL); err != nil {
			return fmt.Errorf("invalid MODEL_BASE_URL: %w", err)
		}
	case SourceAzure:
		if c.AzureAccount == "" || c.AzureKey == "" || c.AzureContainer == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_KEY and AZURE_STORAGE_CONTAINER are required for model source %q", c.ModelSource)
		}
	default:
		return fmt.Errorf("invalid MODEL_SOURCE: %q (want local, http or azure)", c.ModelSource)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// parseListOrDefault splits a comma separated variable, dropping empty items.
func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
