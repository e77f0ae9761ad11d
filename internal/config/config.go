package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tutoring backend.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel        string
	LogFormat       string
	LogOutput       string
	TracingExporter string

	MongoURI                    string
	MongoUsername               string
	MongoPassword               string
	MongoCluster                string
	MongoDBName                 string
	MongoMaxPoolSize            int
	MongoMinPoolSize            int
	MongoMaxIdleTime            time.Duration
	MongoConnectTimeout         time.Duration
	MongoServerSelectionTimeout time.Duration

	LLMProvider    string
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMMaxRetries  int
	LLMTimeout     time.Duration

	TutorSystemPrompt string
	TutorHistoryLimit int
}

const defaultSystemPrompt = "You are a Socratic tutor. Guide the student with questions instead of handing out answers."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "learnaware"),
		ShutdownTimeout:  15 * time.Second,

		LogLevel:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		LogOutput:       envOrDefault("LOG_OUTPUT", "stderr"),
		TracingExporter: strings.ToLower(envOrDefault("TRACING_EXPORTER", "none")),

		MongoURI:      stringsTrimSpace("MONGO_URI"),
		MongoUsername: stringsTrimSpace("MONGO_USERNAME"),
		MongoPassword: os.Getenv("MONGO_PASSWORD"),
		MongoCluster:  stringsTrimSpace("MONGO_CLUSTER"),
		MongoDBName:   stringsTrimSpace("MONGO_DB_NAME"),
		// Pool defaults mirror the Atlas deployment the service was sized for.
		MongoMaxPoolSize:            10,
		MongoMinPoolSize:            1,
		MongoMaxIdleTime:            10 * time.Second,
		MongoConnectTimeout:         30 * time.Second,
		MongoServerSelectionTimeout: 30 * time.Second,

		LLMProvider:    strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		LLMBaseURL:     stringsTrimSpace("LLM_BASE_URL"),
		LLMAPIKey:      stringsTrimSpace("LLM_API_KEY"),
		LLMModel:       envOrDefault("LLM_MODEL", "mistral-large-latest"),
		LLMTemperature: 0.3,
		LLMMaxRetries:  2,
		LLMTimeout:     60 * time.Second,

		TutorSystemPrompt: envOrDefault("TUTOR_SYSTEM_PROMPT", defaultSystemPrompt),
		TutorHistoryLimit: 20,
	}

	var err error
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MongoMaxPoolSize, err = intFromEnv("MONGO_MAX_POOL_SIZE", cfg.MongoMaxPoolSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MongoMinPoolSize, err = intFromEnv("MONGO_MIN_POOL_SIZE", cfg.MongoMinPoolSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MongoMaxIdleTime, err = durationFromEnv("MONGO_MAX_IDLE_TIME", cfg.MongoMaxIdleTime)
	if err != nil {
		return Config{}, err
	}
	cfg.MongoConnectTimeout, err = durationFromEnv("MONGO_CONNECT_TIMEOUT", cfg.MongoConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MongoServerSelectionTimeout, err = durationFromEnv("MONGO_SERVER_SELECTION_TIMEOUT", cfg.MongoServerSelectionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxRetries, err = intFromEnv("LLM_MAX_RETRIES", cfg.LLMMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TutorHistoryLimit, err = intFromEnv("TUTOR_HISTORY_LIMIT", cfg.TutorHistoryLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.MongoMaxPoolSize <= 0 {
		return Config{}, fmt.Errorf("MONGO_MAX_POOL_SIZE must be positive")
	}
	if cfg.MongoMinPoolSize < 0 || cfg.MongoMinPoolSize > cfg.MongoMaxPoolSize {
		return Config{}, fmt.Errorf("MONGO_MIN_POOL_SIZE must be between 0 and MONGO_MAX_POOL_SIZE")
	}
	if cfg.MongoConnectTimeout <= 0 || cfg.MongoServerSelectionTimeout <= 0 {
		return Config{}, fmt.Errorf("mongo timeouts must be positive")
	}
	if cfg.LLMMaxRetries < 0 {
		return Config{}, fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if cfg.TutorHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("TUTOR_HISTORY_LIMIT must be positive")
	}
	switch cfg.TracingExporter {
	case "none", "stdout":
	default:
		return Config{}, fmt.Errorf("invalid TRACING_EXPORTER: %q (expected none|stdout)", cfg.TracingExporter)
	}

	return cfg, nil
}

// MongoConnectionURI returns MONGO_URI when set, otherwise an Atlas SRV URI
// composed from the username, password and cluster host.
func (c Config) MongoConnectionURI() string {
	if c.MongoURI != "" {
		return c.MongoURI
	}
	if c.MongoCluster == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "mongodb+srv",
		Host:     c.MongoCluster,
		Path:     "/",
		RawQuery: "retryWrites=true&w=majority&appName=Cluster0",
	}
	if c.MongoUsername != "" {
		u.User = url.UserPassword(c.MongoUsername, c.MongoPassword)
	}
	return u.String()
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
