package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the measurement assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	LLMMode          string
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMHTTPURL       string
	LLMTimeout       time.Duration
	LLMMaxRetries    int
	LLMTemperature   float64
	SystemPrompt     string
	ChatHistoryTurns int

	DatabaseURL string
	LibraryPath string
}

const defaultSystemPrompt = "你是业财一体化智能测算助手，帮助用户完成项目工时与成本测算。回答请简洁、准确。"

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":5000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "bfa"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,
		LLMMode:          envOrDefault("LLM_MODE", "auto"),
		// Ollama's OpenAI-compatible endpoint.
		LLMBaseURL:               envOrDefault("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:                envOrDefault("LLM_API_KEY", "ollama"),
		LLMModel:                 envOrDefault("LLM_MODEL", "qwen3:8b"),
		LLMHTTPURL:               stringsTrimSpace("LLM_HTTP_URL"),
		SystemPrompt:             envOrDefault("LLM_SYSTEM_PROMPT", defaultSystemPrompt),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		LibraryPath:              stringsTrimSpace("BFA_LIBRARY_PATH"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		LLMTimeout:               120 * time.Second,
		LLMMaxRetries:            2,
		LLMTemperature:           0,
		ChatHistoryTurns:         6,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxRetries, err = intFromEnv("LLM_MAX_RETRIES", cfg.LLMMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatHistoryTurns, err = intFromEnv("CHAT_HISTORY_TURNS", cfg.ChatHistoryTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if cfg.LLMMaxRetries < 0 {
		return Config{}, fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return Config{}, fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.ChatHistoryTurns < 0 {
		return Config{}, fmt.Errorf("CHAT_HISTORY_TURNS must be >= 0")
	}
	switch strings.ToLower(cfg.LLMMode) {
	case "auto", "openai", "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid LLM_MODE: %q (expected auto|openai|http|mock)", cfg.LLMMode)
	}
	if strings.EqualFold(cfg.LLMMode, "http") && cfg.LLMHTTPURL == "" {
		return Config{}, fmt.Errorf("LLM_HTTP_URL is required when LLM_MODE=http")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
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
