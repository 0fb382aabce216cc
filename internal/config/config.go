package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName               string
	AppEnv                string
	AppPort               string
	DatabaseDriver        string
	DatabaseURL           string
	RedisURL              string
	NATSURL               string
	RealtimeChannel       string
	JWTSecret             string
	ExamCacheTTL          time.Duration
	AIProvider            string
	AIModel               string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	AnthropicAPIKey       string
	GradingTimeout        time.Duration
	GradingConcurrency    int
	DefaultRigor          float64
	NotificationKeepAlive time.Duration
	SeedEnabled           bool
	SeedToken             string
	BulkRateLimit         int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Exam API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("realtime.channel", "gema:exam")
	v.SetDefault("exam.cache_ttl", "5m")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("grading.timeout", "60s")
	v.SetDefault("grading.concurrency", 1)
	v.SetDefault("grading.default_rigor", 0.5)
	v.SetDefault("notification.keepalive", "30s")
	v.SetDefault("seed.enabled", false)
	v.SetDefault("rate_limit.bulk_per_minute", 10)

	cacheTTL, err := parseDuration(v, "exam.cache_ttl", 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid exam cache ttl: %w", err)
	}

	gradingTimeout, err := parseDuration(v, "grading.timeout", time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid grading timeout: %w", err)
	}

	keepAlive, err := parseDuration(v, "notification.keepalive", 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid notification keepalive: %w", err)
	}

	cfg := Config{
		AppName:               v.GetString("app.name"),
		AppEnv:                v.GetString("app.env"),
		AppPort:               v.GetString("app.port"),
		DatabaseDriver:        strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:           v.GetString("database.url"),
		RedisURL:              v.GetString("redis.url"),
		NATSURL:               v.GetString("nats.url"),
		RealtimeChannel:       v.GetString("realtime.channel"),
		JWTSecret:             v.GetString("jwt.secret"),
		ExamCacheTTL:          cacheTTL,
		AIProvider:            strings.ToLower(v.GetString("ai.provider")),
		AIModel:               v.GetString("ai.model"),
		OpenAIAPIKey:          v.GetString("openai_api_key"),
		OpenAIBaseURL:         v.GetString("openai_base_url"),
		AnthropicAPIKey:       v.GetString("anthropic_api_key"),
		GradingTimeout:        gradingTimeout,
		GradingConcurrency:    v.GetInt("grading.concurrency"),
		DefaultRigor:          v.GetFloat64("grading.default_rigor"),
		NotificationKeepAlive: keepAlive,
		SeedEnabled:           v.GetBool("seed.enabled"),
		SeedToken:             v.GetString("seed.token"),
		BulkRateLimit:         v.GetInt("rate_limit.bulk_per_minute"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.GradingConcurrency <= 0 {
		cfg.GradingConcurrency = 1
	}

	if cfg.DefaultRigor < 0 || cfg.DefaultRigor > 1 {
		return Config{}, fmt.Errorf("grading default rigor must be between 0 and 1")
	}

	if cfg.BulkRateLimit <= 0 {
		cfg.BulkRateLimit = 10
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
