package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string
	DatabaseURL   string
	RedisURL      string

	GeminiAPIKey     string
	GeminiBaseURL    string
	VeoModel         string
	DashScopeAPIKey  string
	DashScopeBaseURL string
	WanT2VModel      string
	WanI2VModel      string

	PrimaryChain             []string
	FallbackChain            []string
	DispatchConcurrency      int
	DispatchBatchTimeout     time.Duration
	DispatchTransientRetries int

	BreakerFailureThreshold   int
	BreakerCooldown           time.Duration
	BreakerMaxCooldown        time.Duration
	BreakerCooldownMultiplier float64

	WebhookMaxRetries    int
	WebhookBackoff       time.Duration
	WebhookMaxBackoff    time.Duration
	WebhookTimeout       time.Duration
	WebhookSigningSecret string
	ClientWebhookURL     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		VeoModel:         getEnv("VEO_MODEL", "veo-3.0-generate-001"),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeBaseURL: getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		WanT2VModel:      getEnv("WAN_T2V_MODEL", "wan2.2-t2v-plus"),
		WanI2VModel:      getEnv("WAN_I2V_MODEL", "wan2.2-i2v-plus"),

		PrimaryChain:             getEnvList("PRIMARY_CHAIN", []string{"veo", "wan"}),
		FallbackChain:            getEnvList("FALLBACK_CHAIN", []string{"wan"}),
		DispatchConcurrency:      getEnvInt("DISPATCH_CONCURRENCY", 3),
		DispatchBatchTimeout:     time.Second * time.Duration(getEnvInt("DISPATCH_BATCH_TIMEOUT_SECONDS", 60)),
		DispatchTransientRetries: getEnvInt("DISPATCH_TRANSIENT_RETRIES", 0),

		BreakerFailureThreshold:   getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:           time.Second * time.Duration(getEnvInt("BREAKER_COOLDOWN_SECONDS", 30)),
		BreakerMaxCooldown:        time.Second * time.Duration(getEnvInt("BREAKER_MAX_COOLDOWN_SECONDS", 300)),
		BreakerCooldownMultiplier: getEnvFloat("BREAKER_COOLDOWN_MULTIPLIER", 2),

		WebhookMaxRetries:    getEnvInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookBackoff:       time.Millisecond * time.Duration(getEnvInt("WEBHOOK_BACKOFF_MS", 1000)),
		WebhookMaxBackoff:    time.Millisecond * time.Duration(getEnvInt("WEBHOOK_MAX_BACKOFF_MS", 30000)),
		WebhookTimeout:       time.Second * time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10)),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		ClientWebhookURL:     os.Getenv("CLIENT_WEBHOOK_URL"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if len(cfg.PrimaryChain) == 0 && len(cfg.FallbackChain) == 0 {
		return nil, fmt.Errorf("PRIMARY_CHAIN or FALLBACK_CHAIN must name at least one provider")
	}
	if cfg.DispatchConcurrency < 1 {
		return nil, fmt.Errorf("DISPATCH_CONCURRENCY must be >= 1")
	}
	if cfg.BreakerFailureThreshold < 1 {
		return nil, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be >= 1")
	}
	if cfg.WebhookMaxRetries < 1 {
		return nil, fmt.Errorf("WEBHOOK_MAX_RETRIES must be >= 1")
	}
	if cfg.WebhookMaxBackoff < cfg.WebhookBackoff {
		return nil, fmt.Errorf("WEBHOOK_MAX_BACKOFF_MS must be >= WEBHOOK_BACKOFF_MS")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping blanks. An explicitly
// set but blank variable yields an empty list.
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if item := strings.ToLower(strings.TrimSpace(part)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
