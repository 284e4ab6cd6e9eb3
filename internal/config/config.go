// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// AuthTokenMode はベアラートークンの発行方式。
type AuthTokenMode string

const (
	// AuthTokenModeSession はDBに保存する不透明トークン方式。
	AuthTokenModeSession AuthTokenMode = "session"
	// AuthTokenModeJWT は署名付きステートレストークン方式。
	AuthTokenModeJWT AuthTokenMode = "jwt"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	DBSSL       bool   `env:"DB_SSL" env-default:"false"`

	// Server
	Port          string `env:"PORT" env-default:"4000"`
	ProductionURL string `env:"PRODUCTION_URL"`

	// WebPay
	WebPayStoreID        string `env:"WEBPAY_STORE_ID"`
	WebPaySecretKey      string `env:"WEBPAY_SECRET_KEY"`
	WebPayAPIURL         string `env:"WEBPAY_API_URL" env-default:"https://sandbox.webpay.by"`
	WebPayVerifyCallback bool   `env:"WEBPAY_VERIFY_CALLBACK" env-default:"true"`
	AppDeepLinkScheme    string `env:"APP_DEEP_LINK_SCHEME" env-default:"app"`

	// Auth
	AuthTokenMode AuthTokenMode `env:"AUTH_TOKEN_MODE" env-default:"session"`
	JWTSecret     string        `env:"JWT_SECRET"`
	SessionMaxAge int           `env:"SESSION_MAX_AGE" env-default:"604800"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" env-default:"*"`

	// Redis
	RedisURL       string        `env:"REDIS_URL"`
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" env-default:"30s"`

	// Kafka
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaPaymentTopic string   `env:"KAFKA_PAYMENT_TOPIC" env-default:"payment-events"`

	// Rate Limit（req/min）
	RateLimitGeneral   int `env:"RATE_LIMIT_GENERAL" env-default:"120"`
	RateLimitSensitive int `env:"RATE_LIMIT_SENSITIVE" env-default:"10"`

	// Cleanup
	CallbackLogRetentionDays int `env:"CALLBACK_LOG_RETENTION_DAYS" env-default:"90"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	switch cfg.AuthTokenMode {
	case AuthTokenModeSession:
	case AuthTokenModeJWT:
		if cfg.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
	default:
		return nil, fmt.Errorf("unsupported AUTH_TOKEN_MODE: %q", cfg.AuthTokenMode)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if cfg.CallbackLogRetentionDays <= 0 {
		return nil, fmt.Errorf("CALLBACK_LOG_RETENTION_DAYS must be positive: %d", cfg.CallbackLogRetentionDays)
	}

	cfg.KafkaBrokers = nonEmpty(cfg.KafkaBrokers)
	cfg.ProductionURL = strings.TrimRight(cfg.ProductionURL, "/")
	cfg.WebPayAPIURL = strings.TrimRight(cfg.WebPayAPIURL, "/")

	return cfg, nil
}

// WebPaySandbox はゲートウェイURLがサンドボックスを指しているかを返す。
func (c *Config) WebPaySandbox() bool {
	return strings.Contains(c.WebPayAPIURL, "sandbox")
}

// SessionMaxAgeDuration はトークン有効期間をtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// nonEmpty は空白を除いた空でない要素だけを返す。
// KAFKA_BROKERS= のように空で設定された場合は空スライスになる。
func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
