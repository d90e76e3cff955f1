package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// 利用イベント台帳の保存先
const (
	UsageStorePostgres = "postgres"
	UsageStoreRedis    = "redis"
)

// EnvProduction は本番環境を示すAPP_ENVの値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DatabaseDriver string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Environment
	AppEnv string

	// Rate Limit
	RateLimitGeneral int
	RateLimitsFile   string

	// Usage ledger
	UsageStore string
	RedisURL   string

	// Alert
	AlertRecipients  []string
	AlertWebhookURL  string
	AlertNATSURL     string
	AlertNATSSubject string
	AlertSMTPAddr    string
	AlertSMTPFrom    string
	AlertQueueSize   int
	AlertTimeout     time.Duration

	// Scanner
	ScannerURL     string
	ScannerTimeout time.Duration

	// Retention
	SessionRetentionDays int
	UsageRetentionDays   int
	CleanupInterval      time.Duration

	// Tracing
	OTLPEndpoint string
	OTLPInsecure bool

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.UsageStore = strings.ToLower(getEnvString("USAGE_STORE", UsageStorePostgres))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.UsageStore == UsageStoreRedis && cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatabaseDriver = getEnvString("DATABASE_DRIVER", "postgres")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 2592000)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitsFile = getEnvString("RATE_LIMITS_FILE", "")
	cfg.AlertRecipients = getEnvList("ALERT_RECIPIENTS")
	cfg.AlertWebhookURL = getEnvString("ALERT_WEBHOOK_URL", "")
	cfg.AlertNATSURL = getEnvString("ALERT_NATS_URL", "")
	cfg.AlertNATSSubject = getEnvString("ALERT_NATS_SUBJECT", "keihi.alerts.rate_limit")
	cfg.AlertSMTPAddr = getEnvString("ALERT_SMTP_ADDR", "")
	cfg.AlertSMTPFrom = getEnvString("ALERT_SMTP_FROM", "noreply@keihi.local")
	cfg.AlertQueueSize = getEnvInt("ALERT_QUEUE_SIZE", 256)
	cfg.AlertTimeout = getEnvDuration("ALERT_TIMEOUT", 30*time.Second)
	cfg.ScannerURL = getEnvString("SCANNER_URL", "")
	cfg.ScannerTimeout = getEnvDuration("SCANNER_TIMEOUT", 60*time.Second)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 7)
	cfg.UsageRetentionDays = getEnvInt("USAGE_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.OTLPInsecure = getEnvString("OTEL_EXPORTER_OTLP_INSECURE", "") == "true"
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.UsageStore != UsageStorePostgres && cfg.UsageStore != UsageStoreRedis {
		return nil, fmt.Errorf("USAGE_STORE must be %q or %q: %q", UsageStorePostgres, UsageStoreRedis, cfg.UsageStore)
	}

	// Secure属性とDomain属性は本番環境でのみ付与する
	if cfg.IsProduction() {
		cfg.CookieSecure = true
		cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
		if cfg.CookieDomain == "" {
			domain, err := RegistrableDomain(cfg.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to derive cookie domain from BASE_URL: %w", err)
			}
			cfg.CookieDomain = domain
		}
	}

	return cfg, nil
}

// RegistrableDomain はURLのホストから登録可能ドメイン（eTLD+1）を返す。
// テナントのサブドメイン間でCookieを共有するために使用する。
// 例: "https://app.keihi.co.jp" -> "keihi.co.jp"
func RegistrableDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
