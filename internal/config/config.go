// Package config loads the server configuration from the environment.
// A .env file is honored when present so local development needs no
// exported variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	GitHub   GitHubConfig
	Auth     AuthConfig
	Payments PaymentsConfig
	Media    MediaConfig
	City     CityConfig
	Logging  LoggingConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8080"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	FrontendURL     string        `env:"FRONTEND_URL,default=http://localhost:3000"`
	AllowedOrigins  string        `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	AuditLogPath    string        `env:"AUDIT_LOG_PATH"`
}

// DatabaseConfig controls the postgres connection. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	MigrateOnStart  bool          `env:"DATABASE_MIGRATE_ON_START,default=false"`
	MigrationsPath  string        `env:"DATABASE_MIGRATIONS_PATH,default=db/migrations"`
}

// RedisConfig controls the optional cache and leaderboard backend.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

// GitHubConfig controls OAuth and the stats API.
type GitHubConfig struct {
	ClientID     string        `env:"GITHUB_CLIENT_ID"`
	ClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	APIToken     string        `env:"GITHUB_API_TOKEN"`
	APIBaseURL   string        `env:"GITHUB_API_BASE_URL,default=https://api.github.com"`
	OAuthBaseURL string        `env:"GITHUB_OAUTH_BASE_URL,default=https://github.com"`
	Timeout      time.Duration `env:"GITHUB_TIMEOUT,default=10s"`
}

// AuthConfig controls sessions and admin access.
type AuthConfig struct {
	JWTSecret     string        `env:"JWT_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=24h"`
	CookieName    string        `env:"SESSION_COOKIE_NAME,default=git_city_session"`
	CookieSecure  bool          `env:"SESSION_COOKIE_SECURE,default=false"`
	StateSecret   string        `env:"OAUTH_STATE_SECRET"`
	AdminAPIKeys  string        `env:"ADMIN_API_KEYS"`
	RedeemWindow  time.Duration `env:"REFERRAL_REDEEM_WINDOW,default=168h"`
	RateLimit     int           `env:"RATE_LIMIT_PER_SECOND,default=20"`
	RateBurst     int           `env:"RATE_LIMIT_BURST,default=40"`
	RaidPerMinute int           `env:"RAID_RATE_PER_MINUTE,default=3"`
}

// PaymentsConfig controls the card and PIX provider clients.
type PaymentsConfig struct {
	CardBaseURL       string `env:"CARD_BASE_URL"`
	CardAPIKey        string `env:"CARD_API_KEY"`
	CardWebhookSecret string `env:"CARD_WEBHOOK_SECRET"`
	CardSuccessURL    string `env:"CARD_SUCCESS_URL"`

	PIXBaseURL       string        `env:"PIX_BASE_URL"`
	PIXAPIKey        string        `env:"PIX_API_KEY"`
	PIXWebhookSecret string        `env:"PIX_WEBHOOK_SECRET"`
	PIXPollInterval  time.Duration `env:"PIX_POLL_INTERVAL,default=15s"`

	// JSON paths into the PIX provider's charge payloads, so a different
	// PSP only needs configuration.
	PIXTxIDPath   string `env:"PIX_TXID_PATH,default=$.txid"`
	PIXStatusPath string `env:"PIX_STATUS_PATH,default=$.status"`
	PIXQRPath     string `env:"PIX_QR_PATH,default=$.pixCopiaECola"`
	PIXQRURLPath  string `env:"PIX_QR_URL_PATH,default=$.qrcodeImage"`
}

// MediaConfig controls billboard image storage.
type MediaConfig struct {
	BaseURL   string `env:"MEDIA_BASE_URL"`
	APIKey    string `env:"MEDIA_API_KEY"`
	Bucket    string `env:"MEDIA_BUCKET,default=git-city-media"`
	MaxUpload int64  `env:"MEDIA_MAX_UPLOAD_BYTES,default=2097152"`
}

// CityConfig holds the game tuning knobs.
type CityConfig struct {
	BillboardSlotArea  float64       `env:"BILLBOARD_SLOT_AREA,default=320"`
	BillboardMaxSlots  int           `env:"BILLBOARD_MAX_SLOTS,default=8"`
	SkyBillboardSlots  int           `env:"SKY_BILLBOARD_SLOTS,default=12"`
	BillboardRun       time.Duration `env:"BILLBOARD_RUN,default=168h"`
	TagTTL             time.Duration `env:"GRAFFITI_TAG_TTL,default=24h"`
	PendingPurchaseTTL time.Duration `env:"PENDING_PURCHASE_TTL,default=1h"`
	SnapshotCacheTTL   time.Duration `env:"CITY_CACHE_TTL,default=30s"`
	CatalogPath        string        `env:"CATALOG_PATH,default=config/catalog.yaml"`
}

// LoggingConfig controls both loggers.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// Load reads .env when present and decodes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Server.Port)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// AdminKeys splits the configured admin API keys.
func (c *Config) AdminKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.Auth.AdminAPIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Origins splits the configured CORS allowlist.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
