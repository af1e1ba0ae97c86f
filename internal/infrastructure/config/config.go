package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	JWT         JWTConfig      `mapstructure:"jwt"`
	Webhooks    WebhookConfig  `mapstructure:"webhooks"`
	Stars       StarsConfig    `mapstructure:"stars"`
	Workers     WorkerConfig   `mapstructure:"workers"`
	Email       EmailConfig    `mapstructure:"email"`
	CDN         CDNConfig      `mapstructure:"cdn"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// WebhookConfig holds the shared secrets presented by webhook providers.
// An empty secret disables the corresponding endpoint (fail closed).
type WebhookConfig struct {
	HeliusSecret   string `mapstructure:"helius_secret"`
	TronGridSecret string `mapstructure:"trongrid_secret"`
	ChainSecret    string `mapstructure:"chain_secret"`
}

// StarsConfig holds the ledger and matching parameters
type StarsConfig struct {
	PerUSD           int `mapstructure:"per_usd"`           // stars credited per USD of deposit value
	ToleranceBps     int `mapstructure:"tolerance_bps"`     // matching tolerance in basis points
	DepositTTLHours  int `mapstructure:"deposit_ttl_hours"` // pending deposit lifetime
	BalanceCacheTTL  int `mapstructure:"balance_cache_ttl"` // seconds
	MaxExtractedAddr int `mapstructure:"max_extracted_addresses"`
}

// WorkerConfig contains background worker configuration
type WorkerConfig struct {
	Count                   int `mapstructure:"count"`
	PollIntervalSeconds     int `mapstructure:"poll_interval_seconds"`
	JobTimeoutSeconds       int `mapstructure:"job_timeout_seconds"`
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   int `mapstructure:"circuit_breaker_timeout_seconds"`
}

type EmailConfig struct {
	Provider  string `mapstructure:"provider"` // "sendgrid" or "" to disable
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// CDNConfig configures the best-effort CDN purge client
type CDNConfig struct {
	PurgeURL string `mapstructure:"purge_url"`
	Token    string `mapstructure:"token"`
	Timeout  int    `mapstructure:"timeout_seconds"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 300)
	viper.SetDefault("server.allowed_origins", []string{"*"})

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "stars_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "stars_service")

	// Stars defaults
	viper.SetDefault("stars.per_usd", 100)
	viper.SetDefault("stars.tolerance_bps", 50)
	viper.SetDefault("stars.deposit_ttl_hours", 24)
	viper.SetDefault("stars.balance_cache_ttl", 60)
	viper.SetDefault("stars.max_extracted_addresses", 50)

	// Worker defaults
	viper.SetDefault("workers.count", 5)
	viper.SetDefault("workers.poll_interval_seconds", 5)
	viper.SetDefault("workers.job_timeout_seconds", 120)
	viper.SetDefault("workers.circuit_breaker_threshold", 5)
	viper.SetDefault("workers.circuit_breaker_timeout_seconds", 60)

	// Email defaults
	viper.SetDefault("email.provider", "")
	viper.SetDefault("email.from_email", "no-reply@vidora.io")
	viper.SetDefault("email.from_name", "Vidora")

	// CDN defaults
	viper.SetDefault("cdn.timeout_seconds", 5)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	if s := os.Getenv("HELIUS_WEBHOOK_SECRET"); s != "" {
		viper.Set("webhooks.helius_secret", s)
	}
	if s := os.Getenv("TRONGRID_WEBHOOK_SECRET"); s != "" {
		viper.Set("webhooks.trongrid_secret", s)
	}
	if s := os.Getenv("CHAIN_WEBHOOK_SECRET"); s != "" {
		viper.Set("webhooks.chain_secret", s)
	}

	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		viper.Set("email.api_key", key)
		viper.Set("email.provider", "sendgrid")
	}

	if url := os.Getenv("CDN_PURGE_URL"); url != "" {
		viper.Set("cdn.purge_url", url)
	}
	if token := os.Getenv("CDN_PURGE_TOKEN"); token != "" {
		viper.Set("cdn.token", token)
	}

	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		viper.Set("redis.host", redisURL)
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		viper.Set("redis.password", redisPass)
	}

	if collector := os.Getenv("OTEL_COLLECTOR_URL"); collector != "" {
		viper.Set("tracing.collector_url", collector)
		viper.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.Stars.PerUSD <= 0 {
		return fmt.Errorf("stars.per_usd must be positive")
	}

	if config.Stars.ToleranceBps < 0 {
		return fmt.Errorf("stars.tolerance_bps must not be negative")
	}

	if config.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive")
	}

	return nil
}
