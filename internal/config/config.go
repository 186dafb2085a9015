package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/jwalitptl/evv-api/pkg/aggregator"
	"github.com/jwalitptl/evv-api/pkg/messaging/redis"
	"github.com/jwalitptl/evv-api/pkg/worker"
)

type Config struct {
	Storage    string           `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Units      UnitsConfig      `mapstructure:"units"`
	Visits     VisitsConfig     `mapstructure:"visits"`
	Claims     ClaimsConfig     `mapstructure:"claims"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	SyncRetry  SyncRetryConfig  `mapstructure:"sync_retry"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	HealthPort      int           `mapstructure:"health_port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type AggregatorConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxFailures       uint32        `mapstructure:"max_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type UnitRuleConfig struct {
	MinimumMinutes int `mapstructure:"minimum_minutes"`
	UnitMinutes    int `mapstructure:"unit_minutes"`
}

type UnitsConfig struct {
	Jurisdiction string                    `mapstructure:"jurisdiction"`
	Rules        map[string]UnitRuleConfig `mapstructure:"rules"`
}

type VisitsConfig struct {
	StartGrace         time.Duration `mapstructure:"start_grace"`
	LateStartThreshold time.Duration `mapstructure:"late_start_threshold"`
}

type ClaimsConfig struct {
	UnitRate       string        `mapstructure:"unit_rate"`
	BlockOnErrors  bool          `mapstructure:"block_on_errors"`
	ExpiringWindow time.Duration `mapstructure:"expiring_window"`
}

// Rate parses the per-unit billing rate.
func (c ClaimsConfig) Rate() (decimal.Decimal, error) {
	return decimal.NewFromString(c.UnitRate)
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type SyncRetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MinAge       time.Duration `mapstructure:"min_age"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// secrets never live in config files.
type secrets struct {
	DBPassword       string `envconfig:"DB_PASSWORD"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	AggregatorAPIKey string `envconfig:"AGGREGATOR_API_KEY"`
	RedisURL         string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage", "postgres")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "evv")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "evv")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "evv.events")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "evv-api")
	v.SetDefault("jwt.cache_ttl", 5*time.Minute)

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("aggregator.base_url", "")
	v.SetDefault("aggregator.api_key", "")
	v.SetDefault("aggregator.timeout", 5*time.Second)
	v.SetDefault("aggregator.max_failures", 5)
	v.SetDefault("aggregator.breaker_timeout", 30*time.Second)
	v.SetDefault("aggregator.requests_per_second", 20)
	v.SetDefault("aggregator.burst", 5)

	v.SetDefault("units.jurisdiction", "default")
	v.SetDefault("units.rules", map[string]interface{}{
		"default": map[string]interface{}{"minimum_minutes": 8, "unit_minutes": 15},
	})

	v.SetDefault("visits.start_grace", 2*time.Hour)
	v.SetDefault("visits.late_start_threshold", 15*time.Minute)

	v.SetDefault("claims.unit_rate", "6.25")
	v.SetDefault("claims.block_on_errors", true)
	v.SetDefault("claims.expiring_window", 30*24*time.Hour)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)

	v.SetDefault("sync_retry.enabled", true)
	v.SetDefault("sync_retry.poll_interval", time.Minute)
	v.SetDefault("sync_retry.min_age", 5*time.Minute)
	v.SetDefault("sync_retry.batch_size", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadConfig reads config.yml from the given directories (or the usual
// locations), applies EVV_* environment overrides and secrets, then validates.
// A missing config file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)
	v.SetEnvPrefix("EVV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process("EVV", &s); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	cfg.applySecrets(s)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s secrets) {
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.AggregatorAPIKey != "" {
		c.Aggregator.APIKey = s.AggregatorAPIKey
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
	}
}

func (c *Config) Validate() error {
	var problems []string
	if c.Storage != "postgres" && c.Storage != "memory" {
		problems = append(problems, fmt.Sprintf("storage must be postgres or memory, got %q", c.Storage))
	}
	if c.JWT.Secret == "" {
		problems = append(problems, "jwt.secret is required (set EVV_JWT_SECRET)")
	}
	if c.Aggregator.BaseURL == "" {
		problems = append(problems, "aggregator.base_url is required")
	}
	if c.Aggregator.Timeout <= 0 {
		problems = append(problems, "aggregator.timeout must be positive")
	}
	if _, ok := c.Units.Rules[strings.ToLower(c.Units.Jurisdiction)]; !ok {
		problems = append(problems, fmt.Sprintf("units.rules has no entry for jurisdiction %q", c.Units.Jurisdiction))
	}
	for name, r := range c.Units.Rules {
		if r.MinimumMinutes <= 0 || r.UnitMinutes <= 0 {
			problems = append(problems, fmt.Sprintf("units.rules.%s needs positive minimum_minutes and unit_minutes", name))
		}
	}
	if rate, err := c.Claims.Rate(); err != nil || rate.IsNegative() {
		problems = append(problems, fmt.Sprintf("claims.unit_rate %q is not a valid non-negative amount", c.Claims.UnitRate))
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 || c.Outbox.RetryAttempts <= 0 || c.Outbox.RetryDelay <= 0 {
		problems = append(problems, "outbox batch_size, poll_interval, retry_attempts and retry_delay must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UnitRule returns the rule for the configured jurisdiction.
func (c *Config) UnitRule() UnitRuleConfig {
	return c.Units.Rules[strings.ToLower(c.Units.Jurisdiction)]
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *AggregatorConfig) ToClientConfig() aggregator.Config {
	return aggregator.Config{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		Timeout:           c.Timeout,
		MaxFailures:       c.MaxFailures,
		BreakerTimeout:    c.BreakerTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}
