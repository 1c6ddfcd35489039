// Package config loads the ledger service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	CORS      CORSConfig      `yaml:"cors"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"KARMA_HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"KARMA_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"KARMA_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"KARMA_HTTP_SHUTDOWN_TIMEOUT"`
}

type DatabaseConfig struct {
	Driver         string `yaml:"driver" env:"KARMA_DB_DRIVER"`
	DSN            string `yaml:"dsn" env:"KARMA_DB_DSN"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"KARMA_DB_MIGRATE"`
	MaxOpenConns   int    `yaml:"max_open_conns" env:"KARMA_DB_MAX_OPEN_CONNS"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"KARMA_LOG_LEVEL"`
	Format     string `yaml:"format" env:"KARMA_LOG_FORMAT"`
	Output     string `yaml:"output" env:"KARMA_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"KARMA_LOG_FILE_PREFIX"`
}

// ProtocolConfig holds the emission curve. Amounts are decimal strings.
type ProtocolConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds" env:"PROTOCOL_EMISSION_INTERVAL_SECONDS"`
	Scheduled       bool   `yaml:"scheduled" env:"PROTOCOL_EMISSION_SCHEDULED"`
	K               string `yaml:"k" env:"PROTOCOL_K"`
	MinReward       string `yaml:"min_reward" env:"PROTOCOL_MIN_REWARD"`
	MaxReward       string `yaml:"max_reward" env:"PROTOCOL_MAX_REWARD"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"KARMA_JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"KARMA_JWT_ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"KARMA_JWT_TTL"`
	AdminKey  string        `yaml:"admin_key" env:"KARMA_ADMIN_KEY"`
	AuditFile string        `yaml:"audit_file" env:"KARMA_ADMIN_AUDIT_FILE"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" env:"KARMA_RATE_LIMIT_ENABLED"`
	Backend  string        `yaml:"backend" env:"KARMA_RATE_LIMIT_BACKEND"`
	Requests int           `yaml:"requests" env:"KARMA_RATE_LIMIT_REQUESTS"`
	Window   time.Duration `yaml:"window" env:"KARMA_RATE_LIMIT_WINDOW"`
	Burst    int           `yaml:"burst" env:"KARMA_RATE_LIMIT_BURST"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"KARMA_REDIS_ADDR"`
	Password string `yaml:"password" env:"KARMA_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"KARMA_REDIS_DB"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KARMA_KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" env:"KARMA_KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"KARMA_KAFKA_TOPIC"`
	Acks    int      `yaml:"acks" env:"KARMA_KAFKA_ACKS"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"KARMA_CORS_ORIGINS"`
}

// Default returns a configuration that runs locally against SQLite.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         DriverSQLite,
			DSN:            "karma.db",
			MigrateOnStart: true,
			MaxOpenConns:   10,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "karmad"},
		Protocol: ProtocolConfig{
			IntervalSeconds: 600,
			Scheduled:       true,
			K:               "1000",
			MinReward:       "5",
			MaxReward:       "100",
		},
		Auth: AuthConfig{Issuer: "karma-ledger", TokenTTL: 24 * time.Hour},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Backend:  "memory",
			Requests: 120,
			Window:   time.Minute,
			Burst:    30,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{Topic: "karma.protocol.blocks", Acks: -1},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE, a .env file and the environment, in that order.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom is Load with an explicit YAML path. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "sqlite" {
		c.Database.Driver = DriverSQLite
	}
	c.RateLimit.Backend = strings.ToLower(strings.TrimSpace(c.RateLimit.Backend))
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	c.CORS.AllowedOrigins = splitList(c.CORS.AllowedOrigins)
}

// splitList accepts both repeated values and a single comma separated one.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Protocol.IntervalSeconds < 0 {
		return fmt.Errorf("protocol interval must not be negative, got %d", c.Protocol.IntervalSeconds)
	}
	k, minReward, maxReward, err := c.Protocol.Decimals()
	if err != nil {
		return err
	}
	if k.IsNegative() || minReward.IsNegative() || maxReward.IsNegative() {
		return errors.New("protocol k, min_reward and max_reward must not be negative")
	}
	if maxReward.LessThan(minReward) {
		return fmt.Errorf("protocol max_reward %s is below min_reward %s", maxReward, minReward)
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("unsupported rate limit backend %q", c.RateLimit.Backend)
		}
		if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
			return errors.New("rate limit requests and window must be positive")
		}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || strings.TrimSpace(c.Kafka.Topic) == "") {
		return errors.New("kafka brokers and topic are required when kafka is enabled")
	}
	return nil
}

// Decimals parses the curve parameters.
func (p ProtocolConfig) Decimals() (k, minReward, maxReward decimal.Decimal, err error) {
	if k, err = decimal.NewFromString(strings.TrimSpace(p.K)); err != nil {
		return k, minReward, maxReward, fmt.Errorf("protocol k: %w", err)
	}
	if minReward, err = decimal.NewFromString(strings.TrimSpace(p.MinReward)); err != nil {
		return k, minReward, maxReward, fmt.Errorf("protocol min_reward: %w", err)
	}
	if maxReward, err = decimal.NewFromString(strings.TrimSpace(p.MaxReward)); err != nil {
		return k, minReward, maxReward, fmt.Errorf("protocol max_reward: %w", err)
	}
	return k, minReward, maxReward, nil
}

// Interval returns the scheduler period.
func (p ProtocolConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}
