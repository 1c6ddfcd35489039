package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 600*time.Second, cfg.Protocol.Interval())

	k, minReward, maxReward, err := cfg.Protocol.Decimals()
	require.NoError(t, err)
	assert.Equal(t, "1000", k.String())
	assert.Equal(t, "5", minReward.String())
	assert.Equal(t, "100", maxReward.String())
}

func TestLoadFromYAMLThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karma.yaml")
	yaml := `
server:
  addr: ":9000"
database:
  driver: postgres
  dsn: postgres://karma@localhost/karma?sslmode=disable
protocol:
  interval_seconds: 60
  k: "500"
kafka:
  brokers: ["kafka-1:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("PROTOCOL_MAX_REWARD", "250")
	t.Setenv("KARMA_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("KARMA_RATE_LIMIT_WINDOW", "30s")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 60, cfg.Protocol.IntervalSeconds)
	assert.Equal(t, "500", cfg.Protocol.K)
	assert.Equal(t, "250", cfg.Protocol.MaxReward)
	assert.Equal(t, "5", cfg.Protocol.MinReward)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"negative interval", func(c *Config) { c.Protocol.IntervalSeconds = -1 }},
		{"negative min", func(c *Config) { c.Protocol.MinReward = "-1" }},
		{"max below min", func(c *Config) { c.Protocol.MaxReward = "1" }},
		{"malformed k", func(c *Config) { c.Protocol.K = "lots" }},
		{"unknown limiter", func(c *Config) { c.RateLimit.Backend = "etcd" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	mem := Default()
	mem.Database = DatabaseConfig{Driver: DriverMemory}
	assert.NoError(t, mem.Validate())
}
