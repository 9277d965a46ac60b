package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Queue.LeaseTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Queue.StuckTxMaxAge)
	assert.Equal(t, []int32{1}, cfg.Queue.AllowedProtocolVersions)
	assert.False(t, cfg.Redis.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "/tmp/queue.db")
	t.Setenv("QUEUE_LEASE_TIMEOUT", "90s")
	t.Setenv("QUEUE_PROTOCOL_VERSIONS", "24, 25,24")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("QUEUE_RECLAIM_BATCH", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Queue.LeaseTimeout)
	assert.Equal(t, []int32{24, 25}, cfg.Queue.AllowedProtocolVersions)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 100, cfg.Queue.ReclaimBatch)
	assert.Contains(t, cfg.Database.GetDSN(), "file:/tmp/queue.db")
}

func TestLoad_InvalidProtocolVersions(t *testing.T) {
	t.Setenv("QUEUE_PROTOCOL_VERSIONS", "1,x")

	_, err := Load()
	require.Error(t, err)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", Host: "db", Port: "5432", User: "u", Password: "p", Name: "q", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=q sslmode=disable", d.GetDSN())

	d.Driver = "pgx"
	assert.Equal(t, "postgres://u:p@db:5432/q?sslmode=disable", d.GetDSN())

	d.DSN = "postgres://override"
	assert.Equal(t, "postgres://override", d.GetDSN())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"missing host", func(c *Config) { c.Database.Host = "" }},
		{"default secret in production", func(c *Config) { c.App.Environment = "production" }},
		{"zero lease timeout", func(c *Config) { c.Queue.LeaseTimeout = 0 }},
		{"no protocol versions", func(c *Config) { c.Queue.AllowedProtocolVersions = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
