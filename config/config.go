package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alfanzaky/zkqueue/pkg/utils"
)

const defaultSecret = "change-me"

// Config holds application configuration
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	API      APIConfig
	Queue    QueueConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Name        string
	Environment string
	Port        string
	Debug       bool
	LogLevel    string
}

// DatabaseConfig holds database configuration. DSN, when set, wins over
// the individual connection fields.
type DatabaseConfig struct {
	Driver   string
	DSN      string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Path     string
	MaxIdle  int
	MaxOpen  int
	MaxLife  time.Duration
	Migrate  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds authentication related configuration
type AuthConfig struct {
	AccessSecret   string
	Issuer         string
	Audience       string
	AccessTokenTTL time.Duration
}

// APIConfig holds API configuration
type APIConfig struct {
	TimeoutSeconds int
	MaxRequestSize int64
}

// QueueConfig holds queue policy
type QueueConfig struct {
	StuckTxMaxAge           time.Duration
	LeaseTimeout            time.Duration
	ReclaimBatch            int
	SweepInterval           time.Duration
	AllowedProtocolVersions []int32
	MaxLeaseWait            time.Duration
	MaxViewSize             int
	PageSize                int
	PollInterval            time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	versions, err := utils.ParseInt32List(getEnv("QUEUE_PROTOCOL_VERSIONS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_PROTOCOL_VERSIONS: %w", err)
	}

	config := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "zkqueue"),
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("APP_PORT", "8080"),
			Debug:       getEnvBool("APP_DEBUG", true),
			LogLevel:    getEnv("LOG_LEVEL", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			DSN:      getEnv("DB_DSN", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "zkqueue"),
			User:     getEnv("DB_USER", "zkqueue"),
			Password: getEnv("DB_PASSWORD", "zkqueue"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "zkqueue.db"),
			MaxIdle:  getEnvInt("DB_MAX_IDLE", 10),
			MaxOpen:  getEnvInt("DB_MAX_OPEN", 50),
			MaxLife:  getEnvDuration("DB_MAX_LIFE", time.Hour),
			Migrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			AccessSecret:   getEnv("AUTH_ACCESS_SECRET", defaultSecret),
			Issuer:         getEnv("AUTH_ISSUER", "zkqueue"),
			Audience:       getEnv("AUTH_AUDIENCE", "zkqueue-clients"),
			AccessTokenTTL: getEnvDuration("AUTH_ACCESS_TTL", 24*time.Hour),
		},
		API: APIConfig{
			TimeoutSeconds: getEnvInt("API_TIMEOUT", 30),
			MaxRequestSize: getEnvInt64("API_MAX_REQUEST_SIZE", 4<<20),
		},
		Queue: QueueConfig{
			StuckTxMaxAge:           getEnvDuration("QUEUE_STUCK_TX_MAX_AGE", 24*time.Hour),
			LeaseTimeout:            getEnvDuration("QUEUE_LEASE_TIMEOUT", 10*time.Minute),
			ReclaimBatch:            getEnvInt("QUEUE_RECLAIM_BATCH", 100),
			SweepInterval:           getEnvDuration("QUEUE_SWEEP_INTERVAL", 30*time.Second),
			AllowedProtocolVersions: versions,
			MaxLeaseWait:            getEnvDuration("QUEUE_MAX_LEASE_WAIT", 30*time.Second),
			MaxViewSize:             getEnvInt("QUEUE_MAX_VIEW_SIZE", 1000),
			PageSize:                getEnvInt("QUEUE_PAGE_SIZE", 256),
			PollInterval:            getEnvDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		},
	}

	return config, nil
}

// GetDSN returns the data source name for the configured driver
func (d *DatabaseConfig) GetDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "sqlite":
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", d.Path)
	case "pgx":
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
	default:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
}

// GetRedisAddr returns Redis connection address
func (r *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// IsDevelopment returns true if environment is development
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if environment is production
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "") {
			return fmt.Errorf("database host, name and user are required for %s", c.Database.Driver)
		}
	case "sqlite":
		if c.Database.DSN == "" && strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.App.IsProduction() && (c.Auth.AccessSecret == "" || c.Auth.AccessSecret == defaultSecret) {
		return fmt.Errorf("AUTH_ACCESS_SECRET must be set and not use default value")
	}
	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("AUTH_ACCESS_SECRET is required")
	}

	if c.Queue.LeaseTimeout <= 0 {
		return fmt.Errorf("queue lease timeout must be positive")
	}
	if c.Queue.StuckTxMaxAge <= 0 {
		return fmt.Errorf("queue stuck transaction max age must be positive")
	}
	if c.Queue.ReclaimBatch <= 0 {
		return fmt.Errorf("queue reclaim batch must be positive")
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("queue sweep interval must be positive")
	}
	if len(c.Queue.AllowedProtocolVersions) == 0 {
		return fmt.Errorf("at least one protocol version must be allowed")
	}

	return nil
}

// Print prints configuration (excluding sensitive data)
func (c *Config) Print() {
	fmt.Printf("=== Configuration ===\n")
	fmt.Printf("App Name: %s\n", c.App.Name)
	fmt.Printf("Environment: %s\n", c.App.Environment)
	fmt.Printf("Port: %s\n", c.App.Port)
	fmt.Printf("Debug: %v\n", c.App.Debug)
	fmt.Printf("Database Driver: %s\n", c.Database.Driver)
	if c.Database.Driver == "sqlite" {
		fmt.Printf("Database: %s\n", c.Database.Path)
	} else {
		fmt.Printf("Database: %s:%s/%s\n", c.Database.Host, c.Database.Port, c.Database.Name)
	}
	fmt.Printf("Redis: enabled=%v %s:%s/%d\n", c.Redis.Enabled, c.Redis.Host, c.Redis.Port, c.Redis.DB)
	fmt.Printf("Lease Timeout: %v\n", c.Queue.LeaseTimeout)
	fmt.Printf("Stuck Tx Max Age: %v\n", c.Queue.StuckTxMaxAge)
	fmt.Printf("Protocol Versions: %v\n", c.Queue.AllowedProtocolVersions)
	fmt.Printf("====================\n")
}
