package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Storage   StorageConfig
	Fetch     FetchConfig
	Session   SessionConfig
	Remote    RemoteConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	CatalogPath string
}

// StorageConfig holds the directory roots of the content store and ledger
type StorageConfig struct {
	RawDir  string
	ZipDir  string
	MetaDir string
	RawExt  string
	ZipExt  string
}

// FetchConfig controls single-shot vs batched remote fetches
type FetchConfig struct {
	BatchThreshold int64
	BatchSize      int64
}

// SessionConfig holds websocket session settings
type SessionConfig struct {
	HeartbeatInterval time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
}

// RemoteConfig holds the remote data source connection settings
type RemoteConfig struct {
	Driver      string // "postgres" or "sqlite"
	DSN         string // used by sqlite
	URL         string // full postgres URL, overrides the discrete fields
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
	TablePrefix string
	RowKey      string
}

// RedisConfig holds the optional redis connection
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// CacheConfig holds schema cache settings
type CacheConfig struct {
	Enabled    bool
	Backend    string // "memory" or "redis"
	DefaultTTL time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// WorkerConfig sizes the worker pool used for fetch, hash and zip work
type WorkerConfig struct {
	PoolSize int
}

// RateLimitConfig caps how many sessions one client may open per window
type RateLimitConfig struct {
	Enabled  bool
	Sessions int64
	Window   time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	dataDir := getEnv("DATA_DIR", "/app/datasets")

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8000),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			CatalogPath: getEnv("DATASET_CATALOG", "/run/secrets/datasets.toml"),
		},
		Storage: StorageConfig{
			RawDir:  getEnv("RAW_DIR", filepath.Join(dataDir, "unzipped")),
			ZipDir:  getEnv("ZIP_DIR", filepath.Join(dataDir, "zipped")),
			MetaDir: getEnv("META_DIR", filepath.Join(dataDir, "metadata")),
			RawExt:  getEnv("RAW_EXT", "csv"),
			ZipExt:  getEnv("ZIP_EXT", "zip"),
		},
		Fetch: FetchConfig{
			BatchThreshold: int64(getEnvInt("FETCH_BATCH_THRESHOLD", 100000)),
			BatchSize:      int64(getEnvInt("FETCH_BATCH_SIZE", 50000)),
		},
		Session: SessionConfig{
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
			WriteWait:         getEnvDuration("WRITE_WAIT", 10*time.Second),
			MaxMessageSize:    int64(getEnvInt("MAX_MESSAGE_SIZE", 64*1024)),
		},
		Remote: RemoteConfig{
			Driver:      getEnv("REMOTE_DRIVER", "postgres"),
			DSN:         getEnv("REMOTE_DSN", ""),
			URL:         getEnv("POSTGRES_URL", ""),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "datasets"),
			User:        getEnv("POSTGRES_USER", "datasets"),
			Password:    readSecret("postgres_password", "POSTGRES_PASSWORD"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 1),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
			TablePrefix: getEnv("REMOTE_TABLE_PREFIX", ""),
			RowKey:      getEnv("REMOTE_ROW_KEY", "id"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: readSecret("redis_password", "REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			Backend:    getEnv("CACHE_BACKEND", "memory"),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Worker: WorkerConfig{
			PoolSize: getEnvInt("WORKER_POOL_SIZE", runtime.NumCPU()),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("RATE_LIMIT_ENABLED", false),
			Sessions: int64(getEnvInt("RATE_LIMIT_SESSIONS", 30)),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Storage.RawDir == "" || c.Storage.ZipDir == "" || c.Storage.MetaDir == "" {
		return fmt.Errorf("raw, zip and metadata directories are required")
	}

	if c.Storage.RawExt == "" || c.Storage.ZipExt == "" || c.Storage.RawExt == c.Storage.ZipExt {
		return fmt.Errorf("raw and zip extensions must be set and differ")
	}

	if c.Fetch.BatchSize < 1 {
		return fmt.Errorf("fetch batch size must be positive: %d", c.Fetch.BatchSize)
	}

	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}

	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be positive: %d", c.Worker.PoolSize)
	}

	switch c.Remote.Driver {
	case "postgres":
		if c.Remote.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Remote.MaxConns < c.Remote.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	case "sqlite":
		if c.Remote.DSN == "" {
			return fmt.Errorf("REMOTE_DSN is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown remote driver: %s", c.Remote.Driver)
	}

	if c.RateLimit.Enabled && (c.RateLimit.Sessions < 1 || c.RateLimit.Window < time.Second) {
		return fmt.Errorf("rate limit needs a positive session count and a window of at least 1s")
	}

	if c.Cache.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("redis cache backend requires REDIS_ENABLED=true")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	if c.Remote.URL != "" {
		return c.Remote.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.Remote.User),
		url.QueryEscape(c.Remote.Password),
		c.Remote.Host,
		c.Remote.Port,
		c.Remote.Database,
	)
}

// RedisAddr returns host:port of the redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// Helper functions

// secretsDir is where container secrets are mounted
var secretsDir = "/run/secrets"

// readSecret reads a mounted secret by name, falling back to an environment variable
func readSecret(name, envKey string) string {
	if data, err := os.ReadFile(filepath.Join(secretsDir, name)); err == nil {
		return strings.TrimSpace(string(data))
	}
	return getEnv(envKey, "")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
