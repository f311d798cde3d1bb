package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	// remote workouts store: "postgres" or "rest"
	RemoteBackend  string   `toml:"remote_backend"`
	RemoteTimeout  Duration `toml:"remote_timeout"`
	PostgresHost   string   `toml:"postgres_host"`
	PostgresPort   string   `toml:"postgres_port"`
	PostgresDBName string   `toml:"postgres_db_name"`
	DataApiURL     string   `toml:"data_api_url"`

	// identity provider
	AuthMode        string   `toml:"auth_mode"` // "jwt" or "remote"
	AuthURL         string   `toml:"auth_url"`
	AuthIssuer      string   `toml:"auth_issuer"`
	AuthCacheTTL    Duration `toml:"auth_cache_ttl"`
	AuthCacheSizeMB int      `toml:"auth_cache_size_mb"`

	// local workouts cache: "redis" or "sqlite"
	CacheBackend    string   `toml:"cache_backend"`
	RedisHost       string   `toml:"redis_host"`
	RedisPort       string   `toml:"redis_port"`
	RedisCacheTTL   Duration `toml:"redis_cache_ttl"` // 0 keeps snapshots forever
	SQLiteCachePath string   `toml:"sqlite_cache_path"`

	// workouts
	AllowFutureDates      bool `toml:"allow_future_dates"`
	ImportRateLimitPerMin int  `toml:"import_rate_limit_per_min"`
}

// Duration lets durations be written as "5s" in the TOML file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing", env)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func Load(env, configPath string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(configPath, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode toml config [%s]: %w", configPath, err)
	}
	return tomlConfig.Get(env)
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.RemoteBackend == "" {
		c.RemoteBackend = "postgres"
	}
	if c.RemoteTimeout.Duration == 0 {
		c.RemoteTimeout.Duration = 10 * time.Second
	}
	if c.AuthMode == "" {
		c.AuthMode = "jwt"
	}
	if c.AuthCacheTTL.Duration == 0 {
		c.AuthCacheTTL.Duration = time.Minute
	}
	if c.AuthCacheSizeMB == 0 {
		c.AuthCacheSizeMB = 10
	}
	if c.CacheBackend == "" {
		c.CacheBackend = "redis"
	}
	if c.ImportRateLimitPerMin == 0 {
		c.ImportRateLimitPerMin = 5
	}
}
