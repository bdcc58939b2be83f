package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Map       MapConfig       `mapstructure:"map"`
	Search    SearchConfig    `mapstructure:"search"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	CORSOrigins  string `mapstructure:"cors_origins"`
	// RateLimit is the per-IP request budget per minute on /v1.
	RateLimit int `mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

type ValkeyConfig struct {
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// AuthConfig verifies tokens issued by the external identity provider.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type PresenceConfig struct {
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	MinDistanceM    float64       `mapstructure:"min_distance_m"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	FixTimeout      time.Duration `mapstructure:"fix_timeout"`
	StopPolicy      string        `mapstructure:"stop_policy"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	SweepBatch      int           `mapstructure:"sweep_batch"`
}

type MapConfig struct {
	InitTimeout time.Duration `mapstructure:"init_timeout"`
	StyleURL    string        `mapstructure:"style_url"`
	AccessToken string        `mapstructure:"access_token"`
	CenterLat   float64       `mapstructure:"center_lat"`
	CenterLon   float64       `mapstructure:"center_lon"`
	Zoom        float64       `mapstructure:"zoom"`
	Pitch       float64       `mapstructure:"pitch"`
	Extrusion   bool          `mapstructure:"extrusion"`
}

type SearchConfig struct {
	PerTypeLimit int           `mapstructure:"per_type_limit"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	OrgCacheTTL  time.Duration `mapstructure:"org_cache_ttl"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

type RoutingConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Profile          string        `mapstructure:"profile"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerOpenDelay time.Duration `mapstructure:"breaker_open_delay"`
}

type TemporalConfig struct {
	HostPort      string `mapstructure:"host_port"`
	Namespace     string `mapstructure:"namespace"`
	TaskQueue     string `mapstructure:"task_queue"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.cors_origins", "http://localhost:3000, http://localhost:5173")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "livemap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "livemap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "PRESENCE")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.key_prefix", "livemap")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("presence.publish_interval", "5s")
	v.SetDefault("presence.min_distance_m", 5.0)
	v.SetDefault("presence.write_timeout", "5s")
	v.SetDefault("presence.fix_timeout", "10s")
	v.SetDefault("presence.stop_policy", "freeze")
	v.SetDefault("presence.stale_after", "10m")
	v.SetDefault("presence.heartbeat", "5m")
	v.SetDefault("presence.sweep_batch", 500)
	v.SetDefault("map.init_timeout", "20s")
	v.SetDefault("map.style_url", "mapbox://styles/mapbox/streets-v12")
	v.SetDefault("map.access_token", "")
	v.SetDefault("map.center_lat", 40.4168)
	v.SetDefault("map.center_lon", -3.7038)
	v.SetDefault("map.zoom", 13.0)
	v.SetDefault("map.pitch", 45.0)
	v.SetDefault("map.extrusion", true)
	v.SetDefault("search.per_type_limit", 5)
	v.SetDefault("search.cache_ttl", "60s")
	v.SetDefault("search.org_cache_ttl", "10m")
	v.SetDefault("search.debounce", "350ms")
	v.SetDefault("routing.base_url", "https://router.project-osrm.org")
	v.SetDefault("routing.profile", "driving")
	v.SetDefault("routing.timeout", "8s")
	v.SetDefault("routing.rate_per_second", 5.0)
	v.SetDefault("routing.burst", 10)
	v.SetDefault("routing.breaker_failures", 5)
	v.SetDefault("routing.breaker_open_delay", "30s")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "presence-expiry")
	v.SetDefault("temporal.sweep_schedule", "*/2 * * * *")
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: LIVEMAP_PRESENCE_STOP_POLICY → presence.stop_policy
	v.SetEnvPrefix("LIVEMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Presence.PublishInterval <= 0 {
		errs = append(errs, "presence.publish_interval must be positive")
	}
	if c.Presence.MinDistanceM < 0 {
		errs = append(errs, "presence.min_distance_m must not be negative")
	}
	if p := c.Presence.StopPolicy; p != "freeze" && p != "remove" {
		errs = append(errs, fmt.Sprintf("presence.stop_policy must be freeze or remove, got %q", p))
	}
	if c.Presence.Heartbeat <= 0 || c.Presence.Heartbeat >= c.Presence.StaleAfter {
		errs = append(errs, fmt.Sprintf("presence.heartbeat must be positive and below presence.stale_after (%s), got %s",
			c.Presence.StaleAfter, c.Presence.Heartbeat))
	}
	if c.Map.InitTimeout <= 0 {
		errs = append(errs, "map.init_timeout must be positive")
	}
	if c.Search.PerTypeLimit <= 0 || c.Search.PerTypeLimit > 50 {
		errs = append(errs, fmt.Sprintf("search.per_type_limit must be 1-50, got %d", c.Search.PerTypeLimit))
	}
	if c.Routing.BaseURL == "" {
		errs = append(errs, "routing.base_url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
