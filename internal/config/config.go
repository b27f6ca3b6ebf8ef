package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Streams   []StreamConfig  `mapstructure:"streams"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HTTP/3 is served only when a port and TLS files are configured
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	RateLimit      float64 `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst      int     `mapstructure:"rate_burst"`
	DebugEndpoints bool    `mapstructure:"debug_endpoints"`
}

type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addresses       []string      `mapstructure:"addresses"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	TTL             time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// SyncConfig tunes the drift correction loop.
type SyncConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ThresholdMs    int           `mapstructure:"threshold_ms"`
	MinThresholdMs int           `mapstructure:"min_threshold_ms"`
	HardThreshold  time.Duration `mapstructure:"hard_threshold"`
	SeekCooldown   time.Duration `mapstructure:"seek_cooldown"`
	NudgeStep      float64       `mapstructure:"nudge_step"`
	MinRate        float64       `mapstructure:"min_rate"`
	MaxRate        float64       `mapstructure:"max_rate"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
}

// SimulatorConfig tunes the built-in simulated players.
type SimulatorConfig struct {
	SkewPPM    int           `mapstructure:"skew_ppm"`
	ReadyDelay time.Duration `mapstructure:"ready_delay"`
	SeekBuffer time.Duration `mapstructure:"seek_buffer"`
}

// StreamConfig is one entry of the initial stream list; the first entry
// becomes the primary.
type StreamConfig struct {
	Identifier string `mapstructure:"identifier"`
	OffsetMs   int    `mapstructure:"offset_ms"`
}

// Load reads configPath (optional) layered over defaults, a .env file in the
// working directory if present, and LOCKSTEP_* environment variables.
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LOCKSTEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.http3_port", 0)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.debug_endpoints", false)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.key_prefix", "lockstep:")
	v.SetDefault("redis.publish_interval", "1s")
	v.SetDefault("redis.ttl", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Sync defaults
	v.SetDefault("sync.tick_interval", "100ms")
	v.SetDefault("sync.threshold_ms", 40)
	v.SetDefault("sync.min_threshold_ms", 5)
	v.SetDefault("sync.hard_threshold", "250ms")
	v.SetDefault("sync.seek_cooldown", "1s")
	v.SetDefault("sync.nudge_step", 0.10)
	v.SetDefault("sync.min_rate", 0.25)
	v.SetDefault("sync.max_rate", 2.0)
	v.SetDefault("sync.settle_delay", "50ms")

	// Simulator defaults
	v.SetDefault("simulator.skew_ppm", 2000)
	v.SetDefault("simulator.ready_delay", "200ms")
	v.SetDefault("simulator.seek_buffer", "150ms")
}
