package config

import (
	"fmt"
	"os"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("simulator config: %w", err)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}

	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be positive when rate limiting is enabled")
	}

	if s.HTTP3Port == 0 {
		return nil
	}

	if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if s.TLSCertFile == "" || s.TLSKeyFile == "" {
		return fmt.Errorf("TLS certificate and key files are required for HTTP/3")
	}

	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 || r.DB > 15 {
		return fmt.Errorf("invalid Redis DB: %d", r.DB)
	}

	if r.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.PublishInterval <= 0 {
		return fmt.Errorf("publish_interval must be positive")
	}

	if r.TTL < r.PublishInterval {
		return fmt.Errorf("ttl (%v) must not be shorter than publish_interval (%v)", r.TTL, r.PublishInterval)
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true, "panic": true, "trace": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("log output is required")
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}

	if m.Path == "" || m.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

func (s *SyncConfig) Validate() error {
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}

	if s.MinThresholdMs < 1 {
		return fmt.Errorf("min_threshold_ms must be positive")
	}

	if s.ThresholdMs < s.MinThresholdMs {
		return fmt.Errorf("threshold_ms (%d) is below min_threshold_ms (%d)", s.ThresholdMs, s.MinThresholdMs)
	}

	if s.HardThreshold.Seconds()*1000 <= float64(s.ThresholdMs) {
		return fmt.Errorf("hard_threshold (%v) must exceed threshold_ms (%d)", s.HardThreshold, s.ThresholdMs)
	}

	if s.SeekCooldown < 0 || s.SettleDelay < 0 {
		return fmt.Errorf("seek_cooldown and settle_delay must not be negative")
	}

	if s.NudgeStep <= 0 || s.NudgeStep >= 1 {
		return fmt.Errorf("nudge_step must be in (0, 1)")
	}

	if s.MinRate <= 0 || s.MaxRate <= s.MinRate {
		return fmt.Errorf("rate bounds must satisfy 0 < min_rate < max_rate")
	}

	return nil
}

func (s *SimulatorConfig) Validate() error {
	if s.SkewPPM < 0 || s.SkewPPM > 100000 {
		return fmt.Errorf("skew_ppm must be within [0, 100000]")
	}

	if s.ReadyDelay < 0 || s.SeekBuffer < 0 {
		return fmt.Errorf("delays must not be negative")
	}

	return nil
}
