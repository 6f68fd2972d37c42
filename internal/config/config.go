package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FRAMERELAY_LOG_FORMAT=json or FRAMERELAY_RELIABLE_HANDSHAKE_TIMEOUT=10s
const EnvPrefix = "FRAMERELAY"

// Config holds tunable values for a relay run. Endpoints and verbosity come
// from the command line, everything else comes from here.
type Config struct {
	// Log controls log output format and the optional rotated log file
	Log LogConfig `mapstructure:"log"`

	// Reliable tunes the QUIC engine behind quic:// endpoints
	Reliable ReliableConfig `mapstructure:"reliable"`

	// Datagram tunes udp:// endpoints
	Datagram DatagramConfig `mapstructure:"datagram"`

	// Metrics controls the optional Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings
type LogConfig struct {
	// Format is console or json
	Format string `mapstructure:"format"`
	// File enables a rotated log file when non-empty
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ReliableConfig tunes the reliable transport engine
type ReliableConfig struct {
	// HandshakeTimeout bounds Listen and Connect. Zero waits forever.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// MaxFrameSize is the largest frame accepted from a peer
	MaxFrameSize int `mapstructure:"max_frame_size"`
	// Linger is how long a sending endpoint waits for its peer to close
	// after the last frame was written
	Linger time.Duration `mapstructure:"linger"`
	// KeepAlive is the QUIC keep-alive period. Zero disables keep-alives.
	KeepAlive time.Duration `mapstructure:"keep_alive"`
}

// DatagramConfig tunes the datagram transport
type DatagramConfig struct {
	// ReadBuffer sets SO_RCVBUF on receiving sockets. Zero keeps the OS default.
	ReadBuffer int `mapstructure:"read_buffer"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is a host:port to serve /metrics on. Empty disables it.
	Addr string `mapstructure:"addr"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Reliable: ReliableConfig{
			MaxFrameSize: 16 << 20,
			Linger:       5 * time.Second,
			KeepAlive:    15 * time.Second,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file at path and
// environment variables carrying EnvPrefix
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed every key so env-only overrides are picked up by Unmarshal
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("reliable.handshake_timeout", cfg.Reliable.HandshakeTimeout)
	v.SetDefault("reliable.max_frame_size", cfg.Reliable.MaxFrameSize)
	v.SetDefault("reliable.linger", cfg.Reliable.Linger)
	v.SetDefault("reliable.keep_alive", cfg.Reliable.KeepAlive)
	v.SetDefault("datagram.read_buffer", cfg.Datagram.ReadBuffer)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	var invalid []string

	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "console", "json":
	default:
		invalid = append(invalid, fmt.Sprintf("log.format %q", c.Log.Format))
	}
	if c.Reliable.HandshakeTimeout < 0 {
		invalid = append(invalid, "reliable.handshake_timeout")
	}
	if c.Reliable.MaxFrameSize <= 0 {
		invalid = append(invalid, "reliable.max_frame_size")
	}
	if c.Reliable.Linger < 0 {
		invalid = append(invalid, "reliable.linger")
	}
	if c.Reliable.KeepAlive < 0 {
		invalid = append(invalid, "reliable.keep_alive")
	}
	if c.Datagram.ReadBuffer < 0 {
		invalid = append(invalid, "datagram.read_buffer")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
	}

	return nil
}
