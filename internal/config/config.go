// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the pidlink server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Thermoquad/pidlink/pkg/pidproto"
	"github.com/Thermoquad/pidlink/pkg/stream"
)

// EnvPrefix is the prefix of environment overrides, e.g. PIDLINK_SERVER_UDPADDR
const EnvPrefix = "PIDLINK"

// ServerConfig is the datagram transport
type ServerConfig struct {
	UDPAddr       string        `mapstructure:"udpAddr"`
	PollInterval  time.Duration `mapstructure:"pollInterval"`
	IOErrorPolicy string        `mapstructure:"ioErrorPolicy"`
}

// ProtocolConfig is the wire format
type ProtocolConfig struct {
	ByteOrder string `mapstructure:"byteOrder"`
}

// StreamConfig is the telemetry publisher
type StreamConfig struct {
	Cadence         time.Duration `mapstructure:"cadence"`
	SendErrorPolicy string        `mapstructure:"sendErrorPolicy"`
}

// WatchdogConfig is the idle auto-stop
type WatchdogConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idleTimeout"`
	CheckInterval time.Duration `mapstructure:"checkInterval"`
}

// PersistConfig is the EEPROM image
type PersistConfig struct {
	Path        string `mapstructure:"path"`
	LoadOnStart bool   `mapstructure:"loadOnStart"`
}

// HTTPConfig is the optional HTTP listener
type HTTPConfig struct {
	Addr   string `mapstructure:"addr"`
	WSPath string `mapstructure:"wsPath"`
}

// MetricsConfig controls prometheus exposition
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// LumberjackConfig is the rolling log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig is the zap logger
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// Config is the full server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Persist  PersistConfig  `mapstructure:"persist"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Load reads the configuration from path, PIDLINK_CONFIG, or pidlink.yaml in
// the working directory or ./configs. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("pidlink")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every key at its default
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.udpAddr", ":1200")
	v.SetDefault("server.pollInterval", "5ms")
	v.SetDefault("server.ioErrorPolicy", "continue")

	v.SetDefault("protocol.byteOrder", "little")

	v.SetDefault("stream.cadence", "20ms")
	v.SetDefault("stream.sendErrorPolicy", "continue")

	v.SetDefault("watchdog.idleTimeout", "10s")
	v.SetDefault("watchdog.checkInterval", "100ms")

	v.SetDefault("persist.path", "pidlink.eeprom")
	v.SetDefault("persist.loadOnStart", true)

	v.SetDefault("http.addr", "")
	v.SetDefault("http.wsPath", "/ws")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)
}

// Validate checks values viper cannot type-check
func (c *Config) Validate() error {
	if c.Server.UDPAddr == "" {
		return fmt.Errorf("server.udpAddr must not be empty")
	}
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("server.pollInterval must be positive, got %s", c.Server.PollInterval)
	}
	if _, err := stream.ParseErrorPolicy(c.Server.IOErrorPolicy); err != nil {
		return fmt.Errorf("server.ioErrorPolicy: %w", err)
	}
	if _, err := pidproto.ParseByteOrder(c.Protocol.ByteOrder); err != nil {
		return fmt.Errorf("protocol.byteOrder: %w", err)
	}
	if c.Stream.Cadence <= 0 {
		return fmt.Errorf("stream.cadence must be positive, got %s", c.Stream.Cadence)
	}
	if _, err := stream.ParseErrorPolicy(c.Stream.SendErrorPolicy); err != nil {
		return fmt.Errorf("stream.sendErrorPolicy: %w", err)
	}
	if c.Watchdog.IdleTimeout < 0 {
		return fmt.Errorf("watchdog.idleTimeout must not be negative, got %s", c.Watchdog.IdleTimeout)
	}
	if c.Watchdog.CheckInterval <= 0 {
		return fmt.Errorf("watchdog.checkInterval must be positive, got %s", c.Watchdog.CheckInterval)
	}
	if c.HTTP.Addr != "" && !strings.HasPrefix(c.HTTP.WSPath, "/") {
		return fmt.Errorf("http.wsPath must start with /, got %q", c.HTTP.WSPath)
	}
	return nil
}

// Codec returns the payload codec for the configured byte order
func (c *Config) Codec() pidproto.Codec {
	order, err := pidproto.ParseByteOrder(c.Protocol.ByteOrder)
	if err != nil {
		return pidproto.DefaultCodec
	}
	return pidproto.NewCodec(order)
}
