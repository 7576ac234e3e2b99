// Package config loads client configuration from defaults, an optional YAML
// file and DASHWIRE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/dashwire/pkg/service"
	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
)

const (
	BusLocal = "local"
	BusRelay = "relay"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultUpdateRetry    = 3 * time.Second
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// Config is the client configuration.
type Config struct {
	ServerURL        string        `mapstructure:"server-url"`
	Host             string        `mapstructure:"host"`
	DatabaseType     string        `mapstructure:"database-type"`
	RequestTimeout   time.Duration `mapstructure:"request-timeout"`
	ListenForUpdates bool          `mapstructure:"listen-for-updates"`
	UpdateRetry      time.Duration `mapstructure:"update-retry"`
	Bus              string        `mapstructure:"bus"`
	SocketPath       string        `mapstructure:"socket-path"`
	LogLevel         string        `mapstructure:"log-level"`
	LogFormat        string        `mapstructure:"log-format"`
	ConfigPath       string        `mapstructure:"-"` // not from config file
}

// DefaultPath returns ~/.config/dashwire/config.yml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: finding home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dashwire", "config.yml"), nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		ServerURL:        service.DefaultServerURL,
		RequestTimeout:   defaultRequestTimeout,
		ListenForUpdates: true,
		UpdateRetry:      defaultUpdateRetry,
		Bus:              BusLocal,
		SocketPath:       socketrpc.DefaultSocketPath(),
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
	}
}

// Load reads configuration. An empty configPath selects DefaultPath; a
// missing file is not an error.
func Load(configPath string) (Config, error) {
	var cfg Config

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		configPath = p
	}

	d := Defaults()
	v := viper.New()
	v.SetEnvPrefix("DASHWIRE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("server-url", d.ServerURL)
	v.SetDefault("host", d.Host)
	v.SetDefault("database-type", d.DatabaseType)
	v.SetDefault("request-timeout", d.RequestTimeout)
	v.SetDefault("listen-for-updates", d.ListenForUpdates)
	v.SetDefault("update-retry", d.UpdateRetry)
	v.SetDefault("bus", d.Bus)
	v.SetDefault("socket-path", d.SocketPath)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)

	v.SetConfigFile(configPath)
	found := true
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		found = false
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	if found {
		cfg.ConfigPath = v.ConfigFileUsed()
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch c.Bus {
	case BusLocal, BusRelay:
	default:
		return fmt.Errorf("config: invalid bus %q (want %s or %s)", c.Bus, BusLocal, BusRelay)
	}
	if c.Bus == BusRelay && c.SocketPath == "" {
		return errors.New("config: socket-path is required for the relay bus")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("config: negative request-timeout: %s", c.RequestTimeout)
	}
	if c.UpdateRetry <= 0 {
		return fmt.Errorf("config: update-retry must be positive: %s", c.UpdateRetry)
	}
	return nil
}
