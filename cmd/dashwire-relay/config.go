package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
)

const (
	defaultBindHost      = "127.0.0.1"
	defaultAPIPort       = 8090
	defaultPublishRate   = 50.0
	defaultPublishBurst  = 100
	defaultStatsInterval = time.Minute
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
)

// relayConfig is internal runtime configuration.
type relayConfig struct {
	APIEnabled     bool          `mapstructure:"api-enabled"`
	APIPort        int           `mapstructure:"api-port"`
	APIAddr        string        `mapstructure:"api-addr"`
	SocketPath     string        `mapstructure:"socket-path"`
	PublishRate    float64       `mapstructure:"publish-rate"`
	PublishBurst   int           `mapstructure:"publish-burst"`
	MetricsEnabled bool          `mapstructure:"metrics-enabled"`
	StatsInterval  time.Duration `mapstructure:"stats-interval"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFormat      string        `mapstructure:"log-format"`
	ConfigPath     string        `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (relayConfig, error) {
	var cfg relayConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DASHWIRE_RELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("publish-rate", defaultPublishRate)
	v.SetDefault("publish-burst", defaultPublishBurst)
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("stats-interval", defaultStatsInterval)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "dashwire", "relay.yml"))
	}

	found := true
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		found = false
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if found {
		cfg.ConfigPath = v.ConfigFileUsed()
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.PublishRate < 0 {
		return cfg, fmt.Errorf("invalid publish-rate: %v", cfg.PublishRate)
	}

	// Expand ~ in socket-path
	if strings.HasPrefix(cfg.SocketPath, "~/") {
		cfg.SocketPath = filepath.Join(home, cfg.SocketPath[2:])
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}
