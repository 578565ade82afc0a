package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"skyhub/internal/app/errors"
)

// Config represents the server configuration
type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Server struct {
		TCPAddr string `yaml:"tcp_addr"`
		WSAddr  string `yaml:"ws_addr"`
		WSPath  string `yaml:"ws_path"`
	} `yaml:"server"`
	Queue struct {
		Outbound     int `yaml:"outbound"`
		ClientBuffer int `yaml:"client_buffer"`
	} `yaml:"queue"`
	Objects struct {
		SizeLimit int `yaml:"size_limit"`
	} `yaml:"objects"`
	Commands struct {
		Timeout       time.Duration `yaml:"timeout"`
		CleanupPeriod time.Duration `yaml:"cleanup_period"`
	} `yaml:"commands"`
	RateLimits struct {
		BatchDelay     time.Duration `yaml:"batch_delay"`
		SettleDelay    time.Duration `yaml:"settle_delay"`
		StableStateAge time.Duration `yaml:"stable_state_age"`
	} `yaml:"rate_limits"`
	Connections struct {
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
		RetryAttempts int           `yaml:"retry_attempts"`
	} `yaml:"connections"`

	// Path is the resolved config file path, empty when defaults were used
	Path string `yaml:"-"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Level = LogLevel
	cfg.Logging.Format = LogFormat

	cfg.Server.TCPAddr = TCPListenAddr
	cfg.Server.WSAddr = WSListenAddr
	cfg.Server.WSPath = WSPath

	cfg.Queue.Outbound = OutboundQueueSize
	cfg.Queue.ClientBuffer = ClientBufferSize

	cfg.Objects.SizeLimit = ObjectRegistrySize

	cfg.Commands.Timeout = CommandTimeout
	cfg.Commands.CleanupPeriod = CommandCleanupPeriod

	cfg.RateLimits.BatchDelay = StatusBatchDelay
	cfg.RateLimits.SettleDelay = ConnSettleDelay
	cfg.RateLimits.StableStateAge = ConnStableStateAge

	cfg.Connections.RetryBackoff = RetryBackoff
	cfg.Connections.RetryAttempts = RetryAttempts

	return cfg
}

// Load loads the configuration from the given file, falling back to defaults
// when the file does not exist. An empty path resolves to ConfigFileName in
// the working directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToReadConfig, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToParseConfig, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToParseConfig, err)
	}

	applyEnvOverrides(v, cfg)

	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies SKYHUB_* environment overrides on top of the file
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = s
	}

	if s := v.GetString("logging.format"); s != "" {
		cfg.Logging.Format = s
	}

	if s := v.GetString("server.tcp_addr"); s != "" {
		cfg.Server.TCPAddr = s
	}

	if s := v.GetString("server.ws_addr"); s != "" {
		cfg.Server.WSAddr = s
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Queue.Outbound <= 0 {
		return errors.ErrInvalidQueueSize
	}

	if c.Queue.ClientBuffer <= 0 {
		return errors.ErrInvalidQueueSize
	}

	if c.Objects.SizeLimit <= 0 {
		return errors.ErrInvalidSizeLimit
	}

	if c.Commands.Timeout <= 0 {
		return errors.ErrInvalidCommandTimeout
	}

	if c.Commands.CleanupPeriod <= 0 {
		return errors.ErrInvalidCleanupPeriod
	}

	if c.RateLimits.BatchDelay < 0 || c.RateLimits.SettleDelay < 0 || c.RateLimits.StableStateAge < 0 {
		return errors.ErrInvalidRateLimitDelay
	}

	if c.Connections.RetryBackoff < 0 {
		return errors.ErrInvalidRetryBackoff
	}

	if c.Connections.RetryAttempts < 0 {
		return errors.ErrInvalidRetryAttempts
	}

	return nil
}
