// Package config holds the application configuration for the bleserial
// commands: logging, buffer sizing, the transport profile, pacing and
// adaptation overrides, and outcome-code remapping.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/uutzinger/bleserial/pkg/adapt"
	"github.com/uutzinger/bleserial/pkg/pacing"
)

// Config holds application configuration.
type Config struct {
	LogLevel string `default:"info" yaml:"log_level"`
	Profile  string `default:"balanced" yaml:"profile"`

	TxBufferSize int  `default:"4096" yaml:"tx_buffer_size"`
	RxBufferSize int  `default:"4096" yaml:"rx_buffer_size"`
	OverwriteRx  bool `default:"false" yaml:"overwrite_rx"`

	TickInterval time.Duration `default:"1ms" yaml:"tick_interval"`

	ConnectTimeout time.Duration `default:"30s" yaml:"connect_timeout"`

	Pacing pacing.Config `yaml:"pacing"`
	Adapt  adapt.Config  `yaml:"adapt"`

	// OutcomeOverrides remaps raw transport status codes to outcome class
	// names for stacks whose code meanings differ from the default table.
	OutcomeOverrides map[int]string `yaml:"outcome_overrides"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	c.Pacing = pacing.DefaultConfig()
	c.Adapt = adapt.DefaultConfig()
	return c
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return c, nil
}

// ApplyOverrides installs the configured outcome-code remappings.
func (c *Config) ApplyOverrides(cl *pacing.Classifier) error {
	for code, name := range c.OutcomeOverrides {
		class, err := pacing.ParseClass(name)
		if err != nil {
			return fmt.Errorf("outcome override for code %d: %w", code, err)
		}
		cl.Override(code, class)
	}
	return nil
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
