// Package config loads ttcan settings from YAML. Command line flags override
// whatever is set here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roffe/ttcan"
	"github.com/roffe/ttcan/pkg/tt"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAdapter  = "SLCan"
	DefaultBaudrate = 115200
)

// Config mirrors ttcan.yaml.
type Config struct {
	Adapter  string  `yaml:"adapter"`
	Port     string  `yaml:"port"`
	CANRate  float64 `yaml:"canrate"`  // kbit/s
	Baudrate int     `yaml:"baudrate"` // serial speed of the adapter
	Debug    bool    `yaml:"debug"`

	// Timeout bounds the wait for the operator, 0 waits forever.
	Timeout       time.Duration `yaml:"timeout"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	DefaultPeriod time.Duration `yaml:"default_period"`

	// RawValues treats plan values as raw bus values, by default they are physical
	// values scaled with the signal's factor and offset.
	RawValues bool `yaml:"raw_values"`

	// Log is the raw frame log written when --log is not given.
	Log string `yaml:"log"`

	Overrides tt.OverrideTable `yaml:"overrides"`
	// ReplaceOverrides drops the built-in override table instead of extending it.
	ReplaceOverrides bool `yaml:"replace_overrides"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Adapter:       DefaultAdapter,
		CANRate:       ttcan.DefaultCANRate,
		Baudrate:      DefaultBaudrate,
		SendTimeout:   ttcan.DefaultSendTimeout,
		DefaultPeriod: tt.DefaultPeriod,
	}
}

// SearchPaths are tried in order by Find.
func SearchPaths() []string {
	paths := []string{"ttcan.yaml", ".ttcan.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "ttcan", "config.yaml"))
	}
	return paths
}

// Find loads the first config found in SearchPaths, or the defaults when there is none.
func Find() (*Config, error) {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Default(), nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Adapter == "" {
		errs = append(errs, errors.New("adapter must be set"))
	}
	if c.CANRate <= 0 {
		errs = append(errs, fmt.Errorf("canrate %v must be positive", c.CANRate))
	}
	if c.Timeout < 0 || c.DefaultPeriod < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send_timeout %s must be positive", c.SendTimeout))
	}
	for name, set := range c.Overrides {
		if name == "" {
			errs = append(errs, errors.New("override without message name"))
		}
		if len(set.Rules) == 0 && !set.Fallback.Literal {
			errs = append(errs, fmt.Errorf("override %s has neither rules nor a literal fallback", name))
		}
	}
	return errors.Join(errs...)
}

// OverrideTable returns the table the synthesizer should use.
func (c *Config) OverrideTable() tt.OverrideTable {
	if c.ReplaceOverrides {
		return tt.OverrideTable{}.Merge(c.Overrides)
	}
	return tt.DefaultOverrides().Merge(c.Overrides)
}

// AdapterConfig builds the transport settings.
func (c *Config) AdapterConfig() *ttcan.AdapterConfig {
	return &ttcan.AdapterConfig{
		Debug:        c.Debug,
		Port:         c.Port,
		PortBaudrate: c.Baudrate,
		CANRate:      c.CANRate,
	}
}
