// Package config provides configuration management for redis-to-cluster.
//
// Values come from three layers, later ones winning: DefaultConfig, an
// optional TOML file, then command-line flags the user actually set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/eager/redis-to-cluster/internal/migrate"
)

// No-expiry policies. See Config.NoExpiry.
const (
	NoExpiryDefaultTTL = "default-ttl"
	NoExpiryPersist    = "persist"
)

// DefaultRetention is the TTL given to keys without expiry under the
// default-ttl policy.
const DefaultRetention = migrate.DefaultRetention

// Config holds the run configuration.
type Config struct {
	// Stores
	Source      string `toml:"source"`
	Destination string `toml:"destination"`

	// Run
	Prefix     string `toml:"prefix"`
	Workers    int    `toml:"workers"`
	Overwrite  bool   `toml:"overwrite"`
	DeleteDest bool   `toml:"delete_dest"`

	// Logging
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	// TTL handling. NoExpiry is "default-ttl" (restore with DefaultTTL) or
	// "persist" (restore without expiry).
	NoExpiry   string        `toml:"no_expiry"`
	DefaultTTL time.Duration `toml:"default_ttl"`

	// Progress and pacing
	ReportEvery    int           `toml:"report_every"`
	DequeueTimeout time.Duration `toml:"dequeue_timeout"`
	DeleteDelay    time.Duration `toml:"delete_delay"`
	DeleteSample   int           `toml:"delete_sample"`

	// Client
	ScanCount    int64         `toml:"scan_count"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Prefix:         "*",
		Workers:        10,
		LogLevel:       "info",
		NoExpiry:       NoExpiryDefaultTTL,
		DefaultTTL:     DefaultRetention,
		ReportEvery:    1000,
		DequeueTimeout: time.Second,
		DeleteDelay:    10 * time.Second,
		DeleteSample:   10,
		ScanCount:      1000,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

// Load reads a TOML file on top of the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks the configuration for values the run cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Destination == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if c.Source == "" && !c.DeleteDest {
		errs = append(errs, errors.New("source is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	switch c.NoExpiry {
	case NoExpiryDefaultTTL:
		if c.DefaultTTL < time.Second {
			errs = append(errs, fmt.Errorf("default_ttl must be at least 1s, got %s", c.DefaultTTL))
		}
	case NoExpiryPersist:
	default:
		errs = append(errs, fmt.Errorf("no_expiry must be %q or %q, got %q", NoExpiryDefaultTTL, NoExpiryPersist, c.NoExpiry))
	}
	if c.ReportEvery < 0 {
		errs = append(errs, fmt.Errorf("report_every must not be negative, got %d", c.ReportEvery))
	}
	if c.DequeueTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dequeue_timeout must be positive, got %s", c.DequeueTimeout))
	}
	if c.DeleteDelay < 0 {
		errs = append(errs, fmt.Errorf("delete_delay must not be negative, got %s", c.DeleteDelay))
	}
	if c.DeleteSample < 0 {
		errs = append(errs, fmt.Errorf("delete_sample must not be negative, got %d", c.DeleteSample))
	}
	if c.ScanCount < 1 {
		errs = append(errs, fmt.Errorf("scan_count must be at least 1, got %d", c.ScanCount))
	}
	return errors.Join(errs...)
}
