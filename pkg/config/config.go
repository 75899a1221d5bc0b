package config

import (
	"fmt"
	"strings"
	"time"

	"nodeshell/pkg/format"
)

// Shared holds the settings both the shell and the engine need.
type Shared struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	Verbose bool   `koanf:"verbose"`
	LogFile string `koanf:"log"`
}

// Validate ...
func (c *Shared) Validate() []error {
	var errors []error

	if strings.TrimSpace(c.Host) == "" {
		errors = append(errors, fmt.Errorf("'--host' must not be empty"))
	}

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("'--port': %s", err))
	}

	return errors
}

// Addr is the engine's HTTP address.
func (c *Shared) Addr() string {
	return format.Addr(c.Host, c.Port)
}


// Shell configures the shell side.
type Shell struct {
	// ConnectTimeout bounds one socket connection attempt. Zero waits
	// until the attempt succeeds or is released.
	ConnectTimeout time.Duration `koanf:"timeout"`

	// Attach is the address of an engine channel served by
	// "nodeshell engine". Empty starts an engine in-process.
	Attach string `koanf:"attach"`
}

// Validate ...
func (c *Shell) Validate() []error {
	var errors []error

	if c.ConnectTimeout < 0 {
		errors = append(errors, fmt.Errorf("'--timeout' must not be negative"))
	}

	if c.Attach != "" {
		if err := validateHostPort(c.Attach); err != nil {
			errors = append(errors, fmt.Errorf("'--attach': %s", err))
		}
	}

	return errors
}

// Engine configures the engine side.
type Engine struct {
	DataInterval time.Duration `koanf:"interval"`
	StorageDir   string        `koanf:"storage"`

	// Channel is where "nodeshell engine" serves the channel for an
	// attaching shell.
	Channel string `koanf:"channel"`
}

// Validate ...
func (c *Engine) Validate() []error {
	var errors []error

	if c.DataInterval <= 0 {
		errors = append(errors, fmt.Errorf("'--interval' must be positive"))
	}

	if strings.TrimSpace(c.StorageDir) == "" {
		errors = append(errors, fmt.Errorf("'--storage' must not be empty"))
	}

	if c.Channel != "" {
		if err := validateHostPort(c.Channel); err != nil {
			errors = append(errors, fmt.Errorf("'--channel': %s", err))
		}
	}

	return errors
}

// Config is the complete, layered configuration.
type Config struct {
	Shared Shared `koanf:",squash"`
	Shell  Shell  `koanf:"shell"`
	Engine Engine `koanf:"engine"`

	Deps *Dependencies `koanf:"-"`
}

// Validate ...
func (c *Config) Validate() []error {
	return Validate(&c.Shared, &c.Shell, &c.Engine)
}
