package config

import (
	"fmt"
	"net"
	"strconv"
)

// ValidatableConfig is a config section that can check itself.
type ValidatableConfig interface {
	Validate() []error
}

// Validate collects the errors of all sections.
func Validate(cfgs ...ValidatableConfig) []error {
	var out []error

	for _, cfg := range cfgs {
		out = append(out, cfg.Validate()...)
	}

	return out
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%d not in [1, 65535]", port)
	}

	return nil
}

// validateHostPort checks a "host:port" address. The host may be empty,
// the port must be given explicitly.
func validateHostPort(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port %q is not a number", portStr)
	}
	return validatePort(port)
}
