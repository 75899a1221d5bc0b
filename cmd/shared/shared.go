// Package shared provides common CLI flag definitions and utility functions
// used across nodeshell's command-line interface.
package shared

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"nodeshell/pkg/config"
	"nodeshell/pkg/log"
)

const categoryCommon = "common"

// ConfigFlag is the name of the flag to specify a YAML config file.
const ConfigFlag = "config"

// HostFlag is the name of the flag to specify the engine's HTTP host.
const HostFlag = "host"

// PortFlag is the name of the flag to specify the engine's HTTP port.
const PortFlag = "port"

// VerboseFlag is the name of the flag to enable verbose error logging.
const VerboseFlag = "verbose"

// LogFileFlag is the name of the flag to specify a channel trace file.
const LogFileFlag = "log"

// GetCommonFlags returns the CLI flags used by both the shell and the engine.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     ConfigFlag,
			Aliases:  []string{"c"},
			Usage:    "YAML config file, flags and " + config.EnvPrefix + "* variables take precedence",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     HostFlag,
			Usage:    "Host of the engine's HTTP API (default 127.0.0.1)",
			Category: categoryCommon,
			Required: false,
		},
		&cli.IntFlag{
			Name:     PortFlag,
			Aliases:  []string{"p"},
			Usage:    "Port of the engine's HTTP API (default 8081)",
			Category: categoryCommon,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose error logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.StringFlag{
			Name:     LogFileFlag,
			Aliases:  []string{"l"},
			Usage:    "Log file receiving a copy of all channel traffic",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
	}
}

const categoryShell = "shell"

// TimeoutFlag is the name of the flag to bound socket connection attempts.
const TimeoutFlag = "timeout"

// AttachFlag is the name of the flag to attach to an engine started with
// "nodeshell engine".
const AttachFlag = "attach"

// GetShellFlags returns the CLI flags specific to the shell.
func GetShellFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:     TimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Timeout of one socket connection attempt, 0 waits until released",
			Category: categoryShell,
			Required: false,
		},
		&cli.StringFlag{
			Name:     AttachFlag,
			Aliases:  []string{"a"},
			Usage:    "Attach to the engine channel at host:port instead of starting an engine",
			Category: categoryShell,
			Required: false,
		},
	}
}

const categoryEngine = "engine"

// IntervalFlag is the name of the flag to specify the data update interval.
const IntervalFlag = "interval"

// StorageFlag is the name of the flag to specify where test files go.
const StorageFlag = "storage"

// ChannelFlag is the name of the flag to specify where the engine serves
// its channel.
const ChannelFlag = "channel"

// GetEngineFlags returns the CLI flags specific to the engine. The shell
// uses them too when it runs the engine in-process.
func GetEngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:     IntervalFlag,
			Aliases:  []string{"i"},
			Usage:    "Interval between data updates on the socket (default 1s)",
			Category: categoryEngine,
			Required: false,
		},
		&cli.StringFlag{
			Name:     StorageFlag,
			Usage:    "Directory for files written on the shell's behalf",
			Category: categoryEngine,
			Required: false,
		},
	}
}

// GetChannelFlags returns the CLI flags of the standalone engine.
func GetChannelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     ChannelFlag,
			Usage:    "Address to serve the channel on for an attaching shell (default 127.0.0.1:8082)",
			Category: categoryEngine,
			Required: false,
		},
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	HostFlag:     "host",
	PortFlag:     "port",
	VerboseFlag:  "verbose",
	LogFileFlag:  "log",
	TimeoutFlag:  "shell.timeout",
	AttachFlag:   "shell.attach",
	IntervalFlag: "engine.interval",
	StorageFlag:  "engine.storage",
	ChannelFlag:  "engine.channel",
}

// Overrides returns the flags the user set explicitly, keyed like the
// config file.
func Overrides(cmd *cli.Command) map[string]any {
	out := map[string]any{}
	for name, key := range flagKeys {
		if cmd.IsSet(name) {
			out[key] = cmd.Value(name)
		}
	}
	return out
}

// LoadConfig layers defaults, the config file, environment and flags and
// validates the result. Validation errors are printed before returning.
func LoadConfig(cmd *cli.Command) (*config.Config, error) {
	var opts []config.Option
	if path := cmd.String(ConfigFlag); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}

	cfg, err := config.NewLoader(opts...).Load(Overrides(cmd))
	if err != nil {
		return nil, err
	}

	if errors := cfg.Validate(); len(errors) > 0 {
		log.ErrorMsg("Argument validation errors:\n")
		for _, err := range errors {
			log.ErrorMsg(" - %s\n", err)
		}
		return nil, fmt.Errorf("exiting")
	}

	return cfg, nil
}

// NewLogger returns the logger for cfg, writing to stderr.
func NewLogger(cfg *config.Config) *log.Logger {
	return log.NewLogger(os.Stderr, cfg.Shared.Verbose)
}
