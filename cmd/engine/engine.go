// Package engine implements the engine command, which serves the engine
// for a shell started with "run --attach".
package engine

import (
	"context"

	"github.com/urfave/cli/v3"

	"nodeshell/cmd/shared"
	"nodeshell/cmd/version"
	"nodeshell/pkg/entrypoint"
)

// GetCommand returns the CLI command for the standalone engine.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "engine",
		Usage: "Run the engine and wait for a shell to attach",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := shared.LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger := shared.NewLogger(cfg)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel, logger)

			return entrypoint.Engine(ctx, cfg, version.Version, logger)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetEngineFlags()...)
	flags = append(flags, shared.GetChannelFlags()...)

	return flags
}
