// Package run implements the run command, which starts the shell and reads
// its commands from stdin.
package run

import (
	"context"

	"github.com/urfave/cli/v3"

	"nodeshell/cmd/shared"
	"nodeshell/cmd/version"
	"nodeshell/pkg/entrypoint"
)

// GetCommand returns the CLI command for the shell.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the shell, with an in-process engine unless --attach is given",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := shared.LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger := shared.NewLogger(cfg)

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			shared.SetupSignalHandling(cancel, logger)

			return entrypoint.Run(ctx, cfg, version.Version, logger)
		},
		Flags: getFlags(),
	}
}

func getFlags() []cli.Flag {
	flags := []cli.Flag{}

	flags = append(flags, shared.GetCommonFlags()...)
	flags = append(flags, shared.GetShellFlags()...)
	flags = append(flags, shared.GetEngineFlags()...)

	return flags
}
