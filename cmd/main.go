package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"nodeshell/cmd/engine"
	"nodeshell/cmd/run"
	"nodeshell/cmd/version"
	"nodeshell/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:  "nodeshell",
		Usage: "shell driving an embedded engine over a channel, HTTP and a socket",
		Commands: []*cli.Command{
			run.GetCommand(),
			engine.GetCommand(),
			version.GetCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.ErrorMsg("%s\n", err)
		os.Exit(1)
	}
}
