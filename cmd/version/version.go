// Package version implements the version command.
package version

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"
)

// Version is set at build time via -ldflags "-X nodeshell/cmd/version.Version=...".
// The engine reports it in its HTTP status.
var Version = "unknown"

// String is the line printed by the version command.
func String() string {
	return fmt.Sprintf("nodeshell %s (%s %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Program version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var w io.Writer = os.Stdout
			if root := cmd.Root(); root != nil && root.Writer != nil {
				w = root.Writer
			}
			_, err := fmt.Fprintln(w, String())
			return err
		},
		Flags: []cli.Flag{},
	}
}
