//go:build !windows
// +build !windows

package shared

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT}
}

// ignoreSignals keeps the process alive when an HTTP client of the engine
// goes away mid-write.
func ignoreSignals() {
	signal.Ignore(unix.SIGPIPE)
}
