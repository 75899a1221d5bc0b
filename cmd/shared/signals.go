package shared

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodeshell/pkg/log"
)

// gracePeriod is how long the shell and the engine get to wind down after
// the first signal.
const gracePeriod = 5 * time.Second

// SetupSignalHandling cancels on the first signal. A second signal, or a
// shutdown outlasting the grace period, exits with a non-zero code.
func SetupSignalHandling(cancel context.CancelFunc, logger *log.Logger) {
	sigCh := make(chan os.Signal, 2)

	ignoreSignals()
	signal.Notify(sigCh, shutdownSignals()...)

	go func() {
		s := <-sigCh
		logger.VerboseMsg("Received %s, shutting down\n", s)
		cancel()

		select {
		case <-sigCh:
		case <-time.After(gracePeriod):
			logger.ErrorMsg("Shutdown took longer than %s\n", gracePeriod)
		}
		os.Exit(exitCode(s))
	}()
}

// exitCode maps s to the POSIX 128+signal convention.
func exitCode(s os.Signal) int {
	if ss, ok := s.(syscall.Signal); ok {
		return 128 + int(ss)
	}
	return 1
}
