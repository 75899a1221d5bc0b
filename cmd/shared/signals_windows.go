//go:build windows
// +build windows

package shared

import "os"

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func ignoreSignals() {}
