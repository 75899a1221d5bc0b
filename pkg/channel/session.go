package channel

import (
	"io"
	stdlog "log"

	"github.com/hashicorp/yamux"
)

func config() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = nil
	cfg.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags) // discard all console logging in yamux
	return cfg
}
