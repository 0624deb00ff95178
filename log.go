package lnduma

import (
	"fmt"
	"io"

	"github.com/btcsuite/btclog"
	"github.com/ellemouton/lnduma/sending"
)

// Subsystem is the logging tag of the receiving server.
const Subsystem = "UMAS"

// log is the package logger. It is disabled until UseLogger is called.
var log = btclog.Disabled

// UseLogger sets the logger used by the receiving server.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// DisableLog silences the receiving server.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// SetupLogging writes the logs of every subsystem to w at the given level.
func SetupLogging(w io.Writer, level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	backend := btclog.NewBackend(w)

	umas := backend.Logger(Subsystem)
	umas.SetLevel(lvl)
	UseLogger(umas)

	send := backend.Logger(sending.Subsystem)
	send.SetLevel(lvl)
	sending.UseLogger(send)

	return nil
}
