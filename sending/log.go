package sending

import "github.com/btcsuite/btclog"

// Subsystem is the logging tag of the sending side.
const Subsystem = "SEND"

var log = btclog.Disabled

// UseLogger sets the logger used by the sending side.
func UseLogger(logger btclog.Logger) {
	log = logger
}
