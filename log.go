package atem

import (
	"io"
	"log"
	"os"
)

// Debug gates the trace-level logging named in spec §4.2/§4.5 (header
// length mismatches, hex dumps of unknown command blocks). Off by default;
// applications embedding the client flip it on while diagnosing protocol
// issues.
var Debug = false

var (
	sockLog     = log.New(os.Stderr, "atem/socket: ", log.LstdFlags)
	connLog     = log.New(os.Stderr, "atem/conn: ", log.LstdFlags)
	dispatchLog = log.New(os.Stderr, "atem/dispatch: ", log.LstdFlags)
)

// SetLogOutput redirects every subsystem logger to w. Passing nil restores
// os.Stderr.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	sockLog.SetOutput(w)
	connLog.SetOutput(w)
	dispatchLog.SetOutput(w)
}
