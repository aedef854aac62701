package decoder

import (
	"log"
	"os"
)

// Logger is the minimal logging capability the engine needs. It is
// satisfied by *log.Logger directly, matching the teacher's habit of
// writing straight to the standard log package rather than adopting a
// structured logging library (none appears anywhere in the example pack).
type Logger interface {
	Printf(format string, args ...any)
}

// defaultLogger is used when New is not given a Logger via WithLogger.
var defaultLogger Logger = log.New(os.Stderr, "decoder: ", log.LstdFlags)
