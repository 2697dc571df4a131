// Package debuglog is a tiny env-gated logger, grounded on the teacher's
// genai/modelcallctx/debug.go (DebugEnabled/infof/warnf/errorf behind
// AGENTLY_SCHEDULER_DEBUG). The workspace stream engine never needs a
// structured logging library for this low-volume diagnostic path, matching
// the teacher's own choice of stdlib log here.
package debuglog

import (
	"log"
	"os"
	"strings"
)

// Enabled reports whether CMUX_STREAM_DEBUG is set to a truthy value.
func Enabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CMUX_STREAM_DEBUG"))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// Printf logs format/args when debugging is enabled; a no-op otherwise.
func Printf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	log.Printf("[cmux][stream] "+format, args...)
}
