//go:build stdlog
// +build stdlog

package build

import "os"

// LoggingType is a log type that only writes to stderr, leaving stdout to
// command output.
const LoggingType = LogTypeStdOut

// Write writes the log line to stderr.
func (w *LogWriter) Write(b []byte) (int, error) {
	return os.Stderr.Write(b)
}
