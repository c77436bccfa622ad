//go:build !stdlog && !nolog
// +build !stdlog,!nolog

package build

// LoggingType is a log type that writes to the log rotator only. Stdout
// carries command output.
const LoggingType = LogTypeDefault

// Write writes the byte slice to the log rotator, if present.
func (w *LogWriter) Write(b []byte) (int, error) {
	if w.RotatorPipe == nil {
		return len(b), nil
	}

	return w.RotatorPipe.Write(b)
}
