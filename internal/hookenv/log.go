// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hookenv

import (
	"github.com/juju/loggo"
)

// logLevels maps loggo levels onto the levels juju-log accepts.
var logLevels = map[loggo.Level]string{
	loggo.TRACE:    "TRACE",
	loggo.DEBUG:    "DEBUG",
	loggo.INFO:     "INFO",
	loggo.WARNING:  "WARNING",
	loggo.ERROR:    "ERROR",
	loggo.CRITICAL: "ERROR",
}

// LogWriter is a loggo.Writer that forwards log records to the
// juju-log hook tool, so charm logging lands in the model's debug log.
type LogWriter struct {
	tools *Tools
}

// NewLogWriter returns a LogWriter writing through the given Tools.
func NewLogWriter(tools *Tools) *LogWriter {
	return &LogWriter{tools: tools}
}

// Write implements loggo.Writer. Failures to log are swallowed; there
// is nowhere better to report them from inside a hook.
func (w *LogWriter) Write(entry loggo.Entry) {
	level, ok := logLevels[entry.Level]
	if !ok {
		level = "INFO"
	}
	_, _ = w.tools.run("juju-log", "--log-level", level, "--", entry.Message)
}
