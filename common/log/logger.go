// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Setup applies the level and format to the standard logger and turns on
// caller reporting, trimmed to file:line. Unknown levels fall back to info.
func Setup(level string, jsonFormat bool) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetReportCaller(true)
	if jsonFormat {
		log.SetFormatter(&log.JSONFormatter{CallerPrettyfier: callerPrettyfier})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, CallerPrettyfier: callerPrettyfier})
	}
}

// callerPrettyfier drops the function name and shortens the file path to its
// last element; full module paths drown out the message.
func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}
