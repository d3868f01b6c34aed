// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the package-global logger configured by Init
var Log zerolog.Logger

// Init initializes the global logger. If logFilePath is non-empty, logs are
// written to both stdout and the file. level can be "debug", "info", "warn", "error".
func Init(logFilePath, level string) (func(), error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	writers := []io.Writer{os.Stdout}
	var f *os.File
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		// 0640 so logs are not world-readable
		f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	Log = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return func() {
		if f != nil {
			_ = f.Close()
		}
	}, nil
}

// Get returns a pointer to the package-global logger
func Get() *zerolog.Logger {
	return &Log
}
