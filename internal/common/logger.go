package common

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// CreateLogger builds a named hclog.Logger writing to output at logLevel.
// CRITICAL is accepted as a config-level LogLevel but has no hclog
// equivalent above Error, so it maps to Error.
func CreateLogger(output io.Writer, logLevel string, asJSON bool, name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Level:           levelFromString(logLevel),
		Output:          output,
		JSONFormat:      asJSON,
		IncludeLocation: true,
	}).Named(name)
}

// OpenLogFile opens path for appending, creating it if necessary. An empty
// path means "use output as-is" (stdout/stderr from the caller).
func OpenLogFile(path string, fallback io.Writer) (io.Writer, error) {
	if path == "" {
		return fallback, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return SynchronizeWriter(f), nil
}

func levelFromString(level string) hclog.Level {
	switch level {
	case "CRITICAL":
		return hclog.Error
	case "":
		return hclog.Error
	default:
		return hclog.LevelFromString(level)
	}
}
