package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// New builds the process logger. Components receive entries derived from it
// rather than reaching for a package-level logger.
func New(level, file string) (*log.Logger, io.Closer, error) {
	logger := log.New()
	logger.Formatter = &log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	if file == "" {
		logger.Out = os.Stdout
		return logger, io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", file, err)
	}
	logger.Out = io.MultiWriter(os.Stdout, f)
	return logger, f, nil
}

// Component returns an entry tagged with the component name.
func Component(l log.FieldLogger, name string) *log.Entry {
	return l.WithField("component", name)
}
