package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// logFileLayout names one log file per program start.
const logFileLayout = "2006-01-02_15_04_05.log"

// Init initializes the global logger. When logDir is set, records are also
// written to a timestamped file inside it; the returned closer releases that
// file and is never nil.
func Init(verbose bool, logDir string) (io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
		NoColor:    false,
	}

	if logDir == "" {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
		return nopCloser{}, nil
	}

	file, err := OpenLogFile(logDir, time.Now())
	if err != nil {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
		return nopCloser{}, err
	}

	log.Logger = NewLogger(output, file)
	return file, nil
}

// OpenLogFile creates logDir if needed and opens a fresh log file named after t.
func OpenLogFile(logDir string, t time.Time) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(logDir, t.Format(logFileLayout))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// NewLogger creates a new logger with optional writers
func NewLogger(writers ...io.Writer) zerolog.Logger {
	if len(writers) == 0 {
		return log.Logger
	}

	if len(writers) == 1 {
		return zerolog.New(writers[0]).With().Timestamp().Logger()
	}

	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).With().Timestamp().Logger()
}

// WithComponent creates a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
