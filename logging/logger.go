package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
	With().Timestamp().Logger()

var (
	logFile   *os.File
	logFileMu sync.Mutex
)

// Config controls where logs go and how verbose they are.
type Config struct {
	Level   string // debug, info, warn, error
	Console bool
	Dir     string // when set, logs are also written to <Dir>/<timestamp>.log
}

// DefaultConfig returns console-only logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Console: true,
	}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init rebuilds the global Logger from cfg and returns the log file path, if any.
func Init(cfg Config) (string, error) {
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		})
	}

	var logPath string
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create log directory: %w", err)
		}

		// log/2025-12-08_21-52-35.log
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logPath = filepath.Join(cfg.Dir, timestamp+".log")

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return "", fmt.Errorf("failed to open log file: %w", err)
		}

		logFileMu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		logFile = f
		logFileMu.Unlock()

		writers = append(writers, f)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	return logPath, nil
}

// Close flushes and closes the log file opened by Init.
func Close() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
	}
}

// SetOutput points the global Logger at w. Mostly useful in tests.
func SetOutput(w io.Writer, level zerolog.Level) {
	Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Debug starts a debug-level event tagged with module.
func Debug(module string) *zerolog.Event {
	return Logger.Debug().Str("module", module)
}

// Info starts an info-level event tagged with module.
func Info(module string) *zerolog.Event {
	return Logger.Info().Str("module", module)
}

// Warn starts a warn-level event tagged with module.
func Warn(module string) *zerolog.Event {
	return Logger.Warn().Str("module", module)
}

// Error starts an error-level event tagged with module.
func Error(module string) *zerolog.Event {
	return Logger.Error().Str("module", module)
}
