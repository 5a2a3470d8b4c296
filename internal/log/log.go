package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	once   sync.Once
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	once.Do(func() {
		zerolog.TimeFieldFormat = consoleTimeFormat
		zerolog.ErrorFieldName = "err"
		logger = newLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}, zerolog.InfoLevel)
	})
}

func newLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(l Level) {
	initLogger()
	mu.Lock()
	logger = logger.Level(toZerolog(l))
	mu.Unlock()
}

// ParseLevel maps a config string ("debug", "info", ...) to a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput redirects the global logger. Output is JSON lines; used by tests
// and by deployments that ship logs to a collector.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger = newLogger(w, logger.GetLevel())
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	logWithLevel(zerolog.DebugLevel, msg, nil, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(zerolog.InfoLevel, msg, nil, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zerolog.WarnLevel, msg, nil, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(zerolog.ErrorLevel, msg, err, kv...)
}

func logWithLevel(level zerolog.Level, msg string, err error, kv ...any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}
	// Expect kv as pairs: key, value, key, value, ...
	// If odd number of args, last one is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
