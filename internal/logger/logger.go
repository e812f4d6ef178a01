package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const timeFormat = "2006-01-02 15:04:05"

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
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

// Options controls where and how log records are written.
//
// Output, AccessLog and ErrorLog accept "stdout", "stderr" or a file path.
// Empty AccessLog/ErrorLog send access records to Output.
type Options struct {
	Level     string
	Format    string
	Output    string
	AccessLog string
	ErrorLog  string
}

var (
	mu           sync.RWMutex
	currentLevel = LevelInfo
	logger       = newLogger(os.Stdout, "text")
	access       = logger
	accessErrors = logger
	openFiles    []*os.File
)

func newLogger(w io.Writer, format string) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: timeFormat}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func SetLevel(level string) {
	l, ok := parseLevel(level)
	if !ok {
		return
	}
	mu.Lock()
	currentLevel = l
	mu.Unlock()
}

// Configure replaces the active sinks. Files opened by a previous call are
// closed once the new sinks are installed and no write to them is in
// flight, so it is safe to call on reload.
func Configure(opts Options) error {
	var files []*os.File
	open := func(target string) (io.Writer, error) {
		switch strings.ToLower(target) {
		case "", "stdout":
			return os.Stdout, nil
		case "stderr":
			return os.Stderr, nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, fmt.Errorf("create log directory for %s: %w", target, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", target, err)
		}
		files = append(files, f)
		return f, nil
	}
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	main, err := open(opts.Output)
	if err != nil {
		closeAll()
		return err
	}
	mainLogger := newLogger(main, opts.Format)

	accessLogger := mainLogger
	if opts.AccessLog != "" {
		w, err := open(opts.AccessLog)
		if err != nil {
			closeAll()
			return err
		}
		accessLogger = newLogger(w, opts.Format)
	}

	errorLogger := accessLogger
	if opts.ErrorLog != "" {
		w, err := open(opts.ErrorLog)
		if err != nil {
			closeAll()
			return err
		}
		errorLogger = newLogger(w, opts.Format)
	}

	level, _ := parseLevel(opts.Level)

	mu.Lock()
	previous := openFiles
	logger, access, accessErrors = mainLogger, accessLogger, errorLogger
	currentLevel = level
	openFiles = files
	mu.Unlock()

	for _, f := range previous {
		_ = f.Close()
	}
	return nil
}

// SetOutput sends every stream to w in text format. Intended for tests.
func SetOutput(w io.Writer) {
	l := newLogger(w, "text")
	mu.Lock()
	logger, access, accessErrors = l, l, l
	mu.Unlock()
}

// The read lock is held for the whole write so Configure cannot close a
// file a record is still being written to.
func log(level Level, format string, v ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if level < currentLevel {
		return
	}

	logger.WithLevel(level.zerolog()).Msgf(format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

// Access records one served request. 2xx goes to the access log at info,
// 3xx at warn, and 4xx/5xx to the error log at error.
func Access(status int, requestLine, remote string) {
	level := LevelInfo
	switch {
	case status >= 400:
		level = LevelError
	case status >= 300:
		level = LevelWarn
	}

	mu.RLock()
	defer mu.RUnlock()
	if level < currentLevel {
		return
	}
	l := access
	if level == LevelError {
		l = accessErrors
	}

	l.WithLevel(level.zerolog()).
		Str("remote", remote).
		Int("status", status).
		Msgf("%q %d - %s", requestLine, status, remote)
}
