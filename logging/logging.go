// Provide application-wide logging with pre-defined log levels.
// It is just concerned with putting strings into the designated
// buffers and thus hides stuff like Panic() or Fatal().
//
// Packages that want their messages to be recognizable use a component
// logger obtained by [logging.Named], which follows the application wide
// configuration even if it was created before [logging.Initialize] ran.
//
// By default logs of level WARNING and ERROR are printed to stderr.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

func init() {
	Initialize(LevelWarning, nil, nil)
}

type LogLevel int

const (
	LevelNone LogLevel = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

var levelNames = map[string]LogLevel{
	"none":    LevelNone,
	"error":   LevelError,
	"warning": LevelWarning,
	"info":    LevelInfo,
	"debug":   LevelDebug,
}

// ParseLevel resolves a level name like "info" (case-insensitive).
func ParseLevel(s string) (LogLevel, error) {
	l, ok := levelNames[strings.ToLower(s)]
	if !ok {
		return LevelNone, fmt.Errorf("logging: unknown log level '%s'", s)
	}
	return l, nil
}

// LevelFromFlags maps the usual command line switches to a level.
// debug wins over verbose.
func LevelFromFlags(verbose, debug bool) LogLevel {
	switch {
	case debug:
		return LevelDebug
	case verbose:
		return LevelInfo
	}
	return LevelWarning
}

type logger struct {
	ErrorLogger   *log.Logger
	WarningLogger *log.Logger
	InfoLogger    *log.Logger
	DebugLogger   *log.Logger
}

var (
	mu            sync.RWMutex
	currentLogger logger
)

type nilWriter struct{}

func (ni nilWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

var nilLogger = log.New(nilWriter{}, "", 0)

// Initialize the application wide logger to a specific log level.
// This should ideally be called once at the beginning of the application.
// Custom writers can be specified as well: errWriter will be used for
// log levels ERROR and WARNING, logWriter for everything else.
// These may be set to nil, in which case they default to stdout and stderr.
func Initialize(l LogLevel, logWriter io.Writer, errWriter io.Writer) {
	if logWriter == nil {
		logWriter = os.Stdout
	}

	if errWriter == nil {
		errWriter = os.Stderr
	}

	out := logger{
		ErrorLogger:   nilLogger,
		WarningLogger: nilLogger,
		InfoLogger:    nilLogger,
		DebugLogger:   nilLogger,
	}

	if l >= LevelError {
		out.ErrorLogger = log.New(errWriter, "ERROR: ", log.LstdFlags)
	}

	if l >= LevelWarning {
		out.WarningLogger = log.New(errWriter, "WARNING: ", log.LstdFlags)
	}

	if l >= LevelInfo {
		out.InfoLogger = log.New(logWriter, "INFO: ", log.LstdFlags)
	}

	if l >= LevelDebug {
		out.DebugLogger = log.New(logWriter, "DEBUG: ", log.LstdFlags)
	}

	mu.Lock()
	currentLogger = out
	mu.Unlock()
}

func current() logger {
	mu.RLock()
	defer mu.RUnlock()
	return currentLogger
}

func Error(s string) {
	current().ErrorLogger.Print(s)
}

func Errorf(format string, v ...any) {
	current().ErrorLogger.Printf(format, v...)
}

func Warning(s string) {
	current().WarningLogger.Print(s)
}

func Warningf(format string, v ...any) {
	current().WarningLogger.Printf(format, v...)
}

func Info(s string) {
	current().InfoLogger.Print(s)
}

func Infof(format string, v ...any) {
	current().InfoLogger.Printf(format, v...)
}

func Debug(s string) {
	current().DebugLogger.Print(s)
}

func Debugf(format string, v ...any) {
	current().DebugLogger.Printf(format, v...)
}

// Logger prefixes every message with the name of a component.
type Logger struct {
	prefix string
}

// Named returns a logger for the given component.
func Named(component string) Logger {
	return Logger{prefix: component + ": "}
}

func (l Logger) Errorf(format string, v ...any) {
	current().ErrorLogger.Print(l.prefix + fmt.Sprintf(format, v...))
}

func (l Logger) Warningf(format string, v ...any) {
	current().WarningLogger.Print(l.prefix + fmt.Sprintf(format, v...))
}

func (l Logger) Infof(format string, v ...any) {
	current().InfoLogger.Print(l.prefix + fmt.Sprintf(format, v...))
}

func (l Logger) Debugf(format string, v ...any) {
	current().DebugLogger.Print(l.prefix + fmt.Sprintf(format, v...))
}
