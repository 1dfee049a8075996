package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

type Logger struct {
	mu            *sync.Mutex
	out           *log.Logger
	closer        io.Closer
	level         Level
	includeStdout bool
	stdout        io.Writer
	scope         string
}

// New opens (or creates) the log file at filePath in append mode.
func New(filePath string, level Level, includeStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	l := NewWriter(f, level, includeStdout)
	l.closer = f
	return l, nil
}

// NewWriter logs to w instead of a file.
func NewWriter(w io.Writer, level Level, includeStdout bool) *Logger {
	return &Logger{
		mu:            &sync.Mutex{},
		out:           log.New(w, "", 0),
		level:         level,
		includeStdout: includeStdout,
		stdout:        os.Stdout,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWriter(io.Discard, LevelFatal+1, false)
}

// Scoped returns a logger sharing the output of l that prefixes every line with scope.
func (l *Logger) Scoped(scope string) *Logger {
	return &Logger{
		mu:            l.mu,
		out:           l.out,
		level:         l.level,
		includeStdout: l.includeStdout,
		stdout:        l.stdout,
		scope:         scope,
	}
}

func (l *Logger) log(lvl Level, prefix string, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	if l.scope != "" {
		msg = "[" + l.scope + "] " + msg
	}
	fullMsg := fmt.Sprintf("%s [%s] %s", timestamp, prefix, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.out.Println(fullMsg)

	// Debug stays out of stdout so it does not break the CLI progress line
	if l.includeStdout && lvl >= LevelInfo {
		fmt.Fprintf(l.stdout, "\n%s", fullMsg)
	}
}

func ParseLevel(lvl string) Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(f string, v ...any) { l.log(LevelDebug, "DEBUG", f, v...) }
func (l *Logger) Info(f string, v ...any)  { l.log(LevelInfo, "INFO", f, v...) }
func (l *Logger) Warn(f string, v ...any)  { l.log(LevelWarn, "WARN", f, v...) }
func (l *Logger) Error(f string, v ...any) { l.log(LevelError, "ERROR", f, v...) }
func (l *Logger) Fatal(f string, v ...any) { l.log(LevelFatal, "FATAL", f, v...); os.Exit(1) }

func (l *Logger) Write(p []byte) (n int, err error) {
	// Echo and other libraries often include a newline at the end
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.Info("%s", msg)
	}
	return len(p), nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
